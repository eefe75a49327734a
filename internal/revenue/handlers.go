package revenue

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	aggregator *Aggregator
	logger     *zap.Logger
}

func NewHandler(aggregator *Aggregator, logger *zap.Logger) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     logger,
	}
}

// RegisterRoutes mounts the reports under admin.
func (h *Handler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/revenue", h.GetReport)
	admin.GET("/revenue/summary", h.GetSummary)
	admin.GET("/revenue/monthly", h.GetMonthly)
	admin.GET("/revenue/categories", h.GetByCategory)
}

func (h *Handler) GetReport(c *gin.Context) {
	r, err := h.aggregator.Report(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) GetSummary(c *gin.Context) {
	s, err := h.aggregator.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) GetMonthly(c *gin.Context) {
	series, err := h.aggregator.MonthlySeries(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"monthly_revenue": series})
}

func (h *Handler) GetByCategory(c *gin.Context) {
	categories, err := h.aggregator.ByCategory(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category_revenue": categories})
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.logger.Error("revenue report failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build revenue report"})
}
