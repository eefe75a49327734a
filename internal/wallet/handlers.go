package wallet

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler exposes the ledger over HTTP.
type Handler struct {
	ledger *Ledger
	tracer trace.Tracer
}

func NewHandler(ledger *Ledger, tracer trace.Tracer) *Handler {
	return &Handler{
		ledger: ledger,
		tracer: tracer,
	}
}

// RegisterRoutes mounts the wallet endpoints on api and the audit listing on admin.
func (h *Handler) RegisterRoutes(api, admin *gin.RouterGroup) {
	api.GET("/wallets/:user_id", h.GetWallet)
	api.GET("/wallets/:user_id/transactions", h.GetHistory)
	api.POST("/wallets/:user_id/deposits", h.Deposit)
	admin.GET("/transactions", h.GetAllTransactions)
}

type depositBody struct {
	Amount    decimal.Decimal `json:"amount"`
	Gateway   string          `json:"gateway" binding:"required"`
	Reference string          `json:"reference" binding:"required"`
}

func (h *Handler) GetWallet(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_wallet")
	defer span.End()

	userID := c.Param("user_id")
	span.SetAttributes(attribute.String("user_id", userID))

	w, err := h.ledger.Wallet(ctx, userID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) GetHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_history")
	defer span.End()

	userID := c.Param("user_id")
	span.SetAttributes(attribute.String("user_id", userID))

	transactions, err := h.ledger.History(ctx, userID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (h *Handler) Deposit(c *gin.Context) {
	var body depositBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "deposit")
	defer span.End()

	req := DepositRequest{
		UserID:    c.Param("user_id"),
		Amount:    body.Amount,
		Gateway:   body.Gateway,
		Reference: body.Reference,
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("gateway", req.Gateway),
		attribute.String("reference", req.Reference),
	)

	t, err := h.ledger.Deposit(ctx, req)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetAllTransactions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_all_transactions")
	defer span.End()

	transactions, err := h.ledger.AllTransactions(ctx)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

// HTTPStatus maps ledger errors to response codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReferenceConflict), errors.Is(err, ErrStorageConflict):
		return http.StatusConflict
	case errors.Is(err, ErrStorageTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfSettlement),
		errors.Is(err, ErrInvalidReference):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RespondError writes err with its mapped status. Unexpected errors are not
// echoed to the client.
func RespondError(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
