package booking

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/gym-wallet-ledger/internal/wallet"
)

// Handler exposes the coordinator over HTTP.
type Handler struct {
	coordinator *Coordinator
	tracer      trace.Tracer
}

func NewHandler(coordinator *Coordinator, tracer trace.Tracer) *Handler {
	return &Handler{
		coordinator: coordinator,
		tracer:      tracer,
	}
}

func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/bookings", h.CreateBooking)
	api.GET("/bookings/member/:user_id", h.GetMemberBookings)
	api.GET("/bookings/trainer/:user_id", h.GetTrainerBookings)
}

type createBookingBody struct {
	RequestID string    `json:"request_id"`
	MemberID  string    `json:"member_id" binding:"required"`
	ServiceID string    `json:"service_id" binding:"required"`
	SessionAt time.Time `json:"session_at"`
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var body createBookingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Idempotency-Key takes precedence so that gateways can retry blindly.
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		body.RequestID = key
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "create_booking")
	defer span.End()
	span.SetAttributes(
		attribute.String("member_id", body.MemberID),
		attribute.String("service_id", body.ServiceID),
	)

	b, err := h.coordinator.Book(ctx, BookingRequest{
		RequestID: body.RequestID,
		MemberID:  body.MemberID,
		ServiceID: body.ServiceID,
		SessionAt: body.SessionAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetMemberBookings(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_member_bookings")
	defer span.End()

	bookings, err := h.coordinator.MemberBookings(ctx, c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *Handler) GetTrainerBookings(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_trainer_bookings")
	defer span.End()

	bookings, err := h.coordinator.TrainerBookings(ctx, c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrRequestConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		wallet.RespondError(c, err)
	}
}
