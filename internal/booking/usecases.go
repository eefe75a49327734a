package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/gym-wallet-ledger/internal/money"
	"github.com/matheusmosca/gym-wallet-ledger/internal/notify"
	"github.com/matheusmosca/gym-wallet-ledger/internal/wallet"
)

// recordTimeout bounds the steps that follow a committed settlement.
const recordTimeout = 5 * time.Second

// Settler is the part of the wallet ledger the coordinator depends on.
type Settler interface {
	SettleBooking(ctx context.Context, req wallet.SettlementRequest) (*wallet.Settlement, error)
}

// Coordinator books services: it prices the request from the catalog, settles
// the payment and records the booking.
type Coordinator struct {
	catalog       Catalog
	ledger        Settler
	repository    Repository
	notifications notify.Sink
	logger        *zap.Logger
	tracer        trace.Tracer

	clock func() time.Time
	newID func() string

	bookingCounter metric.Int64Counter
}

func NewCoordinator(
	catalog Catalog,
	ledger Settler,
	repository Repository,
	notifications notify.Sink,
	logger *zap.Logger,
) *Coordinator {
	bookingCounter, _ := otel.Meter("wallet-ledger").Int64Counter("bookings_confirmed_total",
		metric.WithDescription("Bookings settled and recorded"))

	return &Coordinator{
		catalog:        catalog,
		ledger:         ledger,
		repository:     repository,
		notifications:  notifications,
		logger:         logger.Named("booking"),
		tracer:         otel.Tracer("wallet-ledger"),
		clock:          time.Now,
		newID:          uuid.NewString,
		bookingCounter: bookingCounter,
	}
}

// Book settles and records a booking. The booking id doubles as the settlement
// reference, so a retried request never charges the member twice.
func (c *Coordinator) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	if strings.TrimSpace(req.MemberID) == "" || strings.TrimSpace(req.ServiceID) == "" {
		return nil, ErrInvalidRequest
	}

	ctx, span := c.tracer.Start(ctx, "booking.book", trace.WithAttributes(
		attribute.String("member_id", req.MemberID),
		attribute.String("service_id", req.ServiceID),
		attribute.String("request_id", req.RequestID),
	))
	defer span.End()

	b, err := c.book(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Info("booking failed",
			zap.String("member_id", req.MemberID),
			zap.String("service_id", req.ServiceID),
			zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("booking_id", b.ID))
	return b, nil
}

func (c *Coordinator) book(ctx context.Context, req BookingRequest) (*Booking, error) {
	id := req.RequestID
	if id == "" {
		id = c.newID()
	} else {
		existing, err := c.existing(ctx, id, req)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	svc, err := c.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Bookable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrServiceUnavailable, svc.ID, svc.Status)
	}

	settlement, err := c.ledger.SettleBooking(ctx, wallet.SettlementRequest{
		PayerID:   req.MemberID,
		PayeeID:   svc.OwnerUserID,
		Amount:    svc.Price,
		Reference: id,
	})
	if err != nil {
		return nil, err
	}

	b := &Booking{
		ID:          id,
		MemberID:    req.MemberID,
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
		TrainerID:   svc.OwnerUserID,
		Category:    svc.Category,
		Amount:      settlement.Debit.Amount,
		Status:      StatusConfirmed,
		SessionAt:   req.SessionAt.UTC(),
		CreatedAt:   c.clock().UTC().Truncate(time.Microsecond),
	}

	// The member has been charged: recording and notifying must outlive the
	// caller.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := c.repository.Create(ctx, b); err != nil {
		if errors.Is(err, ErrDuplicateBooking) {
			existing, err := c.existing(ctx, id, req)
			if err == nil && existing == nil {
				err = ErrBookingNotFound
			}
			return existing, err
		}
		// The settlement is committed; retrying with the same id replays it
		// and records the booking.
		c.logger.Error("settled booking could not be recorded",
			zap.String("booking_id", id),
			zap.Error(err))
		return nil, err
	}

	c.bookingCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("category", b.Category)))
	c.logger.Info("booking confirmed",
		zap.String("booking_id", b.ID),
		zap.String("member_id", b.MemberID),
		zap.String("trainer_id", b.TrainerID),
		zap.String("amount", money.Format(b.Amount)))

	c.notify(ctx, b, settlement)
	return b, nil
}

// existing returns the booking already recorded under id, or nil when there is
// none. A booking made by another member or for another service is
// ErrRequestConflict.
func (c *Coordinator) existing(ctx context.Context, id string, req BookingRequest) (*Booking, error) {
	b, err := c.repository.Get(ctx, id)
	switch {
	case errors.Is(err, ErrBookingNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	if b.MemberID != req.MemberID || b.ServiceID != req.ServiceID {
		return nil, fmt.Errorf("%w: %s", ErrRequestConflict, id)
	}
	c.logger.Info("booking already recorded", zap.String("booking_id", id))
	return b, nil
}

func (c *Coordinator) notify(ctx context.Context, b *Booking, s *wallet.Settlement) {
	if c.notifications == nil {
		return
	}

	messages := []notify.Notification{
		{
			RecipientUserID: b.TrainerID,
			Text: fmt.Sprintf("New booking for '%s' by member %s. You earned %s",
				b.ServiceName, b.MemberID, money.Format(s.Revenue.Amount)),
		},
		{
			RecipientUserID: b.MemberID,
			Text:            fmt.Sprintf("Training session confirmed for %s!", b.ServiceName),
		},
	}
	for _, n := range messages {
		if err := c.notifications.Enqueue(ctx, n); err != nil {
			c.logger.Warn("failed to enqueue notification",
				zap.String("booking_id", b.ID),
				zap.String("recipient_user_id", n.RecipientUserID),
				zap.Error(err))
		}
	}
}

// MemberBookings lists the bookings made by a member, newest first.
func (c *Coordinator) MemberBookings(ctx context.Context, memberID string) ([]Booking, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, ErrInvalidRequest
	}
	return c.repository.ListByMember(ctx, memberID)
}

// TrainerBookings lists the bookings of a trainer's services, newest first.
func (c *Coordinator) TrainerBookings(ctx context.Context, trainerID string) ([]Booking, error) {
	if strings.TrimSpace(trainerID) == "" {
		return nil, ErrInvalidRequest
	}
	return c.repository.ListByTrainer(ctx, trainerID)
}
