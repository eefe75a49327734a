// Package booking turns a member's booking request into a settled, recorded
// booking and notifies both parties.
package booking

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest     = errors.New("member and service are required")
	ErrServiceNotFound    = errors.New("service not found")
	ErrServiceUnavailable = errors.New("service is not open for booking")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrDuplicateBooking   = errors.New("booking already exists")
	ErrRequestConflict    = errors.New("request id already used by another booking")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// Booking is a member's reservation of a trainer's service.
type Booking struct {
	ID          string          `json:"id"`
	MemberID    string          `json:"member_id"`
	ServiceID   string          `json:"service_id"`
	ServiceName string          `json:"service_name"`
	TrainerID   string          `json:"trainer_id"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	SessionAt   time.Time       `json:"session_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BookingRequest is a member asking to book a service. RequestID, when set,
// identifies the booking across client retries.
type BookingRequest struct {
	RequestID string    `json:"request_id"`
	MemberID  string    `json:"member_id"`
	ServiceID string    `json:"service_id"`
	SessionAt time.Time `json:"session_at"`
}

// ServiceStatusApproved is the catalog status of services that can be booked.
const ServiceStatusApproved = "APPROVED"

// Service is the catalog view of a bookable offering.
type Service struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	OwnerUserID string          `json:"owner_user_id"`
	Status      string          `json:"status"`
}

// Bookable reports whether the catalog allows booking the service. Services
// without a status are treated as approved.
func (s *Service) Bookable() bool {
	return s.Status == "" || s.Status == ServiceStatusApproved
}
