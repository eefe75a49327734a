package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/matheusmosca/gym-wallet-ledger/internal/wallet"
)

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(f.coordinator, noop.NewTracerProvider().Tracer("test")).RegisterRoutes(router.Group("/api"))
	return router
}

func post(router *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateBookingUsesIdempotencyKey(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.catalog.On("GetService", mock.Anything, "svc-1").Return(hiit, nil)
	f.settler.On("SettleBooking", mock.Anything, mock.MatchedBy(func(req wallet.SettlementRequest) bool {
		return req.Reference == "key-42"
	})).Return(settlementFor("key-42"), nil)
	f.sink.On("Enqueue", mock.Anything, mock.Anything).Return(nil)
	router := newTestRouter(f)

	// Act
	w := post(router, "/api/bookings", `{"member_id": "member", "service_id": "svc-1"}`,
		map[string]string{"Idempotency-Key": "key-42"})

	// Assert
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var b Booking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, "key-42", b.ID)

	list := httptest.NewRecorder()
	router.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/api/bookings/trainer/trainer", nil))
	require.Equal(t, http.StatusOK, list.Code)
	var page struct {
		Bookings []Booking `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &page))
	assert.Len(t, page.Bookings, 1)
}

func TestHandler_CreateBookingErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		setup  func(f *fixture)
		status int
	}{
		{
			name:   "missing member",
			body:   `{"service_id": "svc-1"}`,
			setup:  func(*fixture) {},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown service",
			body: `{"member_id": "member", "service_id": "svc-9"}`,
			setup: func(f *fixture) {
				f.catalog.On("GetService", mock.Anything, "svc-9").Return(nil, ErrServiceNotFound)
			},
			status: http.StatusNotFound,
		},
		{
			name: "insufficient funds",
			body: `{"member_id": "member", "service_id": "svc-1"}`,
			setup: func(f *fixture) {
				f.catalog.On("GetService", mock.Anything, "svc-1").Return(hiit, nil)
				f.settler.On("SettleBooking", mock.Anything, mock.Anything).Return(nil, wallet.ErrInsufficientFunds)
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "request id of another member",
			body: `{"request_id": "req-1", "member_id": "intruder", "service_id": "svc-1"}`,
			setup: func(f *fixture) {
				_ = f.repo.Create(context.Background(), &Booking{
					ID: "req-1", MemberID: "member", ServiceID: "svc-1",
					Amount: hiit.Price, Status: StatusConfirmed, CreatedAt: time.Now(),
				})
			},
			status: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			w := post(newTestRouter(f), "/api/bookings", tt.body, nil)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}
