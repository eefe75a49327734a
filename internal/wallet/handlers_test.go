package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := newTestLedger(t, newTestRepository(t), StaticPlatformAccount(platformUser), nil)
	h := NewHandler(l, noop.NewTracerProvider().Tracer("test"))

	router := gin.New()
	h.RegisterRoutes(router.Group("/api"), router.Group("/api/admin"))
	return router
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_DepositAndReadBack(t *testing.T) {
	// Arrange
	router := newTestRouter(t)

	// Act
	created := perform(router, http.MethodPost, "/api/wallets/member/deposits",
		`{"amount": "250.50", "gateway": "UPI", "reference": "R1"}`)
	wallet := perform(router, http.MethodGet, "/api/wallets/member", "")
	history := perform(router, http.MethodGet, "/api/wallets/member/transactions", "")
	audit := perform(router, http.MethodGet, "/api/admin/transactions", "")

	// Assert
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	var w Wallet
	require.NoError(t, json.Unmarshal(wallet.Body.Bytes(), &w))
	assert.Equal(t, "250.50", w.Balance.StringFixed(2))

	var page struct {
		Transactions []Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(history.Body.Bytes(), &page))
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, KindDeposit, page.Transactions[0].Kind)

	require.Equal(t, http.StatusOK, audit.Code)
	require.NoError(t, json.Unmarshal(audit.Body.Bytes(), &page))
	assert.Len(t, page.Transactions, 1)
}

func TestHandler_DepositRejectsInvalidInput(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"amount":`, http.StatusBadRequest},
		{"missing reference", `{"amount": "10", "gateway": "UPI"}`, http.StatusBadRequest},
		{"zero amount", `{"amount": "0", "gateway": "UPI", "reference": "R1"}`, http.StatusBadRequest},
		{"too precise", `{"amount": "1.001", "gateway": "UPI", "reference": "R2"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(router, http.MethodPost, "/api/wallets/member/deposits", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrInvalidAmount, http.StatusBadRequest},
		{ErrSelfSettlement, http.StatusBadRequest},
		{ErrInvalidReference, http.StatusBadRequest},
		{ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ErrUserNotFound, http.StatusNotFound},
		{ErrReferenceConflict, http.StatusConflict},
		{conflict(errors.New("deadlock")), http.StatusConflict},
		{timeout(errors.New("lock wait")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(fmt.Errorf("op: %w", tt.err)))
		})
	}
}
