package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheusmosca/gym-wallet-ledger/internal/booking"
	"github.com/matheusmosca/gym-wallet-ledger/internal/wallet"
)

type stubTransactions struct {
	transactions []wallet.Transaction
	err          error
}

func (s stubTransactions) AllTransactions(context.Context) ([]wallet.Transaction, error) {
	return s.transactions, s.err
}

type stubBookings struct {
	bookings []booking.Booking
	err      error
}

func (s stubBookings) List(context.Context) ([]booking.Booking, error) {
	return s.bookings, s.err
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tx(kind wallet.Kind, amount string, at time.Time) wallet.Transaction {
	return wallet.Transaction{
		ID:        string(kind) + "-" + amount + "-" + at.Format(time.RFC3339),
		Kind:      kind,
		Amount:    d(amount),
		Status:    wallet.StatusSuccess,
		CreatedAt: at,
	}
}

var july = time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)

func fixtureTransactions() []wallet.Transaction {
	failed := tx(wallet.KindCommissionCredit, "999", july)
	failed.Status = wallet.StatusFailed

	return []wallet.Transaction{
		tx(wallet.KindDeposit, "1000", july.AddDate(0, -1, 0)),
		tx(wallet.KindBookingDebit, "200", july.AddDate(0, -1, 0)),
		tx(wallet.KindRevenueCredit, "170", july.AddDate(0, -1, 0)),
		tx(wallet.KindCommissionCredit, "30", july.AddDate(0, -1, 0)),
		tx(wallet.KindBookingDebit, "300", july),
		tx(wallet.KindRevenueCredit, "255", july),
		tx(wallet.KindCommissionCredit, "45", july),
		failed,
	}
}

func fixtureBookings() []booking.Booking {
	return []booking.Booking{
		{ID: "b1", Category: "CARDIO", Amount: d("200")},
		{ID: "b2", Category: "CARDIO", Amount: d("300")},
		{ID: "b3", Category: "YOGA", Amount: d("99.99")},
	}
}

func newTestAggregator(t *testing.T, transactions TransactionSource, bookings BookingSource) *Aggregator {
	a := NewAggregator(transactions, bookings, zaptest.NewLogger(t))
	a.clock = func() time.Time { return july }
	return a
}

func TestAggregator_Summary(t *testing.T) {
	// Arrange
	a := newTestAggregator(t, stubTransactions{transactions: fixtureTransactions()}, stubBookings{bookings: fixtureBookings()})

	// Act
	s, err := a.Summary(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "75.00", s.TotalCommission.StringFixed(2))
	assert.Equal(t, "1500.00", s.TotalVolume.StringFixed(2))
	assert.Equal(t, 3, s.TotalBookings)
}

func TestAggregator_SummaryEmpty(t *testing.T) {
	a := newTestAggregator(t, stubTransactions{}, stubBookings{})

	s, err := a.Summary(context.Background())

	require.NoError(t, err)
	assert.True(t, s.TotalCommission.IsZero())
	assert.True(t, s.TotalVolume.IsZero())
	assert.Zero(t, s.TotalBookings)
}

func TestAggregator_MonthlySeries(t *testing.T) {
	// Arrange
	transactions := []wallet.Transaction{
		tx(wallet.KindCommissionCredit, "10", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)),
		tx(wallet.KindCommissionCredit, "5", time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)),
		tx(wallet.KindCommissionCredit, "7", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
		tx(wallet.KindCommissionCredit, "100", time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)),
		tx(wallet.KindCommissionCredit, "1", time.Date(2024, 7, 31, 23, 0, 0, 0, time.FixedZone("UTC-3", -3*3600))),
		tx(wallet.KindRevenueCredit, "50", time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)),
	}
	a := newTestAggregator(t, stubTransactions{transactions: transactions}, stubBookings{})

	// Act
	series, err := a.MonthlySeries(context.Background())

	// Assert
	require.NoError(t, err)
	require.Len(t, series, MonthsInSeries)

	got := map[string]string{}
	labels := make([]string, 0, len(series))
	for _, m := range series {
		got[m.Month] = m.Revenue.StringFixed(2)
		labels = append(labels, m.Month)
	}
	assert.Equal(t, []string{"Feb 2024", "Mar 2024", "Apr 2024", "May 2024", "Jun 2024", "Jul 2024"}, labels)
	assert.Equal(t, "10.00", got["Jul 2024"], "the UTC-3 entry falls in August UTC")
	assert.Equal(t, "5.00", got["Jun 2024"])
	assert.Equal(t, "7.00", got["Feb 2024"])
	assert.Equal(t, "0.00", got["Mar 2024"])
}

func TestAggregator_MonthlySeriesAcrossYearBoundary(t *testing.T) {
	a := newTestAggregator(t, stubTransactions{}, stubBookings{})
	a.clock = func() time.Time { return time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC) }

	series, err := a.MonthlySeries(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Sep 2024", series[0].Month)
	assert.Equal(t, "Feb 2025", series[5].Month)
}

func TestAggregator_ByCategory(t *testing.T) {
	a := newTestAggregator(t, stubTransactions{}, stubBookings{bookings: fixtureBookings()})

	categories, err := a.ByCategory(context.Background())

	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "75.00", categories["CARDIO"].StringFixed(2))
	assert.Equal(t, "15.00", categories["YOGA"].StringFixed(2))
}

func TestAggregator_Report(t *testing.T) {
	a := newTestAggregator(t, stubTransactions{transactions: fixtureTransactions()}, stubBookings{bookings: fixtureBookings()})

	r, err := a.Report(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "75.00", r.TotalCommission.StringFixed(2))
	assert.Len(t, r.MonthlyRevenue, MonthsInSeries)
	assert.Equal(t, "45.00", r.MonthlyRevenue[5].Revenue.StringFixed(2))
	assert.Equal(t, "30.00", r.MonthlyRevenue[4].Revenue.StringFixed(2))
	assert.Contains(t, r.CategoryRevenue, "CARDIO")
}

func TestAggregator_SourceErrors(t *testing.T) {
	boom := errors.New("db down")

	_, err := newTestAggregator(t, stubTransactions{err: boom}, stubBookings{}).Summary(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = newTestAggregator(t, stubTransactions{}, stubBookings{err: boom}).Report(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestHandler_Routes(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	a := newTestAggregator(t, stubTransactions{transactions: fixtureTransactions()}, stubBookings{bookings: fixtureBookings()})
	router := gin.New()
	NewHandler(a, zaptest.NewLogger(t)).RegisterRoutes(router.Group("/api/admin"))

	for _, path := range []string{
		"/api/admin/revenue",
		"/api/admin/revenue/summary",
		"/api/admin/revenue/monthly",
		"/api/admin/revenue/categories",
	} {
		t.Run(path, func(t *testing.T) {
			// Act
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			// Assert
			require.Equal(t, http.StatusOK, w.Code)
			var body map[string]any
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body)
		})
	}
}

func TestHandler_SourceFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestAggregator(t, stubTransactions{err: errors.New("db down")}, stubBookings{})
	router := gin.New()
	NewHandler(a, zaptest.NewLogger(t)).RegisterRoutes(router.Group("/api/admin"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/revenue/summary", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
