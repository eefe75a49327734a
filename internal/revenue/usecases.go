// Package revenue reports platform earnings from the transaction log and the
// booking records. It never writes.
package revenue

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/gym-wallet-ledger/internal/booking"
	"github.com/matheusmosca/gym-wallet-ledger/internal/money"
	"github.com/matheusmosca/gym-wallet-ledger/internal/wallet"
)

// MonthsInSeries is the number of calendar months in the monthly series.
const MonthsInSeries = 6

const monthLabelLayout = "Jan 2006"

// TransactionSource lists every ledger transaction.
type TransactionSource interface {
	AllTransactions(ctx context.Context) ([]wallet.Transaction, error)
}

// BookingSource lists every booking record.
type BookingSource interface {
	List(ctx context.Context) ([]booking.Booking, error)
}

type Summary struct {
	TotalVolume     decimal.Decimal `json:"total_volume"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalBookings   int             `json:"total_bookings"`
}

type MonthlyRevenue struct {
	Month   string          `json:"month"`
	Start   time.Time       `json:"start"`
	Revenue decimal.Decimal `json:"revenue"`
}

type Report struct {
	Summary
	MonthlyRevenue  []MonthlyRevenue           `json:"monthly_revenue"`
	CategoryRevenue map[string]decimal.Decimal `json:"category_revenue"`
}

type Aggregator struct {
	transactions TransactionSource
	bookings     BookingSource
	logger       *zap.Logger
	tracer       trace.Tracer
	clock        func() time.Time
}

func NewAggregator(transactions TransactionSource, bookings BookingSource, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		transactions: transactions,
		bookings:     bookings,
		logger:       logger.Named("revenue"),
		tracer:       otel.Tracer("wallet-ledger"),
		clock:        time.Now,
	}
}

// Summary totals deposits and booking debits as volume, and commission legs as
// platform revenue.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	ctx, span := a.tracer.Start(ctx, "revenue.summary")
	defer span.End()

	transactions, err := a.transactions.AllTransactions(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load transactions: %w", err)
	}
	bookings, err := a.bookings.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load bookings: %w", err)
	}
	return summarize(transactions, bookings), nil
}

// MonthlySeries returns the commission earned in each of the last
// MonthsInSeries calendar months (UTC), oldest first, current month included.
func (a *Aggregator) MonthlySeries(ctx context.Context) ([]MonthlyRevenue, error) {
	ctx, span := a.tracer.Start(ctx, "revenue.monthly_series")
	defer span.End()

	transactions, err := a.transactions.AllTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	return monthlySeries(transactions, a.clock()), nil
}

// ByCategory estimates commission per service category from booking amounts.
// It can differ from the ledger's commission legs when a settlement skipped
// the platform credit.
func (a *Aggregator) ByCategory(ctx context.Context) (map[string]decimal.Decimal, error) {
	ctx, span := a.tracer.Start(ctx, "revenue.by_category")
	defer span.End()

	bookings, err := a.bookings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	return byCategory(bookings), nil
}

// Report combines the summary, the monthly series and the category split
// computed from a single read of each source.
func (a *Aggregator) Report(ctx context.Context) (*Report, error) {
	ctx, span := a.tracer.Start(ctx, "revenue.report")
	defer span.End()

	transactions, err := a.transactions.AllTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	bookings, err := a.bookings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}

	r := &Report{
		Summary:         summarize(transactions, bookings),
		MonthlyRevenue:  monthlySeries(transactions, a.clock()),
		CategoryRevenue: byCategory(bookings),
	}
	a.logger.Debug("revenue report built",
		zap.Int("transactions", len(transactions)),
		zap.Int("bookings", len(bookings)))
	return r, nil
}

func summarize(transactions []wallet.Transaction, bookings []booking.Booking) Summary {
	s := Summary{
		TotalVolume:     decimal.Zero,
		TotalCommission: decimal.Zero,
		TotalBookings:   len(bookings),
	}
	for _, t := range transactions {
		if t.Status != wallet.StatusSuccess {
			continue
		}
		switch t.Kind {
		case wallet.KindDeposit, wallet.KindBookingDebit:
			s.TotalVolume = s.TotalVolume.Add(t.Amount)
		case wallet.KindCommissionCredit:
			s.TotalCommission = s.TotalCommission.Add(t.Amount)
		}
	}
	return s
}

func monthlySeries(transactions []wallet.Transaction, now time.Time) []MonthlyRevenue {
	now = now.UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	series := make([]MonthlyRevenue, MonthsInSeries)
	for i := range series {
		start := current.AddDate(0, i-(MonthsInSeries-1), 0)
		series[i] = MonthlyRevenue{
			Month:   start.Format(monthLabelLayout),
			Start:   start,
			Revenue: decimal.Zero,
		}
	}

	for _, t := range transactions {
		if t.Kind != wallet.KindCommissionCredit || t.Status != wallet.StatusSuccess {
			continue
		}
		at := t.CreatedAt.UTC()
		for i := range series {
			end := series[i].Start.AddDate(0, 1, 0)
			if !at.Before(series[i].Start) && at.Before(end) {
				series[i].Revenue = series[i].Revenue.Add(t.Amount)
				break
			}
		}
	}
	return series
}

func byCategory(bookings []booking.Booking) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, b := range bookings {
		total, ok := out[b.Category]
		if !ok {
			total = decimal.Zero
		}
		out[b.Category] = total.Add(money.Commission(b.Amount))
	}
	return out
}
