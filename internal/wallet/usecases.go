package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/gym-wallet-ledger/internal/alert"
	"github.com/matheusmosca/gym-wallet-ledger/internal/money"
)

// PlatformAccount resolves the user that receives booking commissions.
type PlatformAccount interface {
	PlatformUserID() (string, bool)
}

// StaticPlatformAccount is a platform user id fixed at startup. An empty value
// means no platform account is configured.
type StaticPlatformAccount string

func (p StaticPlatformAccount) PlatformUserID() (string, bool) {
	id := strings.TrimSpace(string(p))
	return id, id != ""
}

type LedgerConfig struct {
	// OpTimeout bounds each public operation, retries included.
	OpTimeout time.Duration
	// MaxRetries is how many times a storage conflict is retried before it is
	// returned to the caller.
	MaxRetries int
}

// Ledger applies deposits and booking settlements atomically.
type Ledger struct {
	repository Repository
	platform   PlatformAccount
	alerts     alert.Publisher
	logger     *zap.Logger
	tracer     trace.Tracer
	cfg        LedgerConfig

	clock func() time.Time
	newID func() string

	depositCounter           metric.Int64Counter
	settlementCounter        metric.Int64Counter
	insufficientFundsCounter metric.Int64Counter
	conflictRetryCounter     metric.Int64Counter
	commissionSkippedCounter metric.Int64Counter
}

func NewLedger(
	repository Repository,
	platform PlatformAccount,
	alerts alert.Publisher,
	logger *zap.Logger,
	cfg LedgerConfig,
) *Ledger {
	meter := otel.Meter("wallet-ledger")

	depositCounter, _ := meter.Int64Counter("ledger_deposits_total",
		metric.WithDescription("Deposits applied to a wallet"))
	settlementCounter, _ := meter.Int64Counter("ledger_settlements_total",
		metric.WithDescription("Booking settlements committed"))
	insufficientFundsCounter, _ := meter.Int64Counter("ledger_insufficient_funds_total",
		metric.WithDescription("Settlements rejected for insufficient balance"))
	conflictRetryCounter, _ := meter.Int64Counter("ledger_conflict_retries_total",
		metric.WithDescription("Operations retried after a storage conflict"))
	commissionSkippedCounter, _ := meter.Int64Counter("ledger_commission_skipped_total",
		metric.WithDescription("Settlements committed without a platform commission leg"))

	return &Ledger{
		repository:               repository,
		platform:                 platform,
		alerts:                   alerts,
		logger:                   logger.Named("ledger"),
		tracer:                   otel.Tracer("wallet-ledger"),
		cfg:                      cfg,
		clock:                    time.Now,
		newID:                    uuid.NewString,
		depositCounter:           depositCounter,
		settlementCounter:        settlementCounter,
		insufficientFundsCounter: insufficientFundsCounter,
		conflictRetryCounter:     conflictRetryCounter,
		commissionSkippedCounter: commissionSkippedCounter,
	}
}

// Deposit credits an externally confirmed top-up. A (gateway, reference) pair
// is applied at most once: repeating it returns the stored transaction.
func (l *Ledger) Deposit(ctx context.Context, req DepositRequest) (*Transaction, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUserNotFound
	}
	if err := money.Validate(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if strings.TrimSpace(req.Gateway) == "" || strings.TrimSpace(req.Reference) == "" {
		return nil, ErrInvalidReference
	}
	// The internal gateway namespace belongs to settlement legs.
	if strings.EqualFold(strings.TrimSpace(req.Gateway), InternalGateway) {
		return nil, fmt.Errorf("%w: gateway %s is reserved", ErrInvalidReference, InternalGateway)
	}

	ctx, cancel := l.operationContext(ctx)
	defer cancel()

	ctx, span := l.tracer.Start(ctx, "ledger.deposit", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("amount", money.Format(req.Amount)),
		attribute.String("gateway", req.Gateway),
		attribute.String("reference", req.Reference),
	))
	defer span.End()

	var result *Transaction
	err := l.withRetry(ctx, "deposit", func() error {
		t, err := l.deposit(ctx, req)
		result = t
		return err
	})
	if err != nil {
		l.fail(span, err)
		l.logger.Info("deposit failed",
			zap.String("user_id", req.UserID),
			zap.String("reference", req.Reference),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (l *Ledger) deposit(ctx context.Context, req DepositRequest) (*Transaction, error) {
	tx, err := l.repository.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wallets, err := l.repository.LockWallets(ctx, tx, []string{req.UserID})
	if err != nil {
		return nil, err
	}
	w := wallets[req.UserID]

	existing, err := l.repository.FindDeposit(ctx, tx, req.Gateway, req.Reference)
	switch {
	case err == nil:
		if existing.WalletID != w.ID {
			return nil, ErrReferenceConflict
		}
		l.logger.Info("deposit already applied",
			zap.String("user_id", req.UserID),
			zap.String("transaction_id", existing.ID),
			zap.String("reference", req.Reference))
		return existing, nil
	case !errors.Is(err, errNotFound):
		return nil, err
	}

	w.Balance = w.Balance.Add(req.Amount)
	if err := l.repository.UpdateBalance(ctx, tx, w); err != nil {
		return nil, err
	}

	t := NewTransaction(l.newID(), w.ID, req.Amount, KindDeposit, req.Gateway, req.Reference, l.now())
	if err := l.repository.InsertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deposit: %w", err)
	}

	l.depositCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("gateway", req.Gateway)))
	l.logger.Info("deposit applied",
		zap.String("user_id", req.UserID),
		zap.String("amount", money.Format(req.Amount)),
		zap.String("balance", money.Format(w.Balance)),
		zap.String("reference", req.Reference))
	return t, nil
}

// SettleBooking debits the payer and splits the amount between the payee and
// the platform account in a single storage transaction. Repeating a reference
// returns the legs committed the first time.
func (l *Ledger) SettleBooking(ctx context.Context, req SettlementRequest) (*Settlement, error) {
	if strings.TrimSpace(req.PayerID) == "" || strings.TrimSpace(req.PayeeID) == "" {
		return nil, ErrUserNotFound
	}
	if req.PayerID == req.PayeeID {
		return nil, ErrSelfSettlement
	}
	if err := money.Validate(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if req.Reference == "" {
		req.Reference = l.newID()
	}

	platformID, skipReason := l.resolvePlatform(req)

	ctx, cancel := l.operationContext(ctx)
	defer cancel()

	ctx, span := l.tracer.Start(ctx, "ledger.settle_booking", trace.WithAttributes(
		attribute.String("payer_id", req.PayerID),
		attribute.String("payee_id", req.PayeeID),
		attribute.String("amount", money.Format(req.Amount)),
		attribute.String("reference", req.Reference),
	))
	defer span.End()

	var result *Settlement
	err := l.withRetry(ctx, "settle_booking", func() error {
		s, err := l.settle(ctx, req, platformID)
		result = s
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			l.insufficientFundsCounter.Add(ctx, 1)
		}
		l.fail(span, err)
		l.logger.Info("settlement failed",
			zap.String("payer_id", req.PayerID),
			zap.String("payee_id", req.PayeeID),
			zap.String("reference", req.Reference),
			zap.Error(err))
		return nil, err
	}

	if result.Replayed {
		span.SetAttributes(attribute.Bool("replayed", true))
		return result, nil
	}

	l.settlementCounter.Add(ctx, 1)
	if skipReason != "" {
		l.reportSkippedCommission(ctx, req, skipReason)
	}
	return result, nil
}

// resolvePlatform returns the platform user to credit, or a non-empty reason
// why the commission leg has to be skipped.
func (l *Ledger) resolvePlatform(req SettlementRequest) (string, string) {
	var (
		id string
		ok bool
	)
	if l.platform != nil {
		id, ok = l.platform.PlatformUserID()
	}

	switch {
	case !ok:
		return "", "no platform account configured"
	case id == req.PayerID:
		return "", "platform account is the payer"
	case id == req.PayeeID:
		return "", "platform account is the payee"
	}
	return id, ""
}

func (l *Ledger) settle(ctx context.Context, req SettlementRequest, platformID string) (*Settlement, error) {
	tx, err := l.repository.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wallets, err := l.repository.LockWallets(ctx, tx, []string{req.PayerID, req.PayeeID, platformID})
	if err != nil {
		return nil, err
	}
	payer, payee := wallets[req.PayerID], wallets[req.PayeeID]

	legs, err := l.repository.FindSettlementLegs(ctx, tx, legReferences(req.Reference))
	if err != nil {
		return nil, err
	}
	if len(legs) > 0 {
		return replayedSettlement(req, payer, payee, legs)
	}

	if payer.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds
	}

	net, commission := money.Split(req.Amount)
	if platformID == "" {
		net, commission = req.Amount, decimal.Zero
	}
	now := l.now()

	payer.Balance = payer.Balance.Sub(req.Amount)
	if err := l.repository.UpdateBalance(ctx, tx, payer); err != nil {
		return nil, err
	}
	payee.Balance = payee.Balance.Add(net)
	if err := l.repository.UpdateBalance(ctx, tx, payee); err != nil {
		return nil, err
	}

	s := &Settlement{
		Reference: req.Reference,
		Debit:     NewTransaction(l.newID(), payer.ID, req.Amount, KindBookingDebit, InternalGateway, debitPrefix+req.Reference, now),
		Revenue:   NewTransaction(l.newID(), payee.ID, net, KindRevenueCredit, InternalGateway, revenuePrefix+req.Reference, now),
	}

	if commission.IsPositive() {
		platform := wallets[platformID]
		platform.Balance = platform.Balance.Add(commission)
		if err := l.repository.UpdateBalance(ctx, tx, platform); err != nil {
			return nil, err
		}
		s.Commission = NewTransaction(l.newID(), platform.ID, commission, KindCommissionCredit, InternalGateway, commissionPrefix+req.Reference, now)
	}

	for _, t := range []*Transaction{s.Debit, s.Revenue, s.Commission} {
		if t == nil {
			continue
		}
		if err := l.repository.InsertTransaction(ctx, tx, t); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	l.logger.Info("booking settled",
		zap.String("reference", req.Reference),
		zap.String("payer_id", req.PayerID),
		zap.String("payee_id", req.PayeeID),
		zap.String("amount", money.Format(req.Amount)),
		zap.String("revenue", money.Format(net)),
		zap.String("commission", money.Format(commission)))
	return s, nil
}

func legReferences(reference string) []string {
	return []string{
		debitPrefix + reference,
		revenuePrefix + reference,
		commissionPrefix + reference,
	}
}

// replayedSettlement rebuilds a committed settlement from its stored legs. The
// reference must have been settled for the same payer, payee and amount.
func replayedSettlement(req SettlementRequest, payer, payee *Wallet, legs []Transaction) (*Settlement, error) {
	s := &Settlement{Reference: req.Reference, Replayed: true}
	for i := range legs {
		leg := legs[i]
		switch leg.Kind {
		case KindBookingDebit:
			s.Debit = &leg
		case KindRevenueCredit:
			s.Revenue = &leg
		case KindCommissionCredit:
			s.Commission = &leg
		}
	}

	if s.Debit == nil || s.Revenue == nil {
		return nil, fmt.Errorf("settlement %s is incomplete: %w", req.Reference, ErrReferenceConflict)
	}
	if s.Debit.WalletID != payer.ID || s.Revenue.WalletID != payee.ID || !s.Debit.Amount.Equal(req.Amount) {
		return nil, fmt.Errorf("settlement %s belongs to another booking: %w", req.Reference, ErrReferenceConflict)
	}
	return s, nil
}

func (l *Ledger) reportSkippedCommission(ctx context.Context, req SettlementRequest, reason string) {
	commission := money.Commission(req.Amount)
	l.commissionSkippedCounter.Add(ctx, 1)

	a := alert.Alert{
		Kind:      alert.KindPlatformAccountMissing,
		Message:   "settlement committed without platform commission: " + reason,
		Reference: req.Reference,
		Fields: map[string]string{
			"payer_id":   req.PayerID,
			"payee_id":   req.PayeeID,
			"amount":     money.Format(req.Amount),
			"commission": money.Format(commission),
		},
		At: l.now(),
	}
	if l.alerts == nil {
		l.logger.Warn(a.Message, zap.String("reference", req.Reference))
		return
	}
	if err := l.alerts.Publish(ctx, a); err != nil {
		l.logger.Error("failed to publish alert",
			zap.String("reference", req.Reference),
			zap.Error(err))
	}
}

// History returns the user's transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID string) ([]Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserNotFound
	}

	ctx, cancel := l.operationContext(ctx)
	defer cancel()

	w, err := l.repository.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.repository.ListTransactionsByWallet(ctx, w.ID)
}

// AllTransactions returns every transaction in the ledger, newest first.
// Callers are responsible for restricting it to administrators.
func (l *Ledger) AllTransactions(ctx context.Context) ([]Transaction, error) {
	ctx, cancel := l.operationContext(ctx)
	defer cancel()

	return l.repository.ListTransactions(ctx)
}

// Wallet returns the user's wallet, creating an empty one on first access.
func (l *Ledger) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserNotFound
	}

	ctx, cancel := l.operationContext(ctx)
	defer cancel()

	return l.repository.GetOrCreateWallet(ctx, userID)
}

// operationContext detaches the operation from caller cancellation so that an
// abandoned request cannot abort a settlement halfway, and bounds it by
// OpTimeout instead.
func (l *Ledger) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if l.cfg.OpTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, l.cfg.OpTimeout)
}

// withRetry runs fn again while it fails with ErrStorageConflict, up to
// MaxRetries extra attempts.
func (l *Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrStorageConflict) || attempt >= l.cfg.MaxRetries {
			return err
		}

		l.conflictRetryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		l.logger.Info("retrying after storage conflict",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return timeout(ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
}

func (l *Ledger) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (l *Ledger) now() time.Time {
	return l.clock().UTC().Truncate(time.Microsecond)
}
