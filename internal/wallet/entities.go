// Package wallet holds user balances and the append-only transaction log, and
// implements deposits and booking settlement on top of them.
package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the balance of a single user.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewWallet returns an empty wallet for userID.
func NewWallet(id, userID string, now time.Time) *Wallet {
	return &Wallet{
		ID:        id,
		UserID:    userID,
		Balance:   decimal.Zero,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Kind is the type of a ledger entry.
type Kind string

const (
	KindDeposit          Kind = "DEPOSIT"
	KindBookingDebit     Kind = "BOOKING_DEBIT"
	KindRevenueCredit    Kind = "REVENUE_CREDIT"
	KindCommissionCredit Kind = "COMMISSION_CREDIT"
)

// settlementKinds are the entry kinds written by a booking settlement.
func settlementKinds() []string {
	return []string{
		string(KindBookingDebit),
		string(KindRevenueCredit),
		string(KindCommissionCredit),
	}
}

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// InternalGateway is the gateway recorded on settlement legs, which move money
// between wallets without an external payment provider.
const InternalGateway = "WALLET"

// Reference prefixes of the three settlement legs.
const (
	debitPrefix      = "BK-"
	revenuePrefix    = "REV-"
	commissionPrefix = "COM-"
)

// Transaction is one immutable ledger entry owned by a wallet.
type Transaction struct {
	ID               string          `json:"id"`
	WalletID         string          `json:"wallet_id"`
	Amount           decimal.Decimal `json:"amount"`
	Kind             Kind            `json:"kind"`
	Status           Status          `json:"status"`
	Gateway          string          `json:"gateway"`
	GatewayReference string          `json:"gateway_reference"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewTransaction returns a SUCCESS entry. Entries are only ever written once
// their balance change is applied in the same storage transaction.
func NewTransaction(id, walletID string, amount decimal.Decimal, kind Kind, gateway, reference string, now time.Time) *Transaction {
	return &Transaction{
		ID:               id,
		WalletID:         walletID,
		Amount:           amount,
		Kind:             kind,
		Status:           StatusSuccess,
		Gateway:          gateway,
		GatewayReference: reference,
		CreatedAt:        now,
	}
}

// DepositRequest is a top-up already confirmed by an external payment gateway.
type DepositRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Gateway   string          `json:"gateway"`
	Reference string          `json:"reference"`
}

// SettlementRequest moves Amount from the payer to the payee, minus the
// platform commission.
type SettlementRequest struct {
	PayerID   string          `json:"payer_id"`
	PayeeID   string          `json:"payee_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// Settlement is the committed result of a SettleBooking call.
type Settlement struct {
	Reference  string       `json:"reference"`
	Debit      *Transaction `json:"debit"`
	Revenue    *Transaction `json:"revenue"`
	// Commission is nil when no platform leg was written: the platform account
	// is unavailable or the rounded commission is zero.
	Commission *Transaction `json:"commission,omitempty"`

	// Replayed is set when the reference had already been settled and the
	// stored legs were returned without writing anything.
	Replayed bool `json:"replayed"`
}

// Legs returns the committed transactions in debit, revenue, commission order.
func (s *Settlement) Legs() []Transaction {
	legs := []Transaction{*s.Debit, *s.Revenue}
	if s.Commission != nil {
		legs = append(legs, *s.Commission)
	}
	return legs
}
