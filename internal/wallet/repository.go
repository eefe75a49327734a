package wallet

import (
	"context"
	"sort"
)

// Repository is the wallet store and transaction log. Methods taking a Tx run
// inside the caller's storage transaction; the others use their own connection
// and must not be called while a Tx is open on a single-connection store.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	// GetOrCreateWallet returns the user's wallet, creating an empty one on
	// first access. Concurrent first accesses resolve to the same row.
	GetOrCreateWallet(ctx context.Context, userID string) (*Wallet, error)
	// LockWallets get-or-creates and row-locks the wallets of userIDs in
	// ascending user id order, returning them keyed by user id.
	LockWallets(ctx context.Context, tx Tx, userIDs []string) (map[string]*Wallet, error)
	// UpdateBalance writes w.Balance and bumps the version.
	UpdateBalance(ctx context.Context, tx Tx, w *Wallet) error

	InsertTransaction(ctx context.Context, tx Tx, t *Transaction) error
	// FindDeposit returns the DEPOSIT entry for (gateway, reference) or errNotFound.
	FindDeposit(ctx context.Context, tx Tx, gateway, reference string) (*Transaction, error)
	// FindSettlementLegs returns the internal-gateway entries whose reference is
	// one of refs. Missing references are not an error.
	FindSettlementLegs(ctx context.Context, tx Tx, refs []string) ([]Transaction, error)

	ListTransactionsByWallet(ctx context.Context, walletID string) ([]Transaction, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)
}

// Tx is an open storage transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// lockOrder returns the distinct non-empty ids sorted ascending, the order in
// which every transaction acquires wallet row locks.
func lockOrder(userIDs []string) []string {
	seen := make(map[string]struct{}, len(userIDs))
	ordered := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	return ordered
}
