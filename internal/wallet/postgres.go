package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/gym-wallet-ledger/internal/money"
)

// PostgresRepository implements Repository on PostgreSQL. Transactions run at
// READ COMMITTED and serialize on wallet row locks.
type PostgresRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepository returns a repository backed by db. lockTimeout bounds
// how long a transaction waits for a wallet row lock; zero keeps the server
// default.
func NewPostgresRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// PostgresTx implements Tx.
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return classifyPostgres(t.tx.Commit(context.Background()))
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", classifyPostgres(err))
	}

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("set lock timeout: %w", classifyPostgres(err))
		}
	}

	return &PostgresTx{tx: tx}, nil
}

const pgWalletColumns = `id::text, user_id, balance::text, version, created_at, updated_at`

const pgTransactionColumns = `id::text, wallet_id::text, amount::text, kind, status, gateway, gateway_reference, created_at`

const pgInsertWallet = `
	INSERT INTO wallets (id, user_id, balance, version, created_at, updated_at)
	VALUES ($1, $2, $3::numeric, $4, $5, $5)
	ON CONFLICT (user_id) DO NOTHING
`

func pgInsertWalletArgs(userID string, now time.Time) []any {
	w := NewWallet(uuid.NewString(), userID, now)
	return []any{w.ID, w.UserID, money.Format(w.Balance), w.Version, w.CreatedAt}
}

func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if _, err := r.db.Exec(ctx, pgInsertWallet, pgInsertWalletArgs(userID, now)...); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", classifyPostgres(err))
	}

	row := r.db.QueryRow(ctx, `SELECT `+pgWalletColumns+` FROM wallets WHERE user_id = $1`, userID)
	w, err := scanPgWallet(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", classifyPostgres(err))
	}
	return w, nil
}

// LockWallets obtains each wallet with a pessimistic lock (SELECT FOR UPDATE),
// one row at a time in ascending user id order.
func (r *PostgresRepository) LockWallets(ctx context.Context, tx Tx, userIDs []string) (map[string]*Wallet, error) {
	pgTx := tx.(*PostgresTx).tx
	now := time.Now().UTC().Truncate(time.Microsecond)

	wallets := make(map[string]*Wallet, len(userIDs))
	for _, userID := range lockOrder(userIDs) {
		if _, err := pgTx.Exec(ctx, pgInsertWallet, pgInsertWalletArgs(userID, now)...); err != nil {
			return nil, fmt.Errorf("failed to create wallet: %w", classifyPostgres(err))
		}

		row := pgTx.QueryRow(ctx, `
			SELECT `+pgWalletColumns+`
			FROM wallets
			WHERE user_id = $1
			FOR UPDATE
		`, userID)
		w, err := scanPgWallet(row)
		if err != nil {
			return nil, fmt.Errorf("failed to get wallet with lock: %w", classifyPostgres(err))
		}
		wallets[userID] = w
	}
	return wallets, nil
}

func (r *PostgresRepository) UpdateBalance(ctx context.Context, tx Tx, w *Wallet) error {
	pgTx := tx.(*PostgresTx).tx
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := pgTx.Exec(ctx, `
		UPDATE wallets
		SET balance = $1::numeric,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
	`, money.Format(w.Balance), now, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", classifyPostgres(err))
	}

	w.Version++
	w.UpdatedAt = now
	return nil
}

func (r *PostgresRepository) InsertTransaction(ctx context.Context, tx Tx, t *Transaction) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO transactions (id, wallet_id, amount, kind, status, gateway, gateway_reference, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
	`, t.ID, t.WalletID, money.Format(t.Amount), string(t.Kind), string(t.Status), t.Gateway, t.GatewayReference, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", classifyPostgres(err))
	}
	return nil
}

func (r *PostgresRepository) FindDeposit(ctx context.Context, tx Tx, gateway, reference string) (*Transaction, error) {
	pgTx := tx.(*PostgresTx).tx

	row := pgTx.QueryRow(ctx, `
		SELECT `+pgTransactionColumns+`
		FROM transactions
		WHERE kind = 'DEPOSIT' AND gateway = $1 AND gateway_reference = $2
	`, gateway, reference)
	t, err := scanPgTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deposit: %w", classifyPostgres(err))
	}
	return t, nil
}

func (r *PostgresRepository) FindSettlementLegs(ctx context.Context, tx Tx, refs []string) ([]Transaction, error) {
	pgTx := tx.(*PostgresTx).tx

	rows, err := pgTx.Query(ctx, `
		SELECT `+pgTransactionColumns+`
		FROM transactions
		WHERE gateway = $1
		  AND gateway_reference = ANY($2)
		  AND kind = ANY($3)
	`, InternalGateway, refs, settlementKinds())
	if err != nil {
		return nil, fmt.Errorf("failed to find settlement: %w", classifyPostgres(err))
	}
	return collectPgTransactions(rows)
}

func (r *PostgresRepository) ListTransactionsByWallet(ctx context.Context, walletID string) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+pgTransactionColumns+`
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", classifyPostgres(err))
	}
	return collectPgTransactions(rows)
}

func (r *PostgresRepository) ListTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+pgTransactionColumns+`
		FROM transactions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", classifyPostgres(err))
	}
	return collectPgTransactions(rows)
}

func scanPgWallet(row pgx.Row) (*Wallet, error) {
	var (
		w       Wallet
		balance string
	)
	if err := row.Scan(&w.ID, &w.UserID, &balance, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}

	b, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("wallet %s balance %q: %w", w.ID, balance, err)
	}
	w.Balance = b
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

func scanPgTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t            Transaction
		amount       string
		kind, status string
	)
	err := row.Scan(&t.ID, &t.WalletID, &amount, &kind, &status, &t.Gateway, &t.GatewayReference, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	a, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s amount %q: %w", t.ID, amount, err)
	}
	t.Amount = a
	t.Kind = Kind(kind)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func collectPgTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()

	transactions := []Transaction{}
	for rows.Next() {
		t, err := scanPgTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", classifyPostgres(err))
	}
	return transactions, nil
}

// classifyPostgres maps PostgreSQL failures onto the retryable storage errors.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return conflict(err)
		case "55P03", "57014":
			return timeout(err)
		}
	}
	if pgconn.Timeout(err) {
		return timeout(err)
	}
	return classifyContext(err)
}
