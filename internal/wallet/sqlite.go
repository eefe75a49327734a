package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/matheusmosca/gym-wallet-ledger/internal/money"
	"github.com/matheusmosca/gym-wallet-ledger/internal/storage"
)

// SQLiteRepository implements Repository on an embedded SQLite database opened
// with storage.OpenSQLite. The database handle holds a single connection, so an
// open Tx excludes every other reader and writer.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SQLiteTx implements Tx.
type SQLiteTx struct {
	tx *sql.Tx
}

func (t *SQLiteTx) Commit() error {
	return classifySQLite(t.tx.Commit())
}

func (t *SQLiteTx) Rollback() error {
	return t.tx.Rollback()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", classifySQLite(err))
	}
	return &SQLiteTx{tx: tx}, nil
}

const sqliteWalletColumns = `id, user_id, balance, version, created_at, updated_at`

const sqliteTransactionColumns = `id, wallet_id, amount, kind, status, gateway, gateway_reference, created_at`

func (r *SQLiteRepository) GetOrCreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	return getOrCreateSQLiteWallet(ctx, r.db, userID)
}

func (r *SQLiteRepository) LockWallets(ctx context.Context, tx Tx, userIDs []string) (map[string]*Wallet, error) {
	sqlTx := tx.(*SQLiteTx).tx

	wallets := make(map[string]*Wallet, len(userIDs))
	for _, userID := range lockOrder(userIDs) {
		w, err := getOrCreateSQLiteWallet(ctx, sqlTx, userID)
		if err != nil {
			return nil, err
		}
		wallets[userID] = w
	}
	return wallets, nil
}

func getOrCreateSQLiteWallet(ctx context.Context, q queryer, userID string) (*Wallet, error) {
	w := NewWallet(uuid.NewString(), userID, time.Now())
	now := storage.FormatTime(w.CreatedAt)
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`, w.ID, w.UserID, money.Format(w.Balance), w.Version, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", classifySQLite(err))
	}

	row := q.QueryRowContext(ctx, `SELECT `+sqliteWalletColumns+` FROM wallets WHERE user_id = ?`, userID)
	stored, err := scanSQLiteWallet(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", classifySQLite(err))
	}
	return stored, nil
}

func (r *SQLiteRepository) UpdateBalance(ctx context.Context, tx Tx, w *Wallet) error {
	sqlTx := tx.(*SQLiteTx).tx
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := sqlTx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ?
	`, money.Format(w.Balance), storage.FormatTime(now), w.ID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", classifySQLite(err))
	}

	w.Version++
	w.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx Tx, t *Transaction) error {
	sqlTx := tx.(*SQLiteTx).tx

	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO transactions (`+sqliteTransactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.WalletID, money.Format(t.Amount), string(t.Kind), string(t.Status), t.Gateway, t.GatewayReference, storage.FormatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", classifySQLite(err))
	}
	return nil
}

func (r *SQLiteRepository) FindDeposit(ctx context.Context, tx Tx, gateway, reference string) (*Transaction, error) {
	sqlTx := tx.(*SQLiteTx).tx

	row := sqlTx.QueryRowContext(ctx, `
		SELECT `+sqliteTransactionColumns+`
		FROM transactions
		WHERE kind = 'DEPOSIT' AND gateway = ? AND gateway_reference = ?
	`, gateway, reference)
	t, err := scanSQLiteTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deposit: %w", classifySQLite(err))
	}
	return t, nil
}

func (r *SQLiteRepository) FindSettlementLegs(ctx context.Context, tx Tx, refs []string) ([]Transaction, error) {
	if len(refs) == 0 {
		return []Transaction{}, nil
	}
	sqlTx := tx.(*SQLiteTx).tx

	kinds := settlementKinds()
	args := make([]any, 0, len(refs)+len(kinds)+1)
	args = append(args, InternalGateway)
	for _, ref := range refs {
		args = append(args, ref)
	}
	for _, k := range kinds {
		args = append(args, k)
	}

	rows, err := sqlTx.QueryContext(ctx, `
		SELECT `+sqliteTransactionColumns+`
		FROM transactions
		WHERE gateway = ?
		  AND gateway_reference IN (`+placeholders(len(refs))+`)
		  AND kind IN (`+placeholders(len(kinds))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find settlement: %w", classifySQLite(err))
	}
	return collectSQLiteTransactions(rows)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (r *SQLiteRepository) ListTransactionsByWallet(ctx context.Context, walletID string) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteTransactionColumns+`
		FROM transactions
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", classifySQLite(err))
	}
	return collectSQLiteTransactions(rows)
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteTransactionColumns+`
		FROM transactions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", classifySQLite(err))
	}
	return collectSQLiteTransactions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWallet(row rowScanner) (*Wallet, error) {
	var (
		w                    Wallet
		balance              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&w.ID, &w.UserID, &balance, &w.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("wallet %s balance %q: %w", w.ID, balance, err)
	}
	if w.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("wallet %s created_at: %w", w.ID, err)
	}
	if w.UpdatedAt, err = storage.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("wallet %s updated_at: %w", w.ID, err)
	}
	return &w, nil
}

func scanSQLiteTransaction(row rowScanner) (*Transaction, error) {
	var (
		t                    Transaction
		amount, kind, status string
		createdAt            string
	)
	err := row.Scan(&t.ID, &t.WalletID, &amount, &kind, &status, &t.Gateway, &t.GatewayReference, &createdAt)
	if err != nil {
		return nil, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s amount %q: %w", t.ID, amount, err)
	}
	if t.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("transaction %s created_at: %w", t.ID, err)
	}
	t.Kind = Kind(kind)
	t.Status = Status(status)
	return &t, nil
}

func collectSQLiteTransactions(rows *sql.Rows) ([]Transaction, error) {
	defer rows.Close()

	transactions := []Transaction{}
	for rows.Next() {
		t, err := scanSQLiteTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", classifySQLite(err))
	}
	return transactions, nil
}

// classifySQLite maps SQLite result codes onto the retryable storage errors.
// Extended codes carry the primary code in their low byte.
func classifySQLite(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(sqliteErr.Error(), "UNIQUE") {
				return conflict(err)
			}
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return timeout(err)
		}
	}
	return classifyContext(err)
}
