package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/gym-wallet-ledger/internal/money"
	"github.com/matheusmosca/gym-wallet-ledger/internal/storage"
)

// Repository stores booking records.
type Repository interface {
	// Create returns ErrDuplicateBooking when the id is taken.
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	ListByMember(ctx context.Context, memberID string) ([]Booking, error)
	ListByTrainer(ctx context.Context, trainerID string) ([]Booking, error)
	List(ctx context.Context) ([]Booking, error)
}

const bookingColumns = `id, member_id, service_id, service_name, trainer_id, category, amount, status, session_at, created_at`

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, b *Booking) error {
	var sessionAt *time.Time
	if !b.SessionAt.IsZero() {
		sessionAt = &b.SessionAt
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
	`, b.ID, b.MemberID, b.ServiceID, b.ServiceName, b.TrainerID, b.Category,
		money.Format(b.Amount), string(b.Status), sessionAt, b.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateBooking, b.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

const pgBookingSelect = `
	SELECT id, member_id, service_id, service_name, trainer_id, category, amount::text, status, session_at, created_at
	FROM bookings
`

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Booking, error) {
	row := r.db.QueryRow(ctx, pgBookingSelect+`WHERE id = $1`, id)
	b, err := scanPgBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) ListByMember(ctx context.Context, memberID string) ([]Booking, error) {
	return r.list(ctx, pgBookingSelect+`WHERE member_id = $1 ORDER BY created_at DESC, id DESC`, memberID)
}

func (r *PostgresRepository) ListByTrainer(ctx context.Context, trainerID string) ([]Booking, error) {
	return r.list(ctx, pgBookingSelect+`WHERE trainer_id = $1 ORDER BY created_at DESC, id DESC`, trainerID)
}

func (r *PostgresRepository) List(ctx context.Context) ([]Booking, error) {
	return r.list(ctx, pgBookingSelect+`ORDER BY created_at DESC, id DESC`)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := []Booking{}
	for rows.Next() {
		b, err := scanPgBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func scanPgBooking(row pgx.Row) (*Booking, error) {
	var (
		b              Booking
		amount, status string
		sessionAt      *time.Time
	)
	err := row.Scan(&b.ID, &b.MemberID, &b.ServiceID, &b.ServiceName, &b.TrainerID, &b.Category,
		&amount, &status, &sessionAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}

	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("booking %s amount %q: %w", b.ID, amount, err)
	}
	if sessionAt != nil {
		b.SessionAt = sessionAt.UTC()
	}
	b.Status = Status(status)
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

// SQLiteRepository implements Repository on the embedded SQLite store.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, b *Booking) error {
	var sessionAt sql.NullString
	if !b.SessionAt.IsZero() {
		sessionAt = sql.NullString{String: storage.FormatTime(b.SessionAt), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.MemberID, b.ServiceID, b.ServiceName, b.TrainerID, b.Category,
		money.Format(b.Amount), string(b.Status), sessionAt, storage.FormatTime(b.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDuplicateBooking, b.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

const sqliteBookingSelect = `SELECT ` + bookingColumns + ` FROM bookings `

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Booking, error) {
	row := r.db.QueryRowContext(ctx, sqliteBookingSelect+`WHERE id = ?`, id)
	b, err := scanSQLiteBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListByMember(ctx context.Context, memberID string) ([]Booking, error) {
	return r.list(ctx, sqliteBookingSelect+`WHERE member_id = ? ORDER BY created_at DESC, id DESC`, memberID)
}

func (r *SQLiteRepository) ListByTrainer(ctx context.Context, trainerID string) ([]Booking, error) {
	return r.list(ctx, sqliteBookingSelect+`WHERE trainer_id = ? ORDER BY created_at DESC, id DESC`, trainerID)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Booking, error) {
	return r.list(ctx, sqliteBookingSelect+`ORDER BY created_at DESC, id DESC`)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := []Booking{}
	for rows.Next() {
		b, err := scanSQLiteBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBooking(row rowScanner) (*Booking, error) {
	var (
		b              Booking
		amount, status string
		sessionAt      sql.NullString
		createdAt      string
	)
	err := row.Scan(&b.ID, &b.MemberID, &b.ServiceID, &b.ServiceName, &b.TrainerID, &b.Category,
		&amount, &status, &sessionAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("booking %s amount %q: %w", b.ID, amount, err)
	}
	if sessionAt.Valid {
		if b.SessionAt, err = storage.ParseTime(sessionAt.String); err != nil {
			return nil, fmt.Errorf("booking %s session_at: %w", b.ID, err)
		}
	}
	if b.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("booking %s created_at: %w", b.ID, err)
	}
	b.Status = Status(status)
	return &b, nil
}
