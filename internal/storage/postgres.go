package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresConfig carries the connection settings read from the environment.
type PostgresConfig struct {
	// URL, when set, is used as the connection string and the discrete
	// fields are ignored.
	URL      string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	MaxConns int32
	MinConns int32
}

func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
}

// OpenPostgres creates the connection pool, waits for the database to accept
// connections and applies the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := waitForPostgres(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return pool, nil
}

func waitForPostgres(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	const attempts = 30
	for i := 0; i < attempts; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("connected to postgres", zap.Int32("max_conns", pool.Config().MaxConns))
			return nil
		}
		logger.Info("waiting for database", zap.Int("attempt", i+1), zap.Int("of", attempts))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("failed to connect to database after %d attempts", attempts)
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id         UUID PRIMARY KEY,
		user_id    TEXT NOT NULL UNIQUE,
		balance    NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version    BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id                UUID PRIMARY KEY,
		wallet_id         UUID NOT NULL REFERENCES wallets(id),
		amount            NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		kind              TEXT NOT NULL,
		status            TEXT NOT NULL,
		gateway           TEXT NOT NULL,
		gateway_reference TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_wallet_created
		ON transactions (wallet_id, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_deposit_reference
		ON transactions (gateway, gateway_reference) WHERE kind = 'DEPOSIT'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_settlement_reference
		ON transactions (gateway, gateway_reference) WHERE kind = 'BOOKING_DEBIT'`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id           TEXT PRIMARY KEY,
		member_id    TEXT NOT NULL,
		service_id   TEXT NOT NULL,
		service_name TEXT NOT NULL,
		trainer_id   TEXT NOT NULL,
		category     TEXT NOT NULL,
		amount       NUMERIC(20,2) NOT NULL,
		status       TEXT NOT NULL,
		session_at   TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_member ON bookings (member_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_trainer ON bookings (trainer_id, created_at DESC)`,
}
