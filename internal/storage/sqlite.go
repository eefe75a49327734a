// Package storage opens the ledger databases and applies their schema.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the fixed-width text form of timestamps stored in SQLite, so
// that lexical ORDER BY matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// OpenSQLite opens (or creates) a SQLite database at the given path and
// ensures all tables exist.
//
// The pool is limited to a single connection: SQLite allows one writer, and a
// transaction holding the only connection serializes every other ledger
// operation behind it, which is the isolation the wallet rows need.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return db, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL UNIQUE,
		balance    TEXT NOT NULL DEFAULT '0',
		version    INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id                TEXT PRIMARY KEY,
		wallet_id         TEXT NOT NULL REFERENCES wallets(id),
		amount            TEXT NOT NULL,
		kind              TEXT NOT NULL,
		status            TEXT NOT NULL,
		gateway           TEXT NOT NULL,
		gateway_reference TEXT NOT NULL,
		created_at        TEXT NOT NULL
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
		amount       TEXT NOT NULL,
		status       TEXT NOT NULL,
		session_at   TEXT,
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_member ON bookings (member_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_trainer ON bookings (trainer_id, created_at DESC)`,
}
