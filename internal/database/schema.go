package database

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id              TEXT PRIMARY KEY,
		balance         NUMERIC(14,2) NOT NULL CHECK (balance >= 0),
		opening_balance NUMERIC(14,2) NOT NULL CHECK (opening_balance >= 0),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id        TEXT PRIMARY KEY,
		price     NUMERIC(14,2) NOT NULL CHECK (price >= 0),
		available BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		item_id    TEXT NOT NULL UNIQUE REFERENCES items(id),
		price_paid NUMERIC(14,2) NOT NULL CHECK (price_paid >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq                 BIGSERIAL PRIMARY KEY,
		id                  TEXT NOT NULL UNIQUE,
		account_id          TEXT NOT NULL REFERENCES accounts(id),
		kind                TEXT NOT NULL CHECK (kind IN ('TOPUP', 'PURCHASE_DEBIT')),
		amount              NUMERIC(14,2) NOT NULL,
		related_purchase_id TEXT REFERENCES purchases(id),
		resulting_balance   NUMERIC(14,2) NOT NULL CHECK (resulting_balance >= 0),
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_seq ON ledger_entries(account_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_account ON purchases(account_id)`,
}

// Money is stored as canonical 2dp text; the CHECKs cast to compare.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id              TEXT PRIMARY KEY,
		balance         TEXT NOT NULL CHECK (CAST(balance AS REAL) >= 0),
		opening_balance TEXT NOT NULL CHECK (CAST(opening_balance AS REAL) >= 0),
		updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id        TEXT PRIMARY KEY,
		price     TEXT NOT NULL CHECK (CAST(price AS REAL) >= 0),
		available BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		item_id    TEXT NOT NULL UNIQUE REFERENCES items(id),
		price_paid TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
		id                  TEXT NOT NULL UNIQUE,
		account_id          TEXT NOT NULL REFERENCES accounts(id),
		kind                TEXT NOT NULL CHECK (kind IN ('TOPUP', 'PURCHASE_DEBIT')),
		amount              TEXT NOT NULL,
		related_purchase_id TEXT REFERENCES purchases(id),
		resulting_balance   TEXT NOT NULL CHECK (CAST(resulting_balance AS REAL) >= 0),
		created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_seq ON ledger_entries(account_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_account ON purchases(account_id)`,
}

// EnsureSchema creates the ledger tables if they do not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts := postgresSchema
	if dialect == SQLite {
		stmts = sqliteSchema
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
