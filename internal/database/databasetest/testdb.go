// Package databasetest provides SQLite databases for tests.
package databasetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruralpay/ledger-engine/internal/database"
)

// NewDB creates a fresh file-backed SQLite database with the schema applied.
// A file is used rather than :memory: so that every pooled connection sees the same data.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), 10*time.Second)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := database.EnsureSchema(context.Background(), db, database.SQLite); err != nil {
		db.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
