package database

import (
	"fmt"
	"strings"
	"time"
)

// Dialect captures the SQL differences between the supported stores.
// Queries are written with $n placeholders.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Rebind converts $n placeholders to the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d == SQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

// ForUpdate is appended to point reads that must hold the row lock.
// SQLite takes the database write lock at BEGIN IMMEDIATE instead.
func (d Dialect) ForUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// LockTimeoutStatement bounds how long a transaction waits on a row lock.
// Empty when the dialect handles it at connection level.
func (d Dialect) LockTimeoutStatement(timeout time.Duration) string {
	if d != Postgres || timeout <= 0 {
		return ""
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
}
