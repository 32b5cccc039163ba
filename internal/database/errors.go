package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLSTATE codes the ledger cares about.
const (
	codeUniqueViolation      = "23505"
	codeNumericOutOfRange    = "22003"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
	codeTooManyConnections   = "53300"
)

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func sqliteCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code(), true
	}
	return 0, false
}

// IsLockContention reports whether err means another transaction held a lock
// for longer than we were willing to wait. Such operations are safe to retry.
func IsLockContention(err error) bool {
	switch sqlState(err) {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeQueryCanceled:
		return true
	}
	if code, ok := sqliteCode(err); ok {
		primary := code & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	return false
}

// IsNumericOverflow reports whether a value did not fit its NUMERIC column.
func IsNumericOverflow(err error) bool {
	return sqlState(err) == codeNumericOutOfRange
}

// IsUniqueViolation reports whether err is a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	if sqlState(err) == codeUniqueViolation {
		return true
	}
	if code, ok := sqliteCode(err); ok {
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "UNIQUE constraint failed")
	}
	return false
}

// IsConnectionFailure reports whether err means the store itself could not be reached.
func IsConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	state := sqlState(err)
	if strings.HasPrefix(state, "08") {
		return true
	}
	switch state {
	case codeAdminShutdown, codeCannotConnectNow, codeTooManyConnections:
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
