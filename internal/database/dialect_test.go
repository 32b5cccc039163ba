package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDialect(t *testing.T) {
	q := "SELECT id FROM accounts WHERE id = $1 AND balance >= $2"

	t.Run("postgres", func(t *testing.T) {
		assert.Equal(t, q, Postgres.Rebind(q))
		assert.Equal(t, " FOR UPDATE", Postgres.ForUpdate())
		assert.Equal(t, "SET LOCAL lock_timeout = '1500ms'", Postgres.LockTimeoutStatement(1500*time.Millisecond))
		assert.Empty(t, Postgres.LockTimeoutStatement(0))
	})

	t.Run("sqlite", func(t *testing.T) {
		assert.Equal(t, "SELECT id FROM accounts WHERE id = ?1 AND balance >= ?2", SQLite.Rebind(q))
		assert.Empty(t, SQLite.ForUpdate())
		assert.Empty(t, SQLite.LockTimeoutStatement(time.Second))
	})
}
