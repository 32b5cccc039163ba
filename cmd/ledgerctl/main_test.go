package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ruralpay/ledger-engine/internal/database"
	"github.com/ruralpay/ledger-engine/internal/database/databasetest"
	"github.com/ruralpay/ledger-engine/internal/services"
	"github.com/ruralpay/ledger-engine/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_EndToEnd(t *testing.T) {
	db := databasetest.NewDB(t)
	st := store.NewSQLStore(db, database.SQLite, 5*time.Second)
	ledger := services.NewLedgerService(st, services.LedgerOptions{
		StartingBalance: decimal.RequireFromString("100.00"),
	}, services.NewAuditLogger(), nil)
	reconciler := services.NewReconciler(st)
	ctx := context.Background()

	steps := []struct {
		cmd  string
		args runArgs
		want string
	}{
		{"migrate", runArgs{}, "schema ready (sqlite)"},
		{"open-account", runArgs{id: "A"}, "account A opened with 100.00"},
		{"create-item", runArgs{id: "X", price: "30"}, "item X listed at 30.00"},
		{"topup", runArgs{account: "A", amount: "50"}, "150.00"},
		{"purchase", runArgs{account: "A", item: "X"}, "120.00"},
		{"statement", runArgs{account: "A"}, "PURCHASE_DEBIT"},
		{"reconcile", runArgs{}, "OK"},
	}

	for _, step := range steps {
		var out bytes.Buffer
		err := run(ctx, &out, step.cmd, step.args, db, database.SQLite, ledger, reconciler)
		require.NoError(t, err, step.cmd)
		assert.Contains(t, out.String(), step.want, step.cmd)
	}

	var out bytes.Buffer
	err := run(ctx, &out, "purchase", runArgs{account: "A", item: "X"}, db, database.SQLite, ledger, reconciler)
	assert.ErrorIs(t, err, services.ErrItemUnavailable)

	err = run(ctx, &out, "topup", runArgs{account: "A", amount: "lots"}, db, database.SQLite, ledger, reconciler)
	assert.Error(t, err)

	err = run(ctx, &out, "frobnicate", runArgs{}, db, database.SQLite, ledger, reconciler)
	assert.Error(t, err)
}

func TestRenderReconciliation_CountsMismatches(t *testing.T) {
	var out bytes.Buffer
	bad := renderReconciliation(&out, []*services.AccountReport{
		{AccountID: "ok", Consistent: true},
		{AccountID: "broken", BrokenAtSeq: 4},
	})

	assert.Equal(t, 1, bad)
	assert.Contains(t, out.String(), "MISMATCH (chain breaks at 4)")
}
