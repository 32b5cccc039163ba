// Command ledgerctl administers a ledger database: schema setup, provisioning,
// manual operations, statements and reconciliation.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ruralpay/ledger-engine/internal/config"
	"github.com/ruralpay/ledger-engine/internal/database"
	"github.com/ruralpay/ledger-engine/internal/services"
	"github.com/ruralpay/ledger-engine/internal/store"
	"github.com/shopspring/decimal"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  migrate                         create tables if missing
  open-account -id ID             create an account with the starting balance
  create-item  -id ID -price P    list an available item
  topup        -account ID -amount A
  purchase     -account ID -item ID
  statement    -account ID        print the account's ledger
  reconcile    [-account ID]      replay ledgers against stored balances
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, dialect, err := database.Open(ctx, cfg.Database, cfg.Ledger.LockTimeout)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	st := store.NewSQLStore(db, dialect, cfg.Ledger.LockTimeout)
	ledger := services.NewLedgerService(st, services.LedgerOptions{
		StartingBalance: cfg.Ledger.StartingBalance,
		MaxTopUp:        cfg.Ledger.MaxTopUp,
	}, services.NewAuditLogger(), nil)
	reconciler := services.NewReconciler(st)

	cmd, args := os.Args[1], os.Args[2:]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var (
		id      = fs.String("id", "", "account or item id")
		account = fs.String("account", "", "account id")
		item    = fs.String("item", "", "item id")
		amount  = fs.String("amount", "", "top-up amount")
		price   = fs.String("price", "", "item price")
	)
	fs.Parse(args)

	err = run(ctx, os.Stdout, cmd, runArgs{id: *id, account: *account, item: *item, amount: *amount, price: *price}, db, dialect, ledger, reconciler)
	if err != nil {
		db.Close()
		log.Fatalf("%s: %v", cmd, err)
	}
}

type runArgs struct {
	id, account, item, amount, price string
}

func run(ctx context.Context, out io.Writer, cmd string, a runArgs, db *sql.DB, dialect database.Dialect, ledger *services.LedgerService, reconciler *services.Reconciler) error {
	switch cmd {
	case "migrate":
		if err := database.EnsureSchema(ctx, db, dialect); err != nil {
			return err
		}
		fmt.Fprintf(out, "schema ready (%s)\n", dialect)

	case "open-account":
		acct, err := ledger.OpenAccount(ctx, a.id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "account %s opened with %s\n", acct.ID, acct.Balance.StringFixed(2))

	case "create-item":
		p, err := parseMoney(a.price)
		if err != nil {
			return err
		}
		it, err := ledger.CreateItem(ctx, a.id, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "item %s listed at %s\n", it.ID, it.Price.StringFixed(2))

	case "topup":
		amt, err := parseMoney(a.amount)
		if err != nil {
			return err
		}
		receipt, err := ledger.TopUp(ctx, a.account, amt)
		if err != nil {
			return err
		}
		renderReceipt(out, receipt)

	case "purchase":
		receipt, err := ledger.Purchase(ctx, a.account, a.item)
		if err != nil {
			return err
		}
		renderReceipt(out, receipt)

	case "statement":
		statement, err := ledger.Statement(ctx, a.account)
		if err != nil {
			return err
		}
		renderStatement(out, statement)

	case "reconcile":
		var reports []*services.AccountReport
		if a.account != "" {
			report, err := reconciler.VerifyAccount(ctx, a.account)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		} else {
			var err error
			if reports, err = reconciler.VerifyAll(ctx); err != nil {
				return err
			}
		}
		if bad := renderReconciliation(out, reports); bad > 0 {
			return fmt.Errorf("%d inconsistent accounts", bad)
		}

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d, nil
}
