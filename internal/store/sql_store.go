package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/ledger-engine/internal/database"
	"github.com/ruralpay/ledger-engine/internal/models"
	"github.com/shopspring/decimal"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store on top of database/sql with pessimistic row locks.
type SQLStore struct {
	db          *sql.DB
	dialect     database.Dialect
	lockTimeout time.Duration
	now         func() time.Time
}

func NewSQLStore(db *sql.DB, dialect database.Dialect, lockTimeout time.Duration) *SQLStore {
	return &SQLStore{
		db:          db,
		dialect:     dialect,
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		err = classify("begin transaction", err)
		if !errors.Is(err, ErrLockTimeout) && !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrCanceled) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}

	if stmt := s.dialect.LockTimeoutStatement(s.lockTimeout); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return nil, classify("set lock timeout", err)
		}
	}

	return &sqlTx{tx: tx, dialect: s.dialect, now: s.now}, nil
}

func (s *SQLStore) CreateAccount(ctx context.Context, a *models.Account) error {
	a.Balance = a.Balance.Round(2)
	a.OpeningBalance = a.Balance
	a.UpdatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO accounts (id, balance, opening_balance, updated_at)
		VALUES ($1, $2, $3, $4)`),
		a.ID, money(a.Balance), money(a.OpeningBalance), a.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("create account %s: %w", a.ID, ErrAccountExists)
	}
	return classify("create account", err)
}

func (s *SQLStore) CreateItem(ctx context.Context, it *models.Item) error {
	it.Price = it.Price.Round(2)
	it.Available = true

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO items (id, price, available)
		VALUES ($1, $2, TRUE)`),
		it.ID, money(it.Price))
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("create item %s: %w", it.ID, ErrItemExists)
	}
	return classify("create item", err)
}

func (s *SQLStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return getAccount(ctx, s.db, s.dialect, id, false)
}

func (s *SQLStore) GetItem(ctx context.Context, id string) (*models.Item, error) {
	return getItem(ctx, s.db, s.dialect, id, false)
}

func (s *SQLStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, classify("list accounts", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan account id", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("list accounts", rows.Err())
}

func (s *SQLStore) ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return listEntries(ctx, s.db, s.dialect, accountID)
}

func (s *SQLStore) ListPurchases(ctx context.Context, accountID string) ([]models.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT id, account_id, item_id, price_paid, created_at
		FROM purchases
		WHERE account_id = $1
		ORDER BY created_at, id`), accountID)
	if err != nil {
		return nil, classify("list purchases", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(&p.ID, &p.AccountID, &p.ItemID, &p.PricePaid, &p.CreatedAt); err != nil {
			return nil, classify("scan purchase", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, classify("list purchases", rows.Err())
}

type sqlTx struct {
	tx      *sql.Tx
	dialect database.Dialect
	now     func() time.Time
}

func (t *sqlTx) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	return getAccount(ctx, t.tx, t.dialect, id, true)
}

func (t *sqlTx) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	result, err := t.tx.ExecContext(ctx, t.dialect.Rebind(`
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3`),
		money(balance), t.now().UTC(), id)
	if err != nil {
		return classify("update balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify("update balance", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("update balance %s: %w", id, ErrAccountNotFound)
	}
	return nil
}

func (t *sqlTx) LockItem(ctx context.Context, id string) (*models.Item, error) {
	return getItem(ctx, t.tx, t.dialect, id, true)
}

func (t *sqlTx) MarkSold(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, t.dialect.Rebind(`
		UPDATE items
		SET available = FALSE
		WHERE id = $1 AND available = TRUE`), id)
	if err != nil {
		return classify("mark item sold", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify("mark item sold", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("mark item sold %s: %w", id, ErrItemSold)
	}
	return nil
}

func (t *sqlTx) RecordPurchase(ctx context.Context, p *models.Purchase) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, t.dialect.Rebind(`
		INSERT INTO purchases (id, account_id, item_id, price_paid, created_at)
		VALUES ($1, $2, $3, $4, $5)`),
		p.ID, p.AccountID, p.ItemID, money(p.PricePaid), p.CreatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("record purchase of %s: %w", p.ItemID, ErrItemSold)
	}
	return classify("record purchase", err)
}

func (t *sqlTx) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}

	var related any
	if e.RelatedPurchaseID != nil {
		related = *e.RelatedPurchaseID
	}

	err := t.tx.QueryRowContext(ctx, t.dialect.Rebind(`
		INSERT INTO ledger_entries (id, account_id, kind, amount, related_purchase_id, resulting_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`),
		e.ID, e.AccountID, string(e.Kind), money(e.Amount), related, money(e.ResultingBalance), e.CreatedAt,
	).Scan(&e.Seq)
	return classify("append ledger entry", err)
}

func (t *sqlTx) ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return listEntries(ctx, t.tx, t.dialect, accountID)
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		err = classify("commit", err)
		if !errors.Is(err, ErrLockTimeout) && !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

func getAccount(ctx context.Context, q querier, dialect database.Dialect, id string, lock bool) (*models.Account, error) {
	query := `
		SELECT id, balance, opening_balance, updated_at
		FROM accounts
		WHERE id = $1`
	if lock {
		query += dialect.ForUpdate()
	}

	var account models.Account
	err := q.QueryRowContext(ctx, dialect.Rebind(query), id).
		Scan(&account.ID, &account.Balance, &account.OpeningBalance, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	if err != nil {
		return nil, classify("lock account", err)
	}
	return &account, nil
}

func getItem(ctx context.Context, q querier, dialect database.Dialect, id string, lock bool) (*models.Item, error) {
	query := `
		SELECT id, price, available
		FROM items
		WHERE id = $1`
	if lock {
		query += dialect.ForUpdate()
	}

	var item models.Item
	err := q.QueryRowContext(ctx, dialect.Rebind(query), id).
		Scan(&item.ID, &item.Price, &item.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	if err != nil {
		return nil, classify("lock item", err)
	}
	return &item, nil
}

func listEntries(ctx context.Context, q querier, dialect database.Dialect, accountID string) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, dialect.Rebind(`
		SELECT seq, id, account_id, kind, amount, related_purchase_id, resulting_balance, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq`), accountID)
	if err != nil {
		return nil, classify("list ledger entries", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e       models.LedgerEntry
			kind    string
			related sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.AccountID, &kind, &e.Amount, &related, &e.ResultingBalance, &e.CreatedAt); err != nil {
			return nil, classify("scan ledger entry", err)
		}
		e.Kind = models.EntryKind(kind)
		if related.Valid {
			id := related.String
			e.RelatedPurchaseID = &id
		}
		entries = append(entries, e)
	}
	return entries, classify("list ledger entries", rows.Err())
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// classify tags driver errors with ErrLockTimeout or ErrUnavailable so callers
// never have to inspect driver types. The driver error stays in the chain.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		// The caller went away; nothing to retry on its behalf.
		return fmt.Errorf("%s: %w: %w", op, ErrCanceled, err)
	case database.IsLockContention(err), errors.Is(err, context.DeadlineExceeded):
		// A deadline hit while waiting is treated like a lock wait timeout.
		return fmt.Errorf("%s: %w: %w", op, ErrLockTimeout, err)
	case database.IsNumericOverflow(err):
		return fmt.Errorf("%s: %w: %w", op, ErrOutOfRange, err)
	case database.IsConnectionFailure(err):
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
