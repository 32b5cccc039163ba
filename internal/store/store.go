package store

import (
	"context"
	"errors"

	"github.com/ruralpay/ledger-engine/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrItemNotFound    = errors.New("item not found")
	ErrItemSold        = errors.New("item already sold")
	ErrAccountExists   = errors.New("account already exists")
	ErrItemExists      = errors.New("item already exists")
	ErrLockTimeout     = errors.New("lock wait exceeded")
	ErrUnavailable     = errors.New("store unavailable")
	ErrCanceled        = errors.New("operation canceled")
	ErrOutOfRange      = errors.New("amount out of storable range")
)

// AccountStore reads and writes balances. Both methods must run inside a Tx;
// SetBalance requires the caller to hold the row lock from LockAccount.
type AccountStore interface {
	LockAccount(ctx context.Context, id string) (*models.Account, error)
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error
}

// ItemStore reads and flips item availability under a row lock.
type ItemStore interface {
	LockItem(ctx context.Context, id string) (*models.Item, error)
	MarkSold(ctx context.Context, id string) error
}

// LedgerWriter appends purchases and ledger entries. AppendEntry fills in Seq.
type LedgerWriter interface {
	RecordPurchase(ctx context.Context, p *models.Purchase) error
	AppendEntry(ctx context.Context, e *models.LedgerEntry) error
	ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
}

// Tx is one unit of work. Locks taken through it are released on Commit or Rollback.
type Tx interface {
	AccountStore
	ItemStore
	LedgerWriter
	Commit() error
	Rollback() error
}

// Store is the entry point to the ledger tables.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	CreateAccount(ctx context.Context, a *models.Account) error
	CreateItem(ctx context.Context, it *models.Item) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ListAccountIDs(ctx context.Context) ([]string, error)
	ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error)
	ListPurchases(ctx context.Context, accountID string) ([]models.Purchase, error)
}
