package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledger-engine/internal/models"
	"github.com/ruralpay/ledger-engine/internal/store"
	"github.com/shopspring/decimal"
)

// Stage is how far an operation got before it committed or aborted.
type Stage string

const (
	StageStarted   Stage = "STARTED"
	StageLocked    Stage = "LOCKED"
	StageValidated Stage = "VALIDATED"
	StageApplied   Stage = "APPLIED"
	StageCommitted Stage = "COMMITTED"
	StageAborted   Stage = "ABORTED"
)

const maxIDLength = 64

var DefaultMaxTopUp = decimal.NewFromInt(1_000_000)

// MaxBalance is the largest value a NUMERIC(14,2) money column holds.
var MaxBalance = decimal.RequireFromString("999999999999.99")

// EventPublisher is notified of committed operations.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event models.LedgerEvent) error
}

type LedgerOptions struct {
	StartingBalance decimal.Decimal
	MaxTopUp        decimal.Decimal
}

// LedgerService runs top-ups and purchases as single atomic units against the store.
// Locks are always taken account first, then item.
type LedgerService struct {
	store     store.Store
	opts      LedgerOptions
	audit     *AuditLogger
	publisher EventPublisher
	newID     func() string
	now       func() time.Time
}

func NewLedgerService(st store.Store, opts LedgerOptions, audit *AuditLogger, publisher EventPublisher) *LedgerService {
	if !opts.MaxTopUp.IsPositive() {
		opts.MaxTopUp = DefaultMaxTopUp
	}
	opts.MaxTopUp = opts.MaxTopUp.Round(2)
	opts.StartingBalance = opts.StartingBalance.Round(2)

	if audit == nil {
		audit = NewAuditLogger()
	}

	return &LedgerService{
		store:     st,
		opts:      opts,
		audit:     audit,
		publisher: publisher,
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

type operation struct {
	name      models.Operation
	stage     Stage
	accountID string
	itemID    string
	amount    *decimal.Decimal
}

func (o *operation) advance(stage Stage) {
	o.stage = stage
}

func (o *operation) fail(kind, cause error) *LedgerError {
	return &LedgerError{
		Kind:      kind,
		Op:        strings.ToLower(string(o.name)),
		Stage:     o.stage,
		AccountID: o.accountID,
		ItemID:    o.itemID,
		Amount:    o.amount,
		Err:       cause,
	}
}

// fromStore maps a store error onto a ledger error kind.
func (o *operation) fromStore(err error) *LedgerError {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return o.fail(ErrAccountNotFound, nil)
	case errors.Is(err, store.ErrItemNotFound):
		return o.fail(ErrItemNotFound, nil)
	case errors.Is(err, store.ErrItemSold):
		return o.fail(ErrItemUnavailable, nil)
	case errors.Is(err, store.ErrAccountExists):
		return o.fail(ErrAccountExists, nil)
	case errors.Is(err, store.ErrItemExists):
		return o.fail(ErrItemExists, nil)
	case errors.Is(err, store.ErrLockTimeout):
		return o.fail(ErrBusy, err)
	case errors.Is(err, store.ErrCanceled):
		return o.fail(ErrCanceled, err)
	case errors.Is(err, store.ErrOutOfRange):
		return o.fail(ErrInvalidAmount, err)
	default:
		return o.fail(ErrStoreUnavailable, err)
	}
}

// TopUp credits amount to the account and returns the receipt with the new balance.
// The requested amount must lie in (0, MaxTopUp]; it is then rounded to 2dp and
// must still be positive.
func (s *LedgerService) TopUp(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Receipt, error) {
	requested := amount
	op := &operation{name: models.OperationTopUp, stage: StageStarted, accountID: accountID, amount: &requested}

	if !amount.IsPositive() || amount.GreaterThan(s.opts.MaxTopUp) {
		return nil, s.abort(op, op.fail(ErrInvalidAmount, nil))
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, s.abort(op, op.fail(ErrInvalidAmount, nil))
	}
	op.amount = &amount

	var receipt *models.Receipt
	err := s.inTx(ctx, op, func(tx store.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return op.fromStore(err)
		}
		op.advance(StageLocked)

		newBalance := account.Balance.Add(amount).Round(2)
		if newBalance.GreaterThan(MaxBalance) {
			return op.fail(ErrInvalidAmount, nil)
		}
		op.advance(StageValidated)

		if err := tx.SetBalance(ctx, accountID, newBalance); err != nil {
			return op.fromStore(err)
		}

		entry := &models.LedgerEntry{
			ID:               s.newID(),
			AccountID:        accountID,
			Kind:             models.EntryTopUp,
			Amount:           amount,
			ResultingBalance: newBalance,
			CreatedAt:        s.now().UTC(),
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return op.fromStore(err)
		}
		op.advance(StageApplied)

		receipt = &models.Receipt{
			Operation:  models.OperationTopUp,
			AccountID:  accountID,
			Amount:     amount,
			NewBalance: newBalance,
			EntryID:    entry.ID,
			EntrySeq:   entry.Seq,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, receipt)
	return receipt, nil
}

// Purchase debits the item's current price from the account, records the purchase
// and marks the item sold, all or nothing.
func (s *LedgerService) Purchase(ctx context.Context, accountID, itemID string) (*models.Receipt, error) {
	op := &operation{name: models.OperationPurchase, stage: StageStarted, accountID: accountID, itemID: itemID}

	var receipt *models.Receipt
	err := s.inTx(ctx, op, func(tx store.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return op.fromStore(err)
		}
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return op.fromStore(err)
		}
		op.advance(StageLocked)

		price := item.Price.Round(2)
		op.amount = &price

		if !item.Available {
			return op.fail(ErrItemUnavailable, nil)
		}
		if account.Balance.LessThan(price) {
			return op.fail(ErrInsufficientFunds, nil)
		}
		op.advance(StageValidated)

		now := s.now().UTC()
		purchase := &models.Purchase{
			ID:        s.newID(),
			AccountID: accountID,
			ItemID:    itemID,
			PricePaid: price,
			CreatedAt: now,
		}
		if err := tx.RecordPurchase(ctx, purchase); err != nil {
			return op.fromStore(err)
		}

		newBalance := account.Balance.Sub(price).Round(2)
		if err := tx.SetBalance(ctx, accountID, newBalance); err != nil {
			return op.fromStore(err)
		}
		if err := tx.MarkSold(ctx, itemID); err != nil {
			return op.fromStore(err)
		}

		entry := &models.LedgerEntry{
			ID:                s.newID(),
			AccountID:         accountID,
			Kind:              models.EntryPurchaseDebit,
			Amount:            price.Neg(),
			RelatedPurchaseID: &purchase.ID,
			ResultingBalance:  newBalance,
			CreatedAt:         now,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return op.fromStore(err)
		}
		op.advance(StageApplied)

		receipt = &models.Receipt{
			Operation:  models.OperationPurchase,
			AccountID:  accountID,
			ItemID:     itemID,
			PurchaseID: purchase.ID,
			Amount:     price,
			NewBalance: newBalance,
			EntryID:    entry.ID,
			EntrySeq:   entry.Seq,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, receipt)
	return receipt, nil
}

// OpenAccount creates an account holding the configured starting balance.
func (s *LedgerService) OpenAccount(ctx context.Context, accountID string) (*models.Account, error) {
	op := &operation{name: "open_account", stage: StageStarted, accountID: accountID}
	if !validID(accountID) {
		return nil, s.abort(op, op.fail(ErrInvalidID, nil))
	}

	account := &models.Account{ID: accountID, Balance: s.opts.StartingBalance}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, s.abort(op, op.fromStore(err))
	}

	s.audit.LogOperation("OPEN_ACCOUNT", accountID, "starting balance "+account.Balance.StringFixed(2))
	return account, nil
}

// CreateItem lists a new available item at the given price.
func (s *LedgerService) CreateItem(ctx context.Context, itemID string, price decimal.Decimal) (*models.Item, error) {
	price = price.Round(2)
	op := &operation{name: "create_item", stage: StageStarted, itemID: itemID, amount: &price}
	if !validID(itemID) {
		return nil, s.abort(op, op.fail(ErrInvalidID, nil))
	}
	if price.IsNegative() || price.GreaterThan(MaxBalance) {
		return nil, s.abort(op, op.fail(ErrInvalidAmount, nil))
	}

	item := &models.Item{ID: itemID, Price: price}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, s.abort(op, op.fromStore(err))
	}

	s.audit.LogOperation("CREATE_ITEM", "", itemID+" at "+price.StringFixed(2))
	return item, nil
}

// Statement returns the account with its ledger in seq order and its purchases.
func (s *LedgerService) Statement(ctx context.Context, accountID string) (*models.Statement, error) {
	op := &operation{name: "statement", stage: StageStarted, accountID: accountID}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, op.fromStore(err)
	}
	entries, err := s.store.ListEntries(ctx, accountID)
	if err != nil {
		return nil, op.fromStore(err)
	}
	purchases, err := s.store.ListPurchases(ctx, accountID)
	if err != nil {
		return nil, op.fromStore(err)
	}

	return &models.Statement{Account: *account, Entries: entries, Purchases: purchases}, nil
}

// inTx runs fn inside one store transaction. Any exit other than a successful
// commit rolls back, so no partial writes survive.
func (s *LedgerService) inTx(ctx context.Context, op *operation, fn func(tx store.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return s.abort(op, op.fromStore(err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return s.abort(op, err)
	}

	if err := tx.Commit(); err != nil {
		// database/sql rolls back on its own once ctx is canceled.
		if errors.Is(ctx.Err(), context.Canceled) {
			return s.abort(op, op.fail(ErrCanceled, err))
		}
		return s.abort(op, op.fromStore(err))
	}
	op.advance(StageCommitted)
	return nil
}

func (s *LedgerService) abort(op *operation, err error) error {
	op.advance(StageAborted)
	s.audit.LogAborted(err)
	return err
}

func (s *LedgerService) committed(ctx context.Context, receipt *models.Receipt) {
	receipt.CommittedAt = s.now().UTC()
	s.audit.LogCommitted(receipt)

	if s.publisher == nil {
		return
	}

	// Already durable; publish failures only log.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishLedgerEvent(pubCtx, models.EventFromReceipt(receipt)); err != nil {
		log.Printf("[LEDGER] event publish failed for entry %s: %v", receipt.EntryID, err)
	}
}

func validID(id string) bool {
	return strings.TrimSpace(id) != "" && len(id) <= maxIDLength
}
