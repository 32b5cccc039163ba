package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Error kinds returned by the ledger. Match them with errors.Is.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAccountNotFound   = errors.New("account not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrItemUnavailable   = errors.New("item unavailable")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBusy              = errors.New("ledger busy, retry")
	ErrStoreUnavailable  = errors.New("store unavailable")

	ErrInvalidID     = errors.New("invalid id")
	ErrAccountExists = errors.New("account already exists")
	ErrItemExists    = errors.New("item already exists")
	ErrCanceled      = errors.New("operation canceled")
)

// LedgerError carries the kind of failure plus the ids and amount involved.
// Err holds the underlying cause, if any.
type LedgerError struct {
	Kind      error
	Op        string
	Stage     Stage
	AccountID string
	ItemID    string
	Amount    *decimal.Decimal
	Err       error
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())

	var fields []string
	if e.AccountID != "" {
		fields = append(fields, "account="+e.AccountID)
	}
	if e.ItemID != "" {
		fields = append(fields, "item="+e.ItemID)
	}
	if e.Amount != nil {
		fields = append(fields, "amount="+e.Amount.StringFixed(2))
	}
	if len(fields) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(fields, " "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the same request may simply be sent again.
func (e *LedgerError) Retryable() bool {
	return errors.Is(e.Kind, ErrBusy)
}

// KindOf returns the ledger error kind of err, or nil when err is not a LedgerError.
func KindOf(err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}
