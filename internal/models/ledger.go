package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryTopUp         EntryKind = "TOPUP"
	EntryPurchaseDebit EntryKind = "PURCHASE_DEBIT"
)

// LedgerEntry is an append-only record of a single balance change.
// ResultingBalance always equals the previous entry's ResultingBalance plus Amount.
type LedgerEntry struct {
	Seq               int64           `json:"seq" db:"seq"`
	ID                string          `json:"id" db:"id"`
	AccountID         string          `json:"account_id" db:"account_id"`
	Kind              EntryKind       `json:"kind" db:"kind"`
	Amount            decimal.Decimal `json:"amount" db:"amount"` // signed, 2dp
	RelatedPurchaseID *string         `json:"related_purchase_id,omitempty" db:"related_purchase_id"`
	ResultingBalance  decimal.Decimal `json:"resulting_balance" db:"resulting_balance"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

type Account struct {
	ID             string          `json:"id" db:"id"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance" db:"opening_balance"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
