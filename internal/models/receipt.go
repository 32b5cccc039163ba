package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Operation string

const (
	OperationTopUp    Operation = "TOPUP"
	OperationPurchase Operation = "PURCHASE"
)

// Receipt describes a committed operation.
type Receipt struct {
	Operation   Operation       `json:"operation"`
	AccountID   string          `json:"account_id"`
	ItemID      string          `json:"item_id,omitempty"`
	PurchaseID  string          `json:"purchase_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	EntryID     string          `json:"entry_id"`
	EntrySeq    int64           `json:"entry_seq"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Statement is an account with its full ledger and purchase history.
type Statement struct {
	Account   Account       `json:"account"`
	Entries   []LedgerEntry `json:"entries"`
	Purchases []Purchase    `json:"purchases"`
}
