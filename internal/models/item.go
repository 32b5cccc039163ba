package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a one-of-a-kind purchasable thing. Available only ever goes true -> false.
type Item struct {
	ID        string          `json:"id" db:"id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Available bool            `json:"available" db:"available"`
}

type Purchase struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	ItemID    string          `json:"item_id" db:"item_id"`
	PricePaid decimal.Decimal `json:"price_paid" db:"price_paid"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
