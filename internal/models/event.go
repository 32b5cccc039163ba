package models

import "time"

// LedgerEvent is published after an operation commits. Money fields are 2dp strings.
type LedgerEvent struct {
	EventID    string    `json:"event_id"`
	Operation  Operation `json:"operation"`
	AccountID  string    `json:"account_id"`
	ItemID     string    `json:"item_id,omitempty"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	Amount     string    `json:"amount"`
	NewBalance string    `json:"new_balance"`
	EntrySeq   int64     `json:"entry_seq"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventFromReceipt builds the event for a committed receipt.
func EventFromReceipt(r *Receipt) LedgerEvent {
	return LedgerEvent{
		EventID:    r.EntryID,
		Operation:  r.Operation,
		AccountID:  r.AccountID,
		ItemID:     r.ItemID,
		PurchaseID: r.PurchaseID,
		Amount:     r.Amount.StringFixed(2),
		NewBalance: r.NewBalance.StringFixed(2),
		EntrySeq:   r.EntrySeq,
		OccurredAt: r.CommittedAt,
	}
}
