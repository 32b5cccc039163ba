package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/ruralpay/ledger-engine/internal/models"
)

type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	AccountID  string    `json:"account_id,omitempty"`
	ItemID     string    `json:"item_id,omitempty"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Status     string    `json:"status"`
	Details    any       `json:"details,omitempty"`
}

// AuditLogger writes one JSON line per ledger operation outcome.
type AuditLogger struct {
	logf func(format string, args ...any)
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{logf: log.Printf}
}

func (a *AuditLogger) LogCommitted(r *models.Receipt) {
	a.log(AuditEvent{
		Timestamp:  r.CommittedAt,
		EventType:  string(r.Operation),
		AccountID:  r.AccountID,
		ItemID:     r.ItemID,
		PurchaseID: r.PurchaseID,
		Amount:     r.Amount.StringFixed(2),
		Status:     string(StageCommitted),
		Details: map[string]any{
			"new_balance": r.NewBalance.StringFixed(2),
			"entry_id":    r.EntryID,
			"entry_seq":   r.EntrySeq,
		},
	})
}

func (a *AuditLogger) LogAborted(err error) {
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: "ERROR",
		Status:    string(StageAborted),
		Details:   map[string]string{"error": err.Error()},
	}

	var le *LedgerError
	if errors.As(err, &le) {
		event.EventType = le.Op
		event.AccountID = le.AccountID
		event.ItemID = le.ItemID
		if le.Amount != nil {
			event.Amount = le.Amount.StringFixed(2)
		}
		event.Details = map[string]string{
			"kind":  le.Kind.Error(),
			"stage": string(le.Stage),
			"error": err.Error(),
		}
	}
	a.log(event)
}

func (a *AuditLogger) LogOperation(operation, accountID, details string) {
	a.log(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: operation,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	a.logf("AUDIT: %s", string(data))
}
