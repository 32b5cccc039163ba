package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	mW "github.com/ruralpay/ledger-engine/internal/middleware"
	"github.com/ruralpay/ledger-engine/internal/models"
	"github.com/ruralpay/ledger-engine/internal/services"
	"github.com/shopspring/decimal"
)

const idempotencyHeader = "Idempotency-Key"

// statusClientClosedRequest is nginx's code for a request the client abandoned.
const statusClientClosedRequest = 499

// Ledger is the part of services.LedgerService the HTTP layer needs.
type Ledger interface {
	TopUp(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Receipt, error)
	Purchase(ctx context.Context, accountID, itemID string) (*models.Receipt, error)
	Statement(ctx context.Context, accountID string) (*models.Statement, error)
}

type Verifier interface {
	VerifyAccount(ctx context.Context, accountID string) (*services.AccountReport, error)
}

type LedgerHandler struct {
	ledger      Ledger
	verifier    Verifier
	idempotency *services.IdempotencyStore
	validator   *services.ValidationHelper
}

func NewLedgerHandler(ledger Ledger, verifier Verifier, idempotency *services.IdempotencyStore) *LedgerHandler {
	return &LedgerHandler{
		ledger:      ledger,
		verifier:    verifier,
		idempotency: idempotency,
		validator:   services.NewValidationHelper(),
	}
}

// Routes mounts the ledger endpoints. Callers must already be authenticated.
func (h *LedgerHandler) Routes(r chi.Router) {
	r.Post("/topups", h.TopUp)
	r.Post("/purchases", h.Purchase)
	r.Get("/ledger", h.Statement)
	r.Get("/ledger/verify", h.Verify)
}

type topUpRequest struct {
	Amount json.Number `json:"amount" validate:"required"`
}

type purchaseRequest struct {
	ItemID string `json:"itemId" validate:"required,max=64"`
}

type receiptResponse struct {
	AccountID  string `json:"accountId"`
	ItemID     string `json:"itemId,omitempty"`
	PurchaseID string `json:"purchaseId,omitempty"`
	Amount     string `json:"amount"`
	NewBalance string `json:"newBalance"`
	EntryID    string `json:"entryId"`
	Replayed   bool   `json:"replayed,omitempty"`
}

type entryResponse struct {
	Seq               int64   `json:"seq"`
	ID                string  `json:"id"`
	Kind              string  `json:"kind"`
	Amount            string  `json:"amount"`
	RelatedPurchaseID *string `json:"relatedPurchaseId,omitempty"`
	ResultingBalance  string  `json:"resultingBalance"`
	CreatedAt         string  `json:"createdAt"`
}

type purchaseResponse struct {
	ID        string `json:"id"`
	ItemID    string `json:"itemId"`
	PricePaid string `json:"pricePaid"`
	CreatedAt string `json:"createdAt"`
}

// TopUp credits the caller's balance
// @Summary Top up balance
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client request key"
// @Param request body object{amount=string} true "Top-up request"
// @Success 200 {object} object{accountId=string,newBalance=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /topups [post]
func (h *LedgerHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	accountID, ok := mW.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req topUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		services.SendCodedErrorResponse(w, "Amount must be a decimal number", "INVALID_AMOUNT", http.StatusBadRequest, nil)
		return
	}

	h.runIdempotent(w, r, accountID, models.OperationTopUp, func(ctx context.Context) (*models.Receipt, error) {
		return h.ledger.TopUp(ctx, accountID, amount)
	})
}

// Purchase buys an item with the caller's balance
// @Summary Purchase item
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client request key"
// @Param request body object{itemId=string} true "Purchase request"
// @Success 200 {object} object{accountId=string,purchaseId=string,newBalance=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /purchases [post]
func (h *LedgerHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID, ok := mW.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req purchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.runIdempotent(w, r, accountID, models.OperationPurchase, func(ctx context.Context) (*models.Receipt, error) {
		return h.ledger.Purchase(ctx, accountID, req.ItemID)
	})
}

// Statement lists the caller's ledger entries and purchases
// @Summary Ledger statement
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Router /ledger [get]
func (h *LedgerHandler) Statement(w http.ResponseWriter, r *http.Request) {
	accountID, ok := mW.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	statement, err := h.ledger.Statement(r.Context(), accountID)
	if err != nil {
		sendLedgerError(w, err)
		return
	}

	entries := make([]entryResponse, 0, len(statement.Entries))
	for _, e := range statement.Entries {
		entries = append(entries, entryResponse{
			Seq:               e.Seq,
			ID:                e.ID,
			Kind:              string(e.Kind),
			Amount:            e.Amount.StringFixed(2),
			RelatedPurchaseID: e.RelatedPurchaseID,
			ResultingBalance:  e.ResultingBalance.StringFixed(2),
			CreatedAt:         e.CreatedAt.UTC().Format(timeLayout),
		})
	}
	purchases := make([]purchaseResponse, 0, len(statement.Purchases))
	for _, p := range statement.Purchases {
		purchases = append(purchases, purchaseResponse{
			ID:        p.ID,
			ItemID:    p.ItemID,
			PricePaid: p.PricePaid.StringFixed(2),
			CreatedAt: p.CreatedAt.UTC().Format(timeLayout),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId": statement.Account.ID,
		"balance":   statement.Account.Balance.StringFixed(2),
		"entries":   entries,
		"purchases": purchases,
	})
}

// Verify replays the caller's ledger against the stored balance
// @Summary Verify ledger
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Router /ledger/verify [get]
func (h *LedgerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	accountID, ok := mW.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	report, err := h.verifier.VerifyAccount(r.Context(), accountID)
	if err != nil {
		sendLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":       report.AccountID,
		"consistent":      report.Consistent,
		"entries":         report.Entries,
		"openingBalance":  report.OpeningBalance.StringFixed(2),
		"expectedBalance": report.ExpectedBalance.StringFixed(2),
		"storedBalance":   report.StoredBalance.StringFixed(2),
		"brokenAtSeq":     report.BrokenAtSeq,
		"negativeAtSeq":   report.NegativeAtSeq,
	})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (h *LedgerHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// idempotencyScope keeps keys of different operations apart, so a key reused
// for a purchase never replays a top-up receipt.
func idempotencyScope(accountID string, op models.Operation) string {
	return accountID + ":" + strings.ToLower(string(op))
}

func (h *LedgerHandler) runIdempotent(w http.ResponseWriter, r *http.Request, accountID string, op models.Operation, run func(ctx context.Context) (*models.Receipt, error)) {
	ctx := r.Context()
	key := r.Header.Get(idempotencyHeader)
	scope := idempotencyScope(accountID, op)

	if len(key) > 128 {
		services.SendErrorResponse(w, "Idempotency-Key too long", http.StatusBadRequest, nil)
		return
	}

	replay, err := h.idempotency.Begin(ctx, scope, key)
	if err != nil {
		services.SendCodedErrorResponse(w, err.Error(), "REQUEST_IN_PROGRESS", http.StatusConflict, nil)
		return
	}
	if replay != nil {
		if replay.Operation != op || replay.AccountID != accountID {
			services.SendCodedErrorResponse(w, "Idempotency-Key was used for a different request", "IDEMPOTENCY_KEY_REUSED", http.StatusUnprocessableEntity, nil)
			return
		}
		writeReceipt(w, replay, true)
		return
	}

	receipt, err := run(ctx)
	if err != nil {
		h.idempotency.Release(context.WithoutCancel(ctx), scope, key)
		sendLedgerError(w, err)
		return
	}

	h.idempotency.Complete(context.WithoutCancel(ctx), scope, key, receipt)
	writeReceipt(w, receipt, false)
}

func writeReceipt(w http.ResponseWriter, receipt *models.Receipt, replayed bool) {
	writeJSON(w, http.StatusOK, receiptResponse{
		AccountID:  receipt.AccountID,
		ItemID:     receipt.ItemID,
		PurchaseID: receipt.PurchaseID,
		Amount:     receipt.Amount.StringFixed(2),
		NewBalance: receipt.NewBalance.StringFixed(2),
		EntryID:    receipt.EntryID,
		Replayed:   replayed,
	})
}

type errorMapping struct {
	kind   error
	code   string
	status int
}

var ledgerErrorMappings = []errorMapping{
	{services.ErrInvalidAmount, "INVALID_AMOUNT", http.StatusBadRequest},
	{services.ErrInvalidID, "INVALID_ID", http.StatusBadRequest},
	{services.ErrAccountNotFound, "ACCOUNT_NOT_FOUND", http.StatusNotFound},
	{services.ErrItemNotFound, "ITEM_NOT_FOUND", http.StatusNotFound},
	{services.ErrItemUnavailable, "ITEM_UNAVAILABLE", http.StatusConflict},
	{services.ErrInsufficientFunds, "INSUFFICIENT_FUNDS", http.StatusUnprocessableEntity},
	{services.ErrBusy, "BUSY", http.StatusServiceUnavailable},
	{services.ErrStoreUnavailable, "STORE_UNAVAILABLE", http.StatusServiceUnavailable},
	{services.ErrCanceled, "CANCELED", statusClientClosedRequest},
}

// sendLedgerError maps a ledger error kind to a status. Driver details never reach the client.
func sendLedgerError(w http.ResponseWriter, err error) {
	kind := services.KindOf(err)
	for _, m := range ledgerErrorMappings {
		if kind == nil || !errors.Is(kind, m.kind) {
			continue
		}
		if m.kind == services.ErrBusy {
			w.Header().Set("Retry-After", strconv.Itoa(1))
		}
		services.SendCodedErrorResponse(w, m.kind.Error(), m.code, m.status, nil)
		return
	}
	services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
