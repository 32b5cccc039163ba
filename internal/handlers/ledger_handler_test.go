package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	mW "github.com/ruralpay/ledger-engine/internal/middleware"
	"github.com/ruralpay/ledger-engine/internal/models"
	"github.com/ruralpay/ledger-engine/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) TopUp(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Receipt, error) {
	args := m.Called(accountID, amount.StringFixed(2))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Receipt), args.Error(1)
}

func (m *MockLedger) Purchase(ctx context.Context, accountID, itemID string) (*models.Receipt, error) {
	args := m.Called(accountID, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Receipt), args.Error(1)
}

func (m *MockLedger) Statement(ctx context.Context, accountID string) (*models.Statement, error) {
	args := m.Called(accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Statement), args.Error(1)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifyAccount(ctx context.Context, accountID string) (*services.AccountReport, error) {
	args := m.Called(accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AccountReport), args.Error(1)
}

func newTestRouter(h *LedgerHandler, accountID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if accountID != "" {
				req = req.WithContext(mW.WithAccountID(req.Context(), accountID))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.Routes(r)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func ledgerErr(kind error) error {
	return &services.LedgerError{Kind: kind, Op: "purchase", AccountID: "alice"}
}

func TestLedgerHandler_TopUp(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ledger := new(MockLedger)
		router := newTestRouter(NewLedgerHandler(ledger, nil, nil), "alice")

		ledger.On("TopUp", "alice", "50.00").Return(&models.Receipt{
			Operation:  models.OperationTopUp,
			AccountID:  "alice",
			Amount:     decimal.RequireFromString("50"),
			NewBalance: decimal.RequireFromString("150"),
			EntryID:    "e-1",
		}, nil)

		w := doRequest(t, router, http.MethodPost, "/topups", `{"amount": 50}`, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp receiptResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "150.00", resp.NewBalance)
		assert.Equal(t, "alice", resp.AccountID)
		ledger.AssertExpectations(t)
	})

	t.Run("string amount is accepted", func(t *testing.T) {
		ledger := new(MockLedger)
		router := newTestRouter(NewLedgerHandler(ledger, nil, nil), "alice")

		ledger.On("TopUp", "alice", "0.10").Return(nil, ledgerErr(services.ErrInvalidAmount))

		w := doRequest(t, router, http.MethodPost, "/topups", `{"amount": "0.10"}`, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp services.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_AMOUNT", resp.Code)
	})

	t.Run("missing amount", func(t *testing.T) {
		router := newTestRouter(NewLedgerHandler(new(MockLedger), nil, nil), "alice")

		w := doRequest(t, router, http.MethodPost, "/topups", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		router := newTestRouter(NewLedgerHandler(new(MockLedger), nil, nil), "alice")

		w := doRequest(t, router, http.MethodPost, "/topups", `{"amount": 5, "account": "bob"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		router := newTestRouter(NewLedgerHandler(new(MockLedger), nil, nil), "")

		w := doRequest(t, router, http.MethodPost, "/topups", `{"amount": 5}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestLedgerHandler_PurchaseErrors(t *testing.T) {
	tests := []struct {
		name       string
		kind       error
		wantStatus int
		wantCode   string
	}{
		{"account not found", services.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"item not found", services.ErrItemNotFound, http.StatusNotFound, "ITEM_NOT_FOUND"},
		{"item unavailable", services.ErrItemUnavailable, http.StatusConflict, "ITEM_UNAVAILABLE"},
		{"insufficient funds", services.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"busy", services.ErrBusy, http.StatusServiceUnavailable, "BUSY"},
		{"store unavailable", services.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"canceled", services.ErrCanceled, statusClientClosedRequest, "CANCELED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(MockLedger)
			router := newTestRouter(NewLedgerHandler(ledger, nil, nil), "alice")

			ledger.On("Purchase", "alice", "item-x").Return(nil, ledgerErr(tt.kind))

			w := doRequest(t, router, http.MethodPost, "/purchases", `{"itemId": "item-x"}`, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp services.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.kind == services.ErrBusy {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestLedgerHandler_PurchaseIdempotent(t *testing.T) {
	rdb, redisMock := redismock.NewClientMock()
	ttl := time.Hour
	idem := services.NewIdempotencyStore(rdb, ttl)

	ledger := new(MockLedger)
	router := newTestRouter(NewLedgerHandler(ledger, nil, idem), "alice")

	receipt := &models.Receipt{
		Operation:  models.OperationPurchase,
		AccountID:  "alice",
		ItemID:     "item-x",
		PurchaseID: "p-1",
		Amount:     decimal.RequireFromString("30"),
		NewBalance: decimal.RequireFromString("120"),
		EntryID:    "e-2",
	}
	data, err := json.Marshal(receipt)
	require.NoError(t, err)

	key := "idempotency:alice:purchase:req-42"
	redisMock.ExpectSetNX(key, "pending", ttl).SetVal(true)
	redisMock.ExpectSet(key, string(data), ttl).SetVal("OK")
	redisMock.ExpectSetNX(key, "pending", ttl).SetVal(false)
	redisMock.ExpectGet(key).SetVal(string(data))

	ledger.On("Purchase", "alice", "item-x").Return(receipt, nil).Once()

	headers := map[string]string{"Idempotency-Key": "req-42"}
	first := doRequest(t, router, http.MethodPost, "/purchases", `{"itemId": "item-x"}`, headers)
	second := doRequest(t, router, http.MethodPost, "/purchases", `{"itemId": "item-x"}`, headers)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)

	var replayed receiptResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &replayed))
	assert.True(t, replayed.Replayed)
	assert.Equal(t, "p-1", replayed.PurchaseID)
	assert.Equal(t, "120.00", replayed.NewBalance)

	ledger.AssertNumberOfCalls(t, "Purchase", 1)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestLedgerHandler_IdempotencyKeyAcrossOperations(t *testing.T) {
	ttl := time.Hour
	topUp := &models.Receipt{
		Operation:  models.OperationTopUp,
		AccountID:  "alice",
		Amount:     decimal.RequireFromString("50"),
		NewBalance: decimal.RequireFromString("150"),
		EntryID:    "e-1",
	}
	purchase := &models.Receipt{
		Operation:  models.OperationPurchase,
		AccountID:  "alice",
		ItemID:     "item-x",
		PurchaseID: "p-1",
		Amount:     decimal.RequireFromString("30"),
		NewBalance: decimal.RequireFromString("120"),
		EntryID:    "e-2",
	}
	topUpData, err := json.Marshal(topUp)
	require.NoError(t, err)
	purchaseData, err := json.Marshal(purchase)
	require.NoError(t, err)

	t.Run("same key on both routes runs both operations", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		ledger := new(MockLedger)
		router := newTestRouter(NewLedgerHandler(ledger, nil, services.NewIdempotencyStore(rdb, ttl)), "alice")

		topUpKey := "idempotency:alice:topup:shared"
		purchaseKey := "idempotency:alice:purchase:shared"
		redisMock.ExpectSetNX(topUpKey, "pending", ttl).SetVal(true)
		redisMock.ExpectSet(topUpKey, string(topUpData), ttl).SetVal("OK")
		redisMock.ExpectSetNX(purchaseKey, "pending", ttl).SetVal(true)
		redisMock.ExpectSet(purchaseKey, string(purchaseData), ttl).SetVal("OK")

		ledger.On("TopUp", "alice", "50.00").Return(topUp, nil).Once()
		ledger.On("Purchase", "alice", "item-x").Return(purchase, nil).Once()

		headers := map[string]string{"Idempotency-Key": "shared"}
		first := doRequest(t, router, http.MethodPost, "/topups", `{"amount": 50}`, headers)
		second := doRequest(t, router, http.MethodPost, "/purchases", `{"itemId": "item-x"}`, headers)

		require.Equal(t, http.StatusOK, first.Code)
		require.Equal(t, http.StatusOK, second.Code)

		var resp receiptResponse
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
		assert.False(t, resp.Replayed)
		assert.Equal(t, "p-1", resp.PurchaseID)

		ledger.AssertExpectations(t)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("stored receipt of another operation is not replayed", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		ledger := new(MockLedger)
		router := newTestRouter(NewLedgerHandler(ledger, nil, services.NewIdempotencyStore(rdb, ttl)), "alice")

		key := "idempotency:alice:purchase:k1"
		redisMock.ExpectSetNX(key, "pending", ttl).SetVal(false)
		redisMock.ExpectGet(key).SetVal(string(topUpData))

		w := doRequest(t, router, http.MethodPost, "/purchases", `{"itemId": "item-x"}`, map[string]string{"Idempotency-Key": "k1"})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp services.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", resp.Code)
		ledger.AssertNotCalled(t, "Purchase", "alice", "item-x")
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestLedgerHandler_Statement(t *testing.T) {
	ledger := new(MockLedger)
	router := newTestRouter(NewLedgerHandler(ledger, nil, nil), "alice")

	purchaseID := "p-1"
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ledger.On("Statement", "alice").Return(&models.Statement{
		Account: models.Account{ID: "alice", Balance: decimal.RequireFromString("120")},
		Entries: []models.LedgerEntry{
			{Seq: 1, ID: "e-1", Kind: models.EntryTopUp, Amount: decimal.RequireFromString("50"), ResultingBalance: decimal.RequireFromString("150"), CreatedAt: now},
			{Seq: 2, ID: "e-2", Kind: models.EntryPurchaseDebit, Amount: decimal.RequireFromString("-30"), RelatedPurchaseID: &purchaseID, ResultingBalance: decimal.RequireFromString("120"), CreatedAt: now},
		},
		Purchases: []models.Purchase{
			{ID: "p-1", AccountID: "alice", ItemID: "item-x", PricePaid: decimal.RequireFromString("30"), CreatedAt: now},
		},
	}, nil)

	w := doRequest(t, router, http.MethodGet, "/ledger", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Balance   string             `json:"balance"`
		Entries   []entryResponse    `json:"entries"`
		Purchases []purchaseResponse `json:"purchases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "120.00", resp.Balance)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "-30.00", resp.Entries[1].Amount)
	assert.Equal(t, "p-1", *resp.Entries[1].RelatedPurchaseID)
	require.Len(t, resp.Purchases, 1)
	assert.Equal(t, "30.00", resp.Purchases[0].PricePaid)
}

func TestLedgerHandler_Verify(t *testing.T) {
	verifier := new(MockVerifier)
	router := newTestRouter(NewLedgerHandler(new(MockLedger), verifier, nil), "alice")

	verifier.On("VerifyAccount", "alice").Return(&services.AccountReport{
		AccountID:       "alice",
		OpeningBalance:  decimal.RequireFromString("100"),
		ExpectedBalance: decimal.RequireFromString("120"),
		StoredBalance:   decimal.RequireFromString("120"),
		Entries:         2,
		Consistent:      true,
	}, nil)

	w := doRequest(t, router, http.MethodGet, "/ledger/verify", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["consistent"])
	assert.Equal(t, "120.00", resp["storedBalance"])
}
