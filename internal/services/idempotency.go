package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledger-engine/internal/models"
)

const pendingMarker = "pending"

var ErrRequestInFlight = errors.New("a request with this idempotency key is still in progress")

// IdempotencyStore remembers receipts by client-supplied key so a retried
// request replays the original result instead of moving money twice.
// A nil store or nil Redis client disables it.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) enabled() bool {
	return s != nil && s.rdb != nil
}

func idempotencyKey(scope, key string) string {
	return "idempotency:" + scope + ":" + key
}

// Begin reserves key within scope. It returns the stored receipt when the key
// already completed, ErrRequestInFlight when it is reserved but not finished,
// and (nil, nil) when the caller should go ahead.
func (s *IdempotencyStore) Begin(ctx context.Context, scope, key string) (*models.Receipt, error) {
	if !s.enabled() || key == "" {
		return nil, nil
	}

	k := idempotencyKey(scope, key)
	reserved, err := s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		log.Printf("[IDEMPOTENCY] reserve %s failed, continuing without: %v", k, err)
		return nil, nil
	}
	if reserved {
		return nil, nil
	}

	val, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) || val == pendingMarker {
		return nil, ErrRequestInFlight
	}
	if err != nil {
		log.Printf("[IDEMPOTENCY] lookup %s failed: %v", k, err)
		return nil, ErrRequestInFlight
	}

	var receipt models.Receipt
	if err := json.Unmarshal([]byte(val), &receipt); err != nil {
		log.Printf("[IDEMPOTENCY] corrupt receipt under %s: %v", k, err)
		return nil, ErrRequestInFlight
	}
	return &receipt, nil
}

// Complete stores the receipt for replay.
func (s *IdempotencyStore) Complete(ctx context.Context, scope, key string, receipt *models.Receipt) {
	if !s.enabled() || key == "" {
		return
	}

	data, err := json.Marshal(receipt)
	if err != nil {
		log.Printf("[IDEMPOTENCY] encode receipt: %v", err)
		return
	}
	if err := s.rdb.Set(ctx, idempotencyKey(scope, key), string(data), s.ttl).Err(); err != nil {
		log.Printf("[IDEMPOTENCY] store receipt: %v", err)
	}
}

// Release frees a reservation after a failed operation so the client may retry.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) {
	if !s.enabled() || key == "" {
		return
	}
	if err := s.rdb.Del(ctx, idempotencyKey(scope, key)).Err(); err != nil {
		log.Printf("[IDEMPOTENCY] release: %v", err)
	}
}
