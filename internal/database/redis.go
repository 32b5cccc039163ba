package database

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledger-engine/internal/config"
)

// NewRedis connects to Redis. It returns nil when Redis is disabled or
// unreachable; callers treat a nil client as "feature off".
func NewRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		log.Println("[REDIS] disabled by configuration")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] connection failed, continuing without Redis: %v", err)
		rdb.Close()
		return nil
	}

	log.Println("[REDIS] connection established")
	return rdb
}
