package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/ruralpay/ledger-engine/internal/config"
)

// Open builds the connection pool for the configured driver and verifies it.
// The caller owns the returned pool and must close it. lockTimeout bounds
// waits on locks held by other transactions.
func Open(ctx context.Context, cfg config.DatabaseConfig, lockTimeout time.Duration) (*sql.DB, Dialect, error) {
	if cfg.Driver == "sqlite" {
		db, err := OpenSQLite(cfg.Path, lockTimeout)
		if err != nil {
			return nil, "", err
		}
		return db, SQLite, nil
	}

	db, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	return db, Postgres, nil
}

// OpenPostgres connects through lib/pq ("postgres") or pgx's database/sql driver ("pgx").
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Printf("[DATABASE] %s connection established", driver)
	return db, nil
}
