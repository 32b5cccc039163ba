package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string // postgres, pgx or sqlite
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	Path            string // sqlite file
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// LedgerConfig carries the money rules of the engine.
type LedgerConfig struct {
	StartingBalance decimal.Decimal
	MaxTopUp        decimal.Decimal
	LockTimeout     time.Duration
}

type Config struct {
	Port              string
	JWTSecret         string
	Database          DatabaseConfig
	Redis             RedisConfig
	Ledger            LedgerConfig
	RabbitMQURL       string
	EventExchange     string
	ReconcileSchedule string
	IdempotencyTTL    time.Duration
}

var envBindings = map[string]string{
	"server.port":                "PORT",
	"database.driver":            "DATABASE_DRIVER",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.path":              "DATABASE_PATH",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	"redis.enabled":              "REDIS_ENABLED",
	"redis.host":                 "REDIS_HOST",
	"redis.port":                 "REDIS_PORT",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"jwt.secret_key":             "JWT_SECRET_KEY",
	"ledger.starting_balance":    "LEDGER_STARTING_BALANCE",
	"ledger.max_topup":           "LEDGER_MAX_TOPUP",
	"ledger.lock_timeout":        "LEDGER_LOCK_TIMEOUT",
	"rabbitmq.url":               "RABBITMQ_URL",
	"rabbitmq.exchange":          "RABBITMQ_EXCHANGE",
	"reconcile.schedule":         "RECONCILE_SCHEDULE",
	"idempotency.ttl":            "IDEMPOTENCY_TTL",
}

const (
	defaultStartingBalance = "100.00"
	defaultMaxTopUp        = "1000000.00"
)

func setDefaults() {
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "ledger")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.path", "ledger.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ledger.starting_balance", defaultStartingBalance)
	viper.SetDefault("ledger.max_topup", defaultMaxTopUp)
	viper.SetDefault("ledger.lock_timeout", 5*time.Second)

	viper.SetDefault("rabbitmq.exchange", "ledger_events")
	viper.SetDefault("reconcile.schedule", "@every 1h")
	viper.SetDefault("idempotency.ttl", 24*time.Hour)
}

// Load reads an optional .env from dir, then environment variables, on top of defaults.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	setDefaults()
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	cfg := &Config{
		Port:      viper.GetString("server.port"),
		JWTSecret: viper.GetString("jwt.secret_key"),
		Database: DatabaseConfig{
			Driver:          strings.ToLower(viper.GetString("database.driver")),
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			Path:            viper.GetString("database.path"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Ledger: LedgerConfig{
			StartingBalance: decimalOrDefault("ledger.starting_balance", defaultStartingBalance),
			MaxTopUp:        decimalOrDefault("ledger.max_topup", defaultMaxTopUp),
			LockTimeout:     viper.GetDuration("ledger.lock_timeout"),
		},
		RabbitMQURL:       viper.GetString("rabbitmq.url"),
		EventExchange:     viper.GetString("rabbitmq.exchange"),
		ReconcileSchedule: viper.GetString("reconcile.schedule"),
		IdempotencyTTL:    viper.GetDuration("idempotency.ttl"),
	}

	switch cfg.Database.Driver {
	case "postgres", "pgx", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if !cfg.Ledger.MaxTopUp.IsPositive() {
		return nil, fmt.Errorf("ledger.max_topup must be positive, got %s", cfg.Ledger.MaxTopUp)
	}
	if cfg.Ledger.StartingBalance.IsNegative() {
		return nil, fmt.Errorf("ledger.starting_balance must not be negative, got %s", cfg.Ledger.StartingBalance)
	}

	return cfg, nil
}

func decimalOrDefault(key, fallback string) decimal.Decimal {
	raw := viper.GetString(key)
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("[CONFIG] invalid %s %q, using %s", key, raw, fallback)
		d = decimal.RequireFromString(fallback)
	}
	return d.Round(2)
}
