package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ruralpay/ledger-engine/internal/config"
	"github.com/ruralpay/ledger-engine/internal/database"
	"github.com/ruralpay/ledger-engine/internal/events"
	"github.com/ruralpay/ledger-engine/internal/handlers"
	mW "github.com/ruralpay/ledger-engine/internal/middleware"
	"github.com/ruralpay/ledger-engine/internal/services"
	"github.com/ruralpay/ledger-engine/internal/store"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY must be set")
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	db, dialect, err := database.Open(startupCtx, cfg.Database, cfg.Ledger.LockTimeout)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(startupCtx, db, dialect); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	redisClient := database.NewRedis(startupCtx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := events.NewPublisher(cfg.RabbitMQURL, cfg.EventExchange)
	defer publisher.Close()

	ledgerStore := store.NewSQLStore(db, dialect, cfg.Ledger.LockTimeout)
	ledgerService := services.NewLedgerService(ledgerStore, services.LedgerOptions{
		StartingBalance: cfg.Ledger.StartingBalance,
		MaxTopUp:        cfg.Ledger.MaxTopUp,
	}, services.NewAuditLogger(), publisher)
	reconciler := services.NewReconciler(ledgerStore)
	idempotency := services.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
	ledgerHandler := handlers.NewLedgerHandler(ledgerService, reconciler, idempotency)

	scheduler := services.NewReconcileScheduler(reconciler, cfg.ReconcileSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start reconciler: %v", err)
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.Auth([]byte(cfg.JWTSecret)))
			ledgerHandler.Routes(r)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (%s)", cfg.Port, dialect)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("Reconciliation still running at shutdown")
	}

	log.Println("Server stopped")
}
