package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bnpl/invoice-engine/internal/auth"
	"github.com/bnpl/invoice-engine/internal/chain"
	"github.com/bnpl/invoice-engine/internal/config"
	"github.com/bnpl/invoice-engine/internal/invoice"
	"github.com/bnpl/invoice-engine/internal/metrics"
	"github.com/bnpl/invoice-engine/internal/signing"
	"github.com/bnpl/invoice-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Invoice signer ---
	signer, err := signing.NewSigner(cfg.InvoiceSignerKey, signing.Domain{
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.LoanManagerAddress,
	})
	if err != nil {
		slog.Error("invalid signer key", "err", err)
		os.Exit(1)
	}
	slog.Info("invoice signer ready", "address", signer.Address().Hex(), "chain_id", cfg.ChainID)

	// --- Ledger reader ---
	reader, err := chain.Dial(cfg.RPCURL, cfg.LoanManagerAddress, cfg.LedgerReadTimeout)
	if err != nil {
		slog.Error("ledger RPC connection failed", "rpc_url", cfg.RPCURL, "err", err)
		os.Exit(1)
	}
	slog.Info("ledger reader ready", "contract", cfg.LoanManagerAddress.Hex(), "timeout", cfg.LedgerReadTimeout)

	// --- WebSocket hub ---
	hub := invoice.NewStatusHub()
	go hub.Run()

	// --- Invoice service ---
	svc := invoice.NewService(st, reader, signer, hub, cfg.AppBaseURL)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for checkout cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"invoice-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Merchant API: authenticated by API key.
	r.Route("/api/merchant", func(r chi.Router) {
		r.Use(auth.Middleware(st))
		r.Post("/invoices", svc.HandleCreateInvoice)
		r.Get("/invoices/{invoiceID}", svc.HandleGetInvoice)
		r.Get("/invoices/by-correlation/{correlationID}", svc.HandleGetInvoiceByCorrelation)
	})

	// Public checkout API: the correlation id is the capability.
	r.Route("/api/public", func(r chi.Router) {
		r.Get("/invoices/by-correlation/{correlationID}", svc.HandlePublicInvoice)
		r.Get("/invoices/by-correlation/{correlationID}/repay-preview", svc.HandleRepayPreview)

		// WebSocket endpoint for checkout status updates.
		r.Get("/ws", hub.HandleWS)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("invoice-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down invoice-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("invoice-engine stopped")
}
