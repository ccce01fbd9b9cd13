package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/outcomex/clob-engine/internal/api"
	"github.com/outcomex/clob-engine/internal/engine"
	"github.com/outcomex/clob-engine/internal/limits"
	"github.com/outcomex/clob-engine/internal/market"
	"github.com/outcomex/clob-engine/internal/metrics"
	"github.com/outcomex/clob-engine/internal/settlement"
	"github.com/outcomex/clob-engine/internal/signing"
	"github.com/outcomex/clob-engine/internal/store"
)

func envInt64(name string, def int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Error("invalid integer env var", "name", name, "value", raw)
		os.Exit(1)
	}
	return v
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Market configuration ---
	mkt := market.Market{
		ID:                os.Getenv("MARKET_ID"),
		ChainID:           envInt64("CHAIN_ID", 137),
		VerifyingContract: common.HexToAddress(os.Getenv("VERIFYING_CONTRACT")),
		OutcomeCount:      int(envInt64("OUTCOME_COUNT", 2)),
		TickSize:          envInt64("TICK_SIZE", 10_000), // 0.01 in micro-units
		FeeBps:            envInt64("FEE_BPS", 20),
	}
	if mkt.ID == "" {
		mkt.ID = "default"
	}
	if mkt.VerifyingContract == (common.Address{}) {
		slog.Warn("VERIFYING_CONTRACT not set, using development placeholder")
		mkt.VerifyingContract = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	}
	if raw := os.Getenv("RESOLUTION_TIME"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			slog.Error("invalid RESOLUTION_TIME", "value", raw, "err", err)
			os.Exit(1)
		}
		mkt.ResolutionTime = t
	}

	verifier := signing.NewVerifier(signing.Domain{
		Name:              "OutcomeX CLOB",
		Version:           "1",
		ChainID:           mkt.ChainID,
		VerifyingContract: mkt.VerifyingContract,
	})

	// --- Position limits ---
	maxOpen := int(envInt64("MAX_OPEN_ORDERS", 100))
	maxExposure := envInt64("MAX_OUTCOME_EXPOSURE", 1_000_000_000_000) // 1M units
	limiter := limits.NewLimiter(maxOpen, maxExposure)

	eng, err := engine.New(mkt, verifier, engine.WithLimiter(limiter))
	if err != nil {
		slog.Error("invalid market configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
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

	// --- Collateral ledger ---
	ledger := settlement.NewMemoryLedger(mkt.OutcomeCount)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- CLOB service ---
	svc := api.NewService(eng, st, ledger, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"clob-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time book events.
		r.Get("/ws", wsHub.HandleWS)

		// Market configuration and admin controls.
		r.Get("/market", svc.GetMarket)
		r.Post("/admin/pause", svc.Pause)
		r.Post("/admin/resume", svc.Resume)
		r.Post("/admin/tick-size", svc.SetTickSize)
		r.Post("/admin/resolution-time", svc.SetResolutionTime)

		// Order execution.
		r.Post("/orders", svc.PlaceOrder)
		r.Post("/orders/fill", svc.FillOrder)
		r.Post("/orders/cancel", svc.CancelOrder)
		r.Post("/orders/cancel-salt", svc.CancelSalt)
		r.Post("/match", svc.Match)

		// Collateral.
		r.Post("/mint", svc.Mint)

		// Read side.
		r.Get("/book/depth", svc.Depth)
		r.Get("/book/queue", svc.Queue)
		r.Get("/book/stats", svc.Stats)
		r.Get("/trades", svc.Trades)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("clob-engine listening", "port", port, "market", mkt.ID, "outcomes", mkt.OutcomeCount)
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

	slog.Info("shutting down clob-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("clob-engine stopped")
}
