package main

import (
	"context"
	"errors"
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
	"golang.org/x/sync/errgroup"

	"github.com/gomarketplace/cart-engine/internal/api"
	"github.com/gomarketplace/cart-engine/internal/cart"
	"github.com/gomarketplace/cart-engine/internal/config"
	"github.com/gomarketplace/cart-engine/internal/logger"
	"github.com/gomarketplace/cart-engine/internal/metrics"
	"github.com/gomarketplace/cart-engine/internal/persist"
	"github.com/gomarketplace/cart-engine/internal/store"
	"github.com/gomarketplace/cart-engine/internal/telemetry"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: "cart-engine",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("cart-engine failed", "err", err)
		os.Exit(1)
	}
	log.Info("cart-engine stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.InitTracerProvider(ctx, "cart-engine", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	// --- Initialize key-value store ---
	kv, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Cart store ---
	bridge := persist.NewBridge(kv, persist.WithKey(cfg.StorageKey), persist.WithLogger(log))
	cartStore := cart.New(ctx, bridge, cart.WithLogger(log))

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	svc := api.NewService(log)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"cart-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cart.Middleware(cartStore))

		// WebSocket endpoint for real-time cart updates.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/cart", svc.GetCart)
			r.Post("/cart/items", svc.AddItem)
			r.Post("/cart/items/{itemID}/increment", svc.IncrementItem)
			r.Post("/cart/items/{itemID}/decrement", svc.DecrementItem)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		wsHub.Follow(gctx, cartStore)
		return nil
	})
	g.Go(func() error {
		log.Info("cart-engine listening", "port", cfg.Port, "storage_key", bridge.Key())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down cart-engine...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "err", err)
		}
		// Drain the last cart snapshot before the store's connections close.
		if err := cartStore.Close(shutdownCtx); err != nil {
			log.Error("cart store close error", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore picks the cart's durable backend from configuration and
// returns cleanup funcs to run on exit.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, []func(), error) {
	var cleanup []func()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL == "" {
		if rdb != nil {
			log.Info("using Redis cart store")
			return store.NewRedisStore(rdb), cleanup, nil
		}
		log.Warn("DATABASE_URL and REDIS_URL not set, using in-memory store (cart will not persist)")
		return store.NewMemoryStore(), cleanup, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		for _, fn := range cleanup {
			fn()
		}
		return nil, nil, err
	}
	log.Info("connected to PostgreSQL")

	if rdb == nil {
		return pg, cleanup, nil
	}
	log.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	return store.NewCachedStore(pg, rdb, cfg.CacheTTL), cleanup, nil
}
