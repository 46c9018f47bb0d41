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

	"github.com/courserank/ranking-engine/internal/award"
	"github.com/courserank/ranking-engine/internal/cache"
	"github.com/courserank/ranking-engine/internal/config"
	"github.com/courserank/ranking-engine/internal/events"
	"github.com/courserank/ranking-engine/internal/httpapi"
	"github.com/courserank/ranking-engine/internal/leaderboard"
	"github.com/courserank/ranking-engine/internal/metrics"
	"github.com/courserank/ranking-engine/internal/notify"
	"github.com/courserank/ranking-engine/internal/snapshot"
	"github.com/courserank/ranking-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}
	policy, err := cfg.Policy()
	if err != nil {
		slog.Error("points policy invalid", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Ranking cache ---
	var rc cache.Cache
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		rc = cache.NewRedisCache(rdb)
		slog.Info("Redis ranking cache enabled", "ttl", cfg.Cache.TTL.String())
	} else {
		rc = cache.NewMemoryCache()
		slog.Info("in-process ranking cache enabled", "ttl", cfg.Cache.TTL.String())
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := notify.NewHub()
	go hub.Run(ctx)
	notifier := notify.Multi{notify.LogNotifier{}, hub}

	// --- Services ---
	engine := award.NewEngine(st, rc, policy)
	observer := events.NewObserver(engine, st, notifier, events.Options{
		MultipleQuizAttempts:    cfg.MultipleQuizAttempts,
		EnforceUniqueCompletion: cfg.EnforceUniqueCompletion,
	})
	board := leaderboard.NewService(st, rc, leaderboard.Options{
		CacheTTL:     cfg.Cache.TTL,
		DefaultLimit: cfg.Ranking.Size,
		Location:     cfg.Location(),
		WeekStartDay: cfg.WeekStart(),
	})
	refresher := snapshot.NewRefresher(st, cfg.Refresh.Concurrency)
	if cfg.Refresh.Interval > 0 {
		go refresher.Run(ctx, cfg.Refresh.Interval)
	}

	api := httpapi.NewHandler(observer, engine, st, board, refresher)

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
		w.Write([]byte(`{"status":"ok","service":"ranking-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint for ranking notifications: ?user= required, ?course= optional.
	r.Get("/ws", hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		api.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ranking-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ranking-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ranking-engine stopped")
}
