// Command rankctl runs the ranking engine's maintenance jobs: schema
// migrations, snapshot refresh, the weekly summary and privacy purges.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/courserank/ranking-engine/internal/cache"
	"github.com/courserank/ranking-engine/internal/config"
	"github.com/courserank/ranking-engine/internal/leaderboard"
	"github.com/courserank/ranking-engine/internal/notify"
	"github.com/courserank/ranking-engine/internal/snapshot"
	"github.com/courserank/ranking-engine/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := config.Load()
	errAndDie(err)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		errAndDie(err)
		defer pool.Close()
		st = store.NewPostgresStore(pool)
	} else {
		slog.Warn("DATABASE_URL not set, jobs run against an empty in-memory store")
		st = store.NewMemoryStore()
	}

	var rc cache.Cache = cache.NewMemoryCache()
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		errAndDie(err)
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		rc = cache.NewRedisCache(rdb)
	}

	cli := commandLine{
		databaseURL: cfg.Database.URL,
		refresher:   snapshot.NewRefresher(st, cfg.Refresh.Concurrency),
		weekly:      snapshot.NewWeeklySummary(st, notify.LogNotifier{}),
		purger: leaderboard.NewService(st, rc, leaderboard.Options{
			CacheTTL:     cfg.Cache.TTL,
			DefaultLimit: cfg.Ranking.Size,
			Location:     cfg.Location(),
			WeekStartDay: cfg.WeekStart(),
		}),
		out: os.Stdout,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			slog.Error("command failed", "err", err)
		}
		stop()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
}
