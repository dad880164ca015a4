package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/gradeinsight/gradeport/internal/config"
	"github.com/gradeinsight/gradeport/internal/ingest"
	"github.com/gradeinsight/gradeport/internal/logging"
	"github.com/gradeinsight/gradeport/internal/reconcile"
	"github.com/gradeinsight/gradeport/internal/store"
	"github.com/gradeinsight/gradeport/internal/tenant"
	"github.com/gradeinsight/gradeport/internal/web"
)

func main() {
	// Load .env if present (Overload overwrites existing env vars).
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"shards", len(cfg.Shards.URLs),
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"upload_tx_timeout", cfg.Upload.TxTimeout,
	)

	ctx := context.Background()

	registryPool, err := openPool(ctx, cfg.Registry.URL, poolSettings{maxConns: cfg.Registry.MaxConns})
	if err != nil {
		slog.Error("failed to connect to tenant registry", "error", err)
		os.Exit(1)
	}
	defer registryPool.Close()
	slog.Info("connected to tenant registry")

	shardStores := make([]store.Store, len(cfg.Shards.URLs))
	for i, url := range cfg.Shards.URLs {
		pool, err := openPool(ctx, url, poolSettings{
			maxConns:    cfg.Shards.MaxConns,
			minConns:    cfg.Shards.MinConns,
			maxLifetime: cfg.Shards.MaxConnLifetime,
		})
		if err != nil {
			slog.Error("failed to connect to shard", "shard", i+1, "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		if err := pg.Ping(ctx); err != nil {
			slog.Error("failed to ping shard", "shard", i+1, "error", err)
			os.Exit(1)
		}
		shardStores[i] = pg
		slog.Info("connected to shard", "shard", i+1)
	}

	registry := tenant.NewRegistry(registryPool, len(shardStores))
	router := tenant.NewRouter(registry, shardStores)
	engine := reconcile.NewEngine(cfg.Upload.TxTimeout)
	service := ingest.NewService(router, engine, cfg.Upload)
	server := web.NewServer(service, cfg.Server, cfg.Upload.MaxFileSize)

	// Graceful shutdown: stop accepting requests, then wait for in-flight
	// uploads to commit or roll back before closing the pools.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if err := service.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("shutdown proceeding with uploads still active",
				"active", service.ActiveUploads(), "error", err)
		}
	}()

	slog.Info("starting server", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

type poolSettings struct {
	maxConns    int
	minConns    int
	maxLifetime time.Duration
}

func openPool(ctx context.Context, url string, s poolSettings) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if s.maxConns > 0 {
		poolConfig.MaxConns = int32(s.maxConns)
	}
	if s.minConns > 0 {
		poolConfig.MinConns = int32(s.minConns)
	}
	if s.maxLifetime > 0 {
		poolConfig.MaxConnLifetime = s.maxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
