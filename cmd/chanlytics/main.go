// Package main is the entry point for the chanlytics API server.
// It loads configuration, connects to PostgreSQL and Valkey, wires the cache
// service into the entity handlers, and starts the HTTP server with graceful
// shutdown support.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chanlytics/internal/cache"
	"chanlytics/internal/config"
	"chanlytics/internal/database"
	"chanlytics/internal/entity"
	"chanlytics/internal/handlers"
	"chanlytics/internal/middleware"
	"chanlytics/internal/router"
	"chanlytics/internal/store"
)

func main() {
	// Load configuration from environment variables.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured logger: JSON in production, text in development.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var logHandler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if !cfg.IsDev() {
		opts.Level = slog.LevelInfo
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(logHandler))

	slog.Info("configuration loaded",
		"env", cfg.Env,
		"addr", cfg.Addr(),
	)

	// Resolve the entity table once; it is read-only afterwards.
	registry, err := entity.LoadRegistry(cfg.EntitiesFile)
	if err != nil {
		slog.Error("failed to load entity registry", "error", err)
		os.Exit(1)
	}

	// Connect to PostgreSQL.
	db, err := database.Connect(cfg.DSN())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run pending migrations.
	if err := database.Migrate(db); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Seed development data (no-op if data already exists).
	if cfg.IsDev() {
		if err := database.Seed(db); err != nil {
			slog.Error("failed to seed database", "error", err)
			os.Exit(1)
		}
	}

	// Connect to Valkey.
	valkeyClient, err := cache.ConnectValkey(cfg.Valkey())
	if err != nil {
		slog.Error("failed to connect to valkey", "error", err)
		os.Exit(1)
	}
	defer valkeyClient.Close()

	cacheStore := cache.NewRedisStore(valkeyClient,
		cache.WithScanBatch(cfg.CacheScanBatch),
		cache.WithMaxScanIterations(cfg.CacheScanMaxIterations),
	)
	cacheService := cache.NewService(cacheStore, registry, cache.WithDefaultTTL(cfg.CacheTTLEntity))

	slog.Info("entity registry loaded",
		"entities", len(registry.Enabled()),
		"channeled", len(registry.ChanneledMap()),
	)

	// Create handler groups with their dependencies.
	deps := handlers.Deps{
		Registry: registry,
		Repos:    store.NewRepositories(db),
		Cache:    cacheService,
		CacheLog: store.NewCacheLogStore(db),
		// Entity reads use the cache service's default TTL.
		TTLs: handlers.TTLs{
			List:  cfg.CacheTTLList,
			Count: cfg.CacheTTLCount,
		},
	}

	var limiterOpts []middleware.RateLimiterOption
	if cfg.RateLimitTrustProxy {
		limiterOpts = append(limiterOpts, middleware.TrustProxyHeaders())
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, limiterOpts...)
	defer limiter.Stop()

	r := router.New(router.Handlers{
		Crud:      handlers.NewCrud(deps),
		Channeled: handlers.NewChanneledCrud(deps),
		Cache:     handlers.NewCacheAdmin(deps),
	}, limiter, map[string]router.HealthCheck{
		"database": db.PingContext,
		"valkey": func(ctx context.Context) error {
			return valkeyClient.Ping(ctx).Err()
		},
	})

	// Create the HTTP server with sensible timeouts.
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start the server in a goroutine so we can listen for shutdown signals.
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: wait for SIGINT or SIGTERM, then drain connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig)

	// Give active requests up to 30 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully", "cache_stats", cacheService.Stats())
}
