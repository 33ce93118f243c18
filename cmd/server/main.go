package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/district-metrics/internal/adapter/api"
	"github.com/user/district-metrics/internal/adapter/fetch"
	"github.com/user/district-metrics/internal/adapter/metrics"
	"github.com/user/district-metrics/internal/adapter/repository"
	"github.com/user/district-metrics/internal/adapter/repository/postgres"
	"github.com/user/district-metrics/internal/pkg/config"
	"github.com/user/district-metrics/internal/pkg/logger"
	"github.com/user/district-metrics/internal/resilience"
	"github.com/user/district-metrics/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

const districtCacheTTL = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewSnapshotMetrics()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage Backend ---
	stores, closeStores, err := repository.NewStores(ctx, cfg, logger, m.ObserveBreakerChange)
	if err != nil {
		logger.Error("failed to initialize storage backend", "error", err, "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeStores(closeCtx); err != nil {
			logger.Error("failed to close storage backend", "error", err)
		}
	}()

	// --- District Configuration (Postgres) ---
	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL is required for the api server")
		os.Exit(1)
	}
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	districtConfig := postgres.NewDistrictConfigRepository(db, logger, districtCacheTTL)

	// --- Collector Client ---
	fetcher := fetch.NewClient(cfg.SourceBaseURL, cfg.SourceAPIKey, cfg.FetchTimeout, cfg.SourceRateLimit, cfg.SourceBurst, logger)
	fetchBreaker := resilience.NewCircuitBreaker("collector", resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}, logger, m.ObserveBreakerChange)

	// --- Use Cases ---
	backfillUseCase := usecase.NewBackfillUseCase(
		stores.Snapshots,
		stores.TimeSeries,
		fetcher,
		districtConfig,
		usecase.NewBasicRecordValidator(),
		fetchBreaker,
		m,
		logger,
		usecase.BackfillOptions{
			DefaultConcurrency:  cfg.BackfillConcurrency,
			DefaultMaxRetries:   cfg.FetchMaxRetries,
			DefaultRetryBackoff: cfg.FetchRetryBackoff,
			SchemaVersion:       cfg.SchemaVersion,
			CalculationVersion:  cfg.CalculationVersion,
		},
	)
	deleteUseCase := usecase.NewDeleteSnapshotUseCase(stores.Snapshots, stores.TimeSeries, m, logger)

	// --- HTTP Server ---
	router := api.NewRouter(cfg, logger, stores.Snapshots, stores.TimeSeries, backfillUseCase, deleteUseCase)
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting api server", "addr", server.Addr, "backend", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server shut down gracefully")
}
