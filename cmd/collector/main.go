package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/district-metrics/internal/adapter/fetch"
	"github.com/user/district-metrics/internal/adapter/metrics"
	"github.com/user/district-metrics/internal/adapter/repository"
	"github.com/user/district-metrics/internal/pkg/config"
	"github.com/user/district-metrics/internal/pkg/logger"
	"github.com/user/district-metrics/internal/resilience"
	"github.com/user/district-metrics/internal/usecase"
)

func main() {
	once := flag.Bool("once", false, "collect a single snapshot and exit")
	date := flag.String("date", "", "reporting date to collect (YYYY-MM-DD, default today)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting collector worker")

	m := metrics.NewSnapshotMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := repository.NewStores(ctx, cfg, log, m.ObserveBreakerChange)
	if err != nil {
		log.Error("failed to initialize storage backend", "error", err, "backend", cfg.StorageBackend)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeStores(closeCtx); err != nil {
			log.Error("failed to close storage backend", "error", err)
		}
	}()

	fetcher := fetch.NewClient(cfg.SourceBaseURL, cfg.SourceAPIKey, cfg.FetchTimeout, cfg.SourceRateLimit, cfg.SourceBurst, log)
	fetchBreaker := resilience.NewCircuitBreaker("collector", resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}, log, m.ObserveBreakerChange)
	retryer := resilience.NewRetryer(resilience.RetryPolicy{
		MaxAttempts:  cfg.FetchMaxRetries,
		InitialDelay: cfg.FetchRetryBackoff,
	}, log)

	collectUseCase := usecase.NewCollectSnapshotUseCase(
		stores.Snapshots,
		stores.TimeSeries,
		fetcher,
		usecase.NewBasicRecordValidator(),
		fetchBreaker,
		retryer,
		m,
		log,
		cfg.SchemaVersion,
		cfg.CalculationVersion,
	)

	collect := func(reportingDate string) {
		snapshot, err := collectUseCase.Collect(ctx, reportingDate)
		if err != nil {
			log.Error("collection run failed", "error", err)
			return
		}
		log.Info("collection run finished",
			"snapshot_id", snapshot.SnapshotID,
			"status", snapshot.Status,
			"districts", len(snapshot.Payload.Districts),
		)
	}

	// Collect immediately, then on the configured interval.
	collect(*date)
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.CollectInterval)
	defer ticker.Stop()

	log.Info("collector worker started", "interval", cfg.CollectInterval.String())

Loop:
	for {
		select {
		case <-ticker.C:
			collect("")
		case <-ctx.Done():
			log.Info("context cancelled, shutting down collector loop")
			break Loop
		}
	}

	log.Info("collector worker shut down gracefully")
}
