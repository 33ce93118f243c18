package repository

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/user/district-metrics/internal/adapter/repository/local"
	mongorepo "github.com/user/district-metrics/internal/adapter/repository/mongo"
	redisrepo "github.com/user/district-metrics/internal/adapter/repository/redis"
	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/pkg/config"
	"github.com/user/district-metrics/internal/resilience"
)

// Stores bundles the two storage interfaces one backend provides. Callers
// never see which backend is behind them.
type Stores struct {
	Snapshots  domain.SnapshotStorage
	TimeSeries domain.TimeSeriesIndexStorage
}

// NewStores builds the storage layer selected by STORAGE_BACKEND, optionally
// wrapping the snapshot store with a Redis cache when REDIS_ADDR is set. The
// returned close function releases backend connections.
func NewStores(ctx context.Context, cfg *config.Config, logger *slog.Logger, onBreakerChange func(name string, from, to resilience.BreakerState)) (*Stores, func(context.Context) error, error) {
	stores, closeFn, err := newBackend(ctx, cfg, logger, onBreakerChange)
	if err != nil {
		return nil, nil, err
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		stores.Snapshots = redisrepo.NewSnapshotCache(stores.Snapshots, client, cfg.SnapshotCacheTTL, logger)

		inner := closeFn
		closeFn = func(ctx context.Context) error {
			cerr := client.Close()
			if err := inner(ctx); err != nil {
				return err
			}
			return cerr
		}
	}

	return stores, closeFn, nil
}

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, onBreakerChange func(name string, from, to resilience.BreakerState)) (*Stores, func(context.Context) error, error) {
	switch cfg.StorageBackend {
	case config.BackendLocal:
		snapshots, err := local.NewSnapshotRepository(cfg.LocalSnapshotDir, logger)
		if err != nil {
			return nil, nil, err
		}
		timeseries, err := local.NewTimeSeriesRepository(cfg.LocalIndexDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return &Stores{Snapshots: snapshots, TimeSeries: timeseries},
			func(context.Context) error { return nil }, nil

	case config.BackendMongoDB:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		db := client.Database(cfg.MongoDatabase)

		breakerCfg := resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown,
		}
		breaker := resilience.NewCircuitBreaker("mongodb", breakerCfg, logger, onBreakerChange)

		snapshots := mongorepo.NewSnapshotRepository(db, breaker, logger)
		timeseries := mongorepo.NewTimeSeriesRepository(db, breaker, logger)
		if err := snapshots.EnsureIndexes(ctx); err != nil {
			logger.Warn("snapshot index creation failed", "error", err)
		}
		if err := timeseries.EnsureIndexes(ctx); err != nil {
			logger.Warn("time-series index creation failed", "error", err)
		}

		return &Stores{Snapshots: snapshots, TimeSeries: timeseries},
			func(ctx context.Context) error { return client.Disconnect(ctx) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
