package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/district-metrics/internal/domain"
)

const (
	snapshotKeyPrefix   = "snapshot:"
	latestKey           = "snapshot:latest"
	latestSuccessfulKey = "snapshot:latest_successful"
)

// SnapshotCache is a read-through cache decorating another
// domain.SnapshotStorage. Cache failures never fail the request; reads fall
// through to the inner store and writes invalidate best-effort.
type SnapshotCache struct {
	inner  domain.SnapshotStorage
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSnapshotCache wraps inner with a Redis cache.
func NewSnapshotCache(inner domain.SnapshotStorage, client *redis.Client, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	return &SnapshotCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "snapshot_cache"),
	}
}

func (c *SnapshotCache) key(snapshotID string) string {
	return snapshotKeyPrefix + snapshotID
}

func (c *SnapshotCache) lookup(ctx context.Context, key string) *domain.Snapshot {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache lookup failed", "key", key, "error", err)
		}
		return nil
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Warn("corrupt cache entry dropped", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil
	}
	return &snapshot
}

func (c *SnapshotCache) store(ctx context.Context, key string, snapshot *domain.Snapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache store failed", "key", key, "error", err)
	}
}

func (c *SnapshotCache) invalidate(ctx context.Context, snapshotID string) {
	if err := c.client.Del(ctx, c.key(snapshotID), latestKey, latestSuccessfulKey).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", "snapshot_id", snapshotID, "error", err)
	}
}

// Save writes through to the inner store and invalidates affected entries.
func (c *SnapshotCache) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := c.inner.Save(ctx, snapshot); err != nil {
		return err
	}
	c.invalidate(ctx, snapshot.SnapshotID)
	return nil
}

// Get serves from cache when possible, filling it on a miss.
func (c *SnapshotCache) Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	if snapshot := c.lookup(ctx, c.key(snapshotID)); snapshot != nil {
		return snapshot, nil
	}
	snapshot, err := c.inner.Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, c.key(snapshotID), snapshot)
	return snapshot, nil
}

// GetLatest serves the newest snapshot, caching the answer briefly.
func (c *SnapshotCache) GetLatest(ctx context.Context) (*domain.Snapshot, error) {
	if snapshot := c.lookup(ctx, latestKey); snapshot != nil {
		return snapshot, nil
	}
	snapshot, err := c.inner.GetLatest(ctx)
	if err != nil || snapshot == nil {
		return snapshot, err
	}
	c.store(ctx, latestKey, snapshot)
	return snapshot, nil
}

// GetLatestSuccessful serves the newest analytics-eligible snapshot.
func (c *SnapshotCache) GetLatestSuccessful(ctx context.Context) (*domain.Snapshot, error) {
	if snapshot := c.lookup(ctx, latestSuccessfulKey); snapshot != nil {
		return snapshot, nil
	}
	snapshot, err := c.inner.GetLatestSuccessful(ctx)
	if err != nil || snapshot == nil {
		return snapshot, err
	}
	c.store(ctx, latestSuccessfulKey, snapshot)
	return snapshot, nil
}

// List is metadata-only and always goes to the inner store.
func (c *SnapshotCache) List(ctx context.Context, filter domain.SnapshotListFilter) ([]domain.SnapshotMeta, error) {
	return c.inner.List(ctx, filter)
}

// Delete removes from the inner store then invalidates.
func (c *SnapshotCache) Delete(ctx context.Context, snapshotID string) (bool, error) {
	deleted, err := c.inner.Delete(ctx, snapshotID)
	if err != nil {
		return deleted, err
	}
	if deleted {
		c.invalidate(ctx, snapshotID)
	}
	return deleted, nil
}

// Ready reflects the inner store only; a cold cache is not an outage.
func (c *SnapshotCache) Ready(ctx context.Context) bool {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn(fmt.Sprintf("cache unavailable, serving uncached: %v", err))
	}
	return c.inner.Ready(ctx)
}
