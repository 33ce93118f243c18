package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// DistrictConfigRepository implements domain.DistrictConfigRepository using
// PostgreSQL as the source of truth and an in-memory, time-based cache. The
// configured-district roster changes rarely, so a stale read within the TTL
// is acceptable.
type DistrictConfigRepository struct {
	db        *sql.DB
	logger    *slog.Logger
	mu        sync.RWMutex
	cached    []string
	expiresAt time.Time
	cacheTTL  time.Duration
}

// NewDistrictConfigRepository creates a new PostgreSQL district roster repository.
func NewDistrictConfigRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration) *DistrictConfigRepository {
	return &DistrictConfigRepository{
		db:       db,
		logger:   logger.With("component", "district_config_repository"),
		cacheTTL: cacheTTL,
	}
}

// GetConfiguredDistricts returns the ids of all enabled districts. It first
// checks the local cache and falls back to the database when the cache entry
// has expired.
func (r *DistrictConfigRepository) GetConfiguredDistricts(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	if r.cached != nil && time.Now().Before(r.expiresAt) {
		out := append([]string(nil), r.cached...)
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check in case another goroutine refreshed while we waited.
	if r.cached != nil && time.Now().Before(r.expiresAt) {
		return append([]string(nil), r.cached...), nil
	}

	query := `SELECT district_id FROM configured_districts WHERE enabled = true ORDER BY district_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("failed to load configured districts", "error", err)
		// Don't cache errors, let the next request retry from the DB.
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.cached = ids
	r.expiresAt = time.Now().Add(r.cacheTTL)
	return append([]string(nil), ids...), nil
}

// Ready reports whether the database answers a ping.
func (r *DistrictConfigRepository) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx) == nil
}
