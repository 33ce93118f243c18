package usecase

import (
	"context"
	"log/slog"

	"github.com/user/district-metrics/internal/adapter/metrics"
	"github.com/user/district-metrics/internal/domain"
)

// DeleteSnapshotResult reports the two halves of a cascading delete
// independently: the snapshot is authoritative, the time-series entries are
// derived.
type DeleteSnapshotResult struct {
	SnapshotDeleted          bool `json:"snapshot_deleted"`
	TimeSeriesEntriesRemoved int  `json:"time_series_entries_removed"`
	TimeSeriesCleanupOK      bool `json:"time_series_cleanup_ok"`
}

// DeleteSnapshotUseCase removes a snapshot together with the time-series
// points it contributed.
type DeleteSnapshotUseCase struct {
	snapshots  domain.SnapshotStorage
	timeseries domain.TimeSeriesIndexStorage
	metrics    *metrics.SnapshotMetrics
	logger     *slog.Logger
}

// NewDeleteSnapshotUseCase creates the cascading-delete use case. metrics
// may be nil.
func NewDeleteSnapshotUseCase(snapshots domain.SnapshotStorage, timeseries domain.TimeSeriesIndexStorage, m *metrics.SnapshotMetrics, logger *slog.Logger) *DeleteSnapshotUseCase {
	return &DeleteSnapshotUseCase{
		snapshots:  snapshots,
		timeseries: timeseries,
		metrics:    m,
		logger:     logger.With("component", "delete_snapshot"),
	}
}

// Delete removes the snapshot's derived time-series entries first
// (best-effort), then the snapshot itself. A failing time-series step never
// fails the overall delete.
func (uc *DeleteSnapshotUseCase) Delete(ctx context.Context, snapshotID string) (DeleteSnapshotResult, error) {
	result := DeleteSnapshotResult{TimeSeriesCleanupOK: true}

	removed, err := uc.timeseries.DeleteSnapshotEntries(ctx, snapshotID)
	result.TimeSeriesEntriesRemoved = removed
	if err != nil {
		result.TimeSeriesCleanupOK = false
		uc.logger.Error("time-series cleanup failed, continuing with snapshot delete",
			"snapshot_id", snapshotID, "removed_before_failure", removed, "error", err)
	}

	deleted, err := uc.snapshots.Delete(ctx, snapshotID)
	if err != nil {
		return result, err
	}
	result.SnapshotDeleted = deleted

	if deleted {
		if uc.metrics != nil {
			uc.metrics.SnapshotsDeleted.Inc()
		}
		uc.logger.Info("snapshot deleted", "snapshot_id", snapshotID,
			"time_series_entries_removed", removed)
	}
	return result, nil
}
