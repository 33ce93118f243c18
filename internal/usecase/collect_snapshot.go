package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/user/district-metrics/internal/adapter/metrics"
	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/resilience"
)

// CollectSnapshotUseCase builds one snapshot for a single reporting date by
// fetching all configured districts at once. The scheduled collector drives
// it daily; backfill covers historical ranges.
type CollectSnapshotUseCase struct {
	snapshots          domain.SnapshotStorage
	timeseries         domain.TimeSeriesIndexStorage
	fetcher            domain.DistrictFetcher
	validator          domain.RecordValidator
	fetchBreaker       *resilience.CircuitBreaker
	retryer            *resilience.Retryer
	metrics            *metrics.SnapshotMetrics
	logger             *slog.Logger
	schemaVersion      string
	calculationVersion string
}

// NewCollectSnapshotUseCase creates the collection use case. metrics may be
// nil.
func NewCollectSnapshotUseCase(
	snapshots domain.SnapshotStorage,
	timeseries domain.TimeSeriesIndexStorage,
	fetcher domain.DistrictFetcher,
	validator domain.RecordValidator,
	fetchBreaker *resilience.CircuitBreaker,
	retryer *resilience.Retryer,
	m *metrics.SnapshotMetrics,
	logger *slog.Logger,
	schemaVersion, calculationVersion string,
) *CollectSnapshotUseCase {
	return &CollectSnapshotUseCase{
		snapshots:          snapshots,
		timeseries:         timeseries,
		fetcher:            fetcher,
		validator:          validator,
		fetchBreaker:       fetchBreaker,
		retryer:            retryer,
		metrics:            m,
		logger:             logger.With("component", "collect_snapshot"),
		schemaVersion:      schemaVersion,
		calculationVersion: calculationVersion,
	}
}

// Collect fetches, validates and persists one snapshot. date defaults to
// today (UTC). A fetch or validation failure still writes a failed snapshot
// so the gap is visible in history, and the original error is returned.
func (uc *CollectSnapshotUseCase) Collect(ctx context.Context, date string) (*domain.Snapshot, error) {
	if date == "" {
		date = time.Now().UTC().Format(domain.DateLayout)
	} else if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return nil, domain.NewValidationError("invalid date %q", date)
	}
	started := time.Now()

	var records []domain.DistrictRecord
	attempts := 0
	err := uc.retryer.Do(ctx, "collect districts", func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			uc.countRetry()
		}
		return uc.fetchBreaker.Execute(ctx, func(ctx context.Context) error {
			var ferr error
			records, ferr = uc.fetcher.FetchAllDistricts(ctx)
			return ferr
		})
	})
	if err != nil {
		uc.countFetch(resilience.Classify(err).String())
	} else {
		uc.countFetch("success")
	}
	if err == nil && len(records) == 0 {
		err = fmt.Errorf("source returned no districts")
	}
	if err == nil {
		if res := uc.validator.Validate(records); !res.IsValid {
			err = domain.NewValidationError("fetched records rejected: %s", strings.Join(res.Errors, "; "))
		} else {
			for _, w := range res.Warnings {
				uc.logger.Warn("record validation warning", "date", date, "warning", w)
			}
		}
	}

	if err != nil {
		uc.logger.Error("collection failed, writing failed snapshot", "date", date, "error", err)
		failed := uc.buildSnapshot(date, nil, domain.SnapshotStatusFailed, []string{err.Error()}, time.Since(started))
		if saveErr := uc.snapshots.Save(ctx, failed); saveErr != nil {
			uc.logger.Error("failed to record failed snapshot", "date", date, "error", saveErr)
		} else {
			uc.countSnapshot(domain.SnapshotStatusFailed)
		}
		return failed, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].DistrictID < records[j].DistrictID })
	snapshot := uc.buildSnapshot(date, records, domain.SnapshotStatusSuccess, nil, time.Since(started))
	if err := uc.snapshots.Save(ctx, snapshot); err != nil {
		return nil, err
	}
	uc.countSnapshot(domain.SnapshotStatusSuccess)

	for _, d := range snapshot.Payload.Districts {
		point := domain.DataPointFromDistrict(snapshot.SnapshotID, snapshot.SnapshotID, d)
		if err := uc.timeseries.AppendDataPoint(ctx, d.DistrictID, point); err != nil {
			uc.logger.Warn("failed to append time-series point",
				"snapshot_id", snapshot.SnapshotID, "district_id", d.DistrictID, "error", err)
		}
	}

	uc.logger.Info("snapshot collected", "snapshot_id", snapshot.SnapshotID,
		"districts", len(records), "elapsed", time.Since(started).String())
	return snapshot, nil
}

func (uc *CollectSnapshotUseCase) buildSnapshot(date string, records []domain.DistrictRecord, status string, errs []string, elapsed time.Duration) *domain.Snapshot {
	return &domain.Snapshot{
		SnapshotID:         date,
		CreatedAt:          time.Now().UTC(),
		SchemaVersion:      uc.schemaVersion,
		CalculationVersion: uc.calculationVersion,
		Status:             status,
		Errors:             errs,
		Payload: domain.SnapshotPayload{
			Districts: records,
			Metadata: domain.CollectionMetadata{
				Source:         "collector",
				FetchedAt:      time.Now().UTC(),
				DataAsOfDate:   date,
				DistrictCount:  len(records),
				ProcessingTime: elapsed,
			},
		},
	}
}

func (uc *CollectSnapshotUseCase) countSnapshot(status string) {
	if uc.metrics != nil {
		uc.metrics.SnapshotsWritten.WithLabelValues(status).Inc()
	}
}

func (uc *CollectSnapshotUseCase) countFetch(outcome string) {
	if uc.metrics != nil {
		uc.metrics.FetchesTotal.WithLabelValues(outcome).Inc()
	}
}

func (uc *CollectSnapshotUseCase) countRetry() {
	if uc.metrics != nil {
		uc.metrics.FetchRetriesTotal.Inc()
	}
}
