package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/district-metrics/internal/adapter/metrics"
	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/resilience"
)

// ErrJobAlreadyTerminal is returned when cancelling a job that has already
// reached a final state.
var ErrJobAlreadyTerminal = errors.New("backfill job already terminal")

// maxErrorMessages caps the per-job error detail kept for status polling.
const maxErrorMessages = 20

// BackfillOptions carries the orchestration defaults applied when a request
// leaves strategy fields unset.
type BackfillOptions struct {
	DefaultConcurrency  int
	DefaultMaxRetries   int
	DefaultRetryBackoff time.Duration
	SchemaVersion       string
	CalculationVersion  string
}

func (o BackfillOptions) normalized() BackfillOptions {
	if o.DefaultConcurrency <= 0 {
		o.DefaultConcurrency = 4
	}
	if o.DefaultMaxRetries <= 0 {
		o.DefaultMaxRetries = 3
	}
	if o.DefaultRetryBackoff <= 0 {
		o.DefaultRetryBackoff = 500 * time.Millisecond
	}
	return o
}

// BackfillUseCase orchestrates snapshot reconstruction over a date range. It
// owns the job registry: jobs are mutated only by their own run loop, and
// status readers always receive copies.
type BackfillUseCase struct {
	snapshots    domain.SnapshotStorage
	timeseries   domain.TimeSeriesIndexStorage
	fetcher      domain.DistrictFetcher
	districts    domain.DistrictConfigRepository
	validator    domain.RecordValidator
	fetchBreaker *resilience.CircuitBreaker
	metrics      *metrics.SnapshotMetrics
	logger       *slog.Logger
	opts         BackfillOptions

	mu   sync.Mutex
	jobs map[string]*domain.BackfillJob
}

// NewBackfillUseCase creates the orchestrator. metrics may be nil.
func NewBackfillUseCase(
	snapshots domain.SnapshotStorage,
	timeseries domain.TimeSeriesIndexStorage,
	fetcher domain.DistrictFetcher,
	districts domain.DistrictConfigRepository,
	validator domain.RecordValidator,
	fetchBreaker *resilience.CircuitBreaker,
	m *metrics.SnapshotMetrics,
	logger *slog.Logger,
	opts BackfillOptions,
) *BackfillUseCase {
	return &BackfillUseCase{
		snapshots:    snapshots,
		timeseries:   timeseries,
		fetcher:      fetcher,
		districts:    districts,
		validator:    validator,
		fetchBreaker: fetchBreaker,
		metrics:      m,
		logger:       logger.With("component", "backfill"),
		opts:         opts.normalized(),
		jobs:         make(map[string]*domain.BackfillJob),
	}
}

// Initiate validates the request, creates the job and starts its run loop.
// The returned job is a copy; callers poll Status for progress.
func (uc *BackfillUseCase) Initiate(ctx context.Context, scope domain.BackfillScope, strategy domain.CollectionStrategy) (*domain.BackfillJob, error) {
	dates, err := expandDates(scope.StartDate, scope.EndDate)
	if err != nil {
		return nil, err
	}

	targets, scopeType, err := uc.resolveDistricts(ctx, scope)
	if err != nil {
		return nil, err
	}

	strategy = uc.normalizeStrategy(strategy)
	if strategy.Granularity != domain.GranularityPerDistrict && strategy.Granularity != domain.GranularitySystemWide {
		return nil, domain.NewValidationError("unknown granularity %q", strategy.Granularity)
	}

	total := len(dates) * len(targets)
	if strategy.Granularity == domain.GranularitySystemWide {
		total = len(dates)
	}

	job := &domain.BackfillJob{
		JobID:  uuid.NewString(),
		Status: domain.JobStatusProcessing,
		Scope: domain.BackfillScope{
			Type:      scopeType,
			Districts: targets,
			StartDate: scope.StartDate,
			EndDate:   scope.EndDate,
		},
		Strategy:  strategy,
		Progress:  domain.BackfillProgress{Total: total},
		StartedAt: time.Now().UTC(),
	}

	uc.mu.Lock()
	uc.jobs[job.JobID] = job
	uc.mu.Unlock()

	if uc.metrics != nil {
		uc.metrics.BackfillActive.Inc()
	}
	uc.logger.Info("backfill job accepted", "job_id", job.JobID, "dates", len(dates),
		"districts", len(targets), "granularity", strategy.Granularity, "total_units", total)

	// Clone before the run loop starts: once it is live the job record may
	// only be read under uc.mu.
	accepted := job.Clone()
	go uc.run(job, dates, targets)

	return accepted, nil
}

// Status returns a copy of the job, or NotFoundError.
func (uc *BackfillUseCase) Status(jobID string) (*domain.BackfillJob, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	job, ok := uc.jobs[jobID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "backfill job", Key: jobID}
	}
	return job.Clone(), nil
}

// Cancel requests cooperative cancellation. In-flight units finish; no new
// units are dispatched. Terminal jobs cannot be cancelled.
func (uc *BackfillUseCase) Cancel(jobID string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	job, ok := uc.jobs[jobID]
	if !ok {
		return &domain.NotFoundError{Resource: "backfill job", Key: jobID}
	}
	if job.Terminal() {
		return ErrJobAlreadyTerminal
	}
	job.CancelRequested = true
	uc.logger.Info("backfill cancellation requested", "job_id", jobID)
	return nil
}

func (uc *BackfillUseCase) resolveDistricts(ctx context.Context, scope domain.BackfillScope) ([]string, string, error) {
	configured, err := uc.districts.GetConfiguredDistricts(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configured districts: %w", err)
	}

	scopeType := scope.Type
	if scopeType == "" {
		scopeType = domain.ScopeSystemWide
		if len(scope.Districts) > 0 {
			scopeType = domain.ScopeTargeted
		}
	}

	switch scopeType {
	case domain.ScopeSystemWide:
		if len(configured) == 0 {
			return nil, "", domain.NewValidationError("no districts configured")
		}
		return append([]string(nil), configured...), scopeType, nil

	case domain.ScopeTargeted:
		known := make(map[string]bool, len(configured))
		for _, id := range configured {
			known[id] = true
		}
		var targets []string
		seen := make(map[string]bool)
		for _, id := range scope.Districts {
			if !known[id] {
				uc.logger.Warn("dropping unconfigured district from backfill scope", "district_id", id)
				continue
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			targets = append(targets, id)
		}
		if len(targets) == 0 {
			return nil, "", domain.NewValidationError("no requested districts are configured")
		}
		return targets, scopeType, nil

	default:
		return nil, "", domain.NewValidationError("unknown scope type %q", scope.Type)
	}
}

func (uc *BackfillUseCase) normalizeStrategy(s domain.CollectionStrategy) domain.CollectionStrategy {
	if s.Concurrency <= 0 {
		s.Concurrency = uc.opts.DefaultConcurrency
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = uc.opts.DefaultMaxRetries
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = uc.opts.DefaultRetryBackoff
	}
	if s.Granularity == "" {
		s.Granularity = domain.GranularityPerDistrict
	}
	return s
}

// dateOutcome summarizes how one reporting date resolved.
type dateOutcome int

const (
	dateNone dateOutcome = iota
	datePartial
	dateFull
)

// run is the job's single writer. Dates are processed one at a time; within
// a date, district units run concurrently under the limiter, so the strategy
// concurrency bounds in-flight fetches and snapshot commits stay in date
// order.
func (uc *BackfillUseCase) run(job *domain.BackfillJob, dates, targets []string) {
	ctx := context.Background()
	limiter := resilience.NewLimiter(job.Strategy.Concurrency)
	retryer := resilience.NewRetryer(resilience.RetryPolicy{
		MaxAttempts:   job.Strategy.MaxRetries,
		InitialDelay:  job.Strategy.RetryBackoff,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}, uc.logger)

	fullDates, produced, processed := 0, 0, 0
	for _, date := range dates {
		if uc.cancelRequested(job) {
			break
		}

		var outcome dateOutcome
		if job.Strategy.Granularity == domain.GranularitySystemWide {
			outcome = uc.processDateSystemWide(ctx, job, limiter, retryer, date)
		} else {
			outcome = uc.processDate(ctx, job, limiter, retryer, date, targets)
		}
		processed++

		switch outcome {
		case dateFull:
			fullDates++
			produced++
		case datePartial:
			produced++
		}
	}

	uc.mu.Lock()
	switch {
	case job.CancelRequested && processed < len(dates):
		job.Status = domain.JobStatusCancelled
	case fullDates == len(dates):
		job.Status = domain.JobStatusComplete
	case produced > 0:
		job.Status = domain.JobStatusPartialSuccess
	default:
		job.Status = domain.JobStatusError
	}
	job.FinishedAt = time.Now().UTC()
	status := job.Status
	skipped := job.Progress.Total - job.Progress.Completed
	uc.mu.Unlock()

	if uc.metrics != nil {
		uc.metrics.BackfillActive.Dec()
		if status == domain.JobStatusCancelled && skipped > 0 {
			uc.metrics.BackfillUnits.WithLabelValues("cancelled").Add(float64(skipped))
		}
	}
	uc.logger.Info("backfill job finished", "job_id", job.JobID, "status", status,
		"snapshots", produced, "full_dates", fullDates, "dates_processed", processed)
}

type unitResult struct {
	districtID string
	record     *domain.DistrictRecord
	err        error
}

// processDate runs all district units for one date and commits at most one
// snapshot. Unit failures are independent; only a date with zero successes
// produces nothing.
func (uc *BackfillUseCase) processDate(ctx context.Context, job *domain.BackfillJob, limiter *resilience.Limiter, retryer *resilience.Retryer, date string, targets []string) dateOutcome {
	started := time.Now()
	results := make(chan unitResult)
	for _, districtID := range targets {
		go func(id string) {
			results <- uc.fetchUnit(ctx, limiter, retryer, id)
		}(districtID)
	}

	var records []domain.DistrictRecord
	var failed []string
	for range targets {
		res := <-results
		uc.completeUnit(job)
		if res.err != nil {
			failed = append(failed, res.districtID)
			uc.recordUnitError(job, date, res.districtID, res.err)
			uc.countUnit("failed")
			continue
		}
		records = append(records, *res.record)
		uc.countUnit("success")
	}

	// Cancellation observed mid-date: in-flight units have been joined
	// above; do not commit this date's snapshot.
	if uc.cancelRequested(job) {
		uc.logger.Info("skipping snapshot commit after cancellation", "job_id", job.JobID, "date", date)
		return dateNone
	}

	if len(records) == 0 {
		uc.logger.Warn("no districts succeeded for date, no snapshot written", "job_id", job.JobID, "date", date)
		return dateNone
	}

	sort.Slice(records, func(i, j int) bool { return records[i].DistrictID < records[j].DistrictID })
	sort.Strings(failed)

	snapshot := uc.buildSnapshot(date, records, failed, len(targets), time.Since(started))
	if err := uc.snapshots.Save(ctx, snapshot); err != nil {
		uc.recordUnitError(job, date, "", fmt.Errorf("snapshot write failed: %w", err))
		return dateNone
	}
	uc.countSnapshot(snapshot.Status)
	uc.appendTimeSeries(ctx, snapshot)

	uc.mu.Lock()
	if len(failed) == 0 {
		job.SnapshotIDs = append(job.SnapshotIDs, snapshot.SnapshotID)
	} else {
		var successful []string
		for _, r := range records {
			successful = append(successful, r.DistrictID)
		}
		job.PartialSnapshots = append(job.PartialSnapshots, domain.PartialSnapshotRecord{
			SnapshotID:          snapshot.SnapshotID,
			SuccessfulDistricts: successful,
			FailedDistricts:     failed,
			SuccessRate:         float64(len(records)) / float64(len(targets)),
		})
	}
	uc.mu.Unlock()

	if len(failed) == 0 {
		return dateFull
	}
	return datePartial
}

// processDateSystemWide resolves a date with a single all-districts fetch.
// The unit is all-or-nothing: there is no partial snapshot at this
// granularity.
func (uc *BackfillUseCase) processDateSystemWide(ctx context.Context, job *domain.BackfillJob, limiter *resilience.Limiter, retryer *resilience.Retryer, date string) dateOutcome {
	started := time.Now()

	var records []domain.DistrictRecord
	err := limiter.Acquire(ctx)
	if err == nil {
		uc.trackFetcher(1)
		attempts := 0
		err = retryer.Do(ctx, "fetch all districts", func(ctx context.Context) error {
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
		uc.trackFetcher(-1)
		limiter.Release()
		if err != nil {
			uc.countFetch(resilience.Classify(err).String())
		} else {
			uc.countFetch("success")
		}
	}
	uc.completeUnit(job)

	if err == nil && len(records) > 0 {
		if res := uc.validator.Validate(records); !res.IsValid {
			err = domain.NewValidationError("fetched records rejected: %s", strings.Join(res.Errors, "; "))
		}
	}
	if err == nil && len(records) == 0 {
		err = fmt.Errorf("source returned no districts")
	}
	if err != nil {
		uc.recordUnitError(job, date, "", err)
		uc.countUnit("failed")
		return dateNone
	}
	uc.countUnit("success")

	if uc.cancelRequested(job) {
		uc.logger.Info("skipping snapshot commit after cancellation", "job_id", job.JobID, "date", date)
		return dateNone
	}

	sort.Slice(records, func(i, j int) bool { return records[i].DistrictID < records[j].DistrictID })
	snapshot := uc.buildSnapshot(date, records, nil, len(records), time.Since(started))
	if err := uc.snapshots.Save(ctx, snapshot); err != nil {
		uc.recordUnitError(job, date, "", fmt.Errorf("snapshot write failed: %w", err))
		return dateNone
	}
	uc.countSnapshot(snapshot.Status)
	uc.appendTimeSeries(ctx, snapshot)

	uc.mu.Lock()
	job.SnapshotIDs = append(job.SnapshotIDs, snapshot.SnapshotID)
	uc.mu.Unlock()
	return dateFull
}

// fetchUnit runs one district fetch under the limiter, through the retryer
// and the fetch breaker, then validates the record.
func (uc *BackfillUseCase) fetchUnit(ctx context.Context, limiter *resilience.Limiter, retryer *resilience.Retryer, districtID string) unitResult {
	if err := limiter.Acquire(ctx); err != nil {
		return unitResult{districtID: districtID, err: err}
	}
	defer limiter.Release()
	uc.trackFetcher(1)
	defer uc.trackFetcher(-1)

	var record *domain.DistrictRecord
	attempts := 0
	err := retryer.Do(ctx, "fetch district "+districtID, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			uc.countRetry()
		}
		return uc.fetchBreaker.Execute(ctx, func(ctx context.Context) error {
			rec, ferr := uc.fetcher.FetchDistrict(ctx, districtID)
			if ferr != nil {
				return ferr
			}
			record = rec
			return nil
		})
	})
	if err != nil {
		uc.countFetch(resilience.Classify(err).String())
		return unitResult{districtID: districtID, err: err}
	}
	uc.countFetch("success")

	if res := uc.validator.Validate([]domain.DistrictRecord{*record}); !res.IsValid {
		return unitResult{
			districtID: districtID,
			err:        domain.NewValidationError("district %s record rejected: %s", districtID, strings.Join(res.Errors, "; ")),
		}
	}
	return unitResult{districtID: districtID, record: record}
}

func (uc *BackfillUseCase) buildSnapshot(date string, records []domain.DistrictRecord, failed []string, targetCount int, elapsed time.Duration) *domain.Snapshot {
	status := domain.SnapshotStatusSuccess
	var errs []string
	if len(failed) > 0 {
		status = domain.SnapshotStatusPartial
		errs = append(errs, fmt.Sprintf("missing districts: %s", strings.Join(failed, ", ")))
	}
	return &domain.Snapshot{
		SnapshotID:         date,
		CreatedAt:          time.Now().UTC(),
		SchemaVersion:      uc.opts.SchemaVersion,
		CalculationVersion: uc.opts.CalculationVersion,
		Status:             status,
		Errors:             errs,
		Payload: domain.SnapshotPayload{
			Districts: records,
			Metadata: domain.CollectionMetadata{
				Source:         "backfill",
				FetchedAt:      time.Now().UTC(),
				DataAsOfDate:   date,
				DistrictCount:  len(records),
				ProcessingTime: elapsed,
			},
		},
	}
}

// appendTimeSeries derives index points from a committed snapshot. The index
// is secondary data; failures are logged, never fatal.
func (uc *BackfillUseCase) appendTimeSeries(ctx context.Context, snapshot *domain.Snapshot) {
	for _, d := range snapshot.Payload.Districts {
		point := domain.DataPointFromDistrict(snapshot.SnapshotID, snapshot.SnapshotID, d)
		if err := uc.timeseries.AppendDataPoint(ctx, d.DistrictID, point); err != nil {
			uc.logger.Warn("failed to append time-series point",
				"snapshot_id", snapshot.SnapshotID, "district_id", d.DistrictID, "error", err)
		}
	}
}

func (uc *BackfillUseCase) completeUnit(job *domain.BackfillJob) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if job.Progress.Completed < job.Progress.Total {
		job.Progress.Completed++
	}
	if job.Progress.Total > 0 {
		job.Progress.Percentage = float64(job.Progress.Completed) * 100 / float64(job.Progress.Total)
	}
}

func (uc *BackfillUseCase) recordUnitError(job *domain.BackfillJob, date, districtID string, err error) {
	class := resilience.Classify(err).String()

	uc.mu.Lock()
	defer uc.mu.Unlock()
	job.ErrorSummary.FailedUnits++
	if job.ErrorSummary.ErrorCounts == nil {
		job.ErrorSummary.ErrorCounts = make(map[string]int)
	}
	job.ErrorSummary.ErrorCounts[class]++
	if districtID != "" && !contains(job.ErrorSummary.AffectedDistricts, districtID) {
		job.ErrorSummary.AffectedDistricts = append(job.ErrorSummary.AffectedDistricts, districtID)
	}
	if len(job.ErrorSummary.Messages) < maxErrorMessages {
		subject := date
		if districtID != "" {
			subject = date + " " + districtID
		}
		job.ErrorSummary.Messages = append(job.ErrorSummary.Messages, fmt.Sprintf("%s: %v", subject, err))
	}
}

func (uc *BackfillUseCase) cancelRequested(job *domain.BackfillJob) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return job.CancelRequested
}

func (uc *BackfillUseCase) countUnit(outcome string) {
	if uc.metrics != nil {
		uc.metrics.BackfillUnits.WithLabelValues(outcome).Inc()
	}
}

func (uc *BackfillUseCase) countSnapshot(status string) {
	if uc.metrics != nil {
		uc.metrics.SnapshotsWritten.WithLabelValues(status).Inc()
	}
}

func (uc *BackfillUseCase) countFetch(outcome string) {
	if uc.metrics != nil {
		uc.metrics.FetchesTotal.WithLabelValues(outcome).Inc()
	}
}

func (uc *BackfillUseCase) countRetry() {
	if uc.metrics != nil {
		uc.metrics.FetchRetriesTotal.Inc()
	}
}

func (uc *BackfillUseCase) trackFetcher(delta float64) {
	if uc.metrics != nil {
		uc.metrics.FetchersActive.Add(delta)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// expandDates turns an inclusive [start, end] range into the concrete date
// sequence.
func expandDates(startDate, endDate string) ([]string, error) {
	start, err := time.Parse(domain.DateLayout, startDate)
	if err != nil {
		return nil, domain.NewValidationError("invalid start date %q", startDate)
	}
	end, err := time.Parse(domain.DateLayout, endDate)
	if err != nil {
		return nil, domain.NewValidationError("invalid end date %q", endDate)
	}
	if end.Before(start) {
		return nil, domain.NewValidationError("end date %s precedes start date %s", endDate, startDate)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(domain.DateLayout))
	}
	return dates, nil
}
