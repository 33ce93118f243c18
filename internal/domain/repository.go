package domain

import "context"

// SnapshotListFilter narrows a snapshot listing. Zero values mean "no
// constraint"; dates are inclusive YYYY-MM-DD bounds on the snapshot id.
type SnapshotListFilter struct {
	Limit    int
	Status   string
	FromDate string
	ToDate   string
}

// SnapshotStorage is the backend-agnostic contract for persisting whole
// snapshots. Both the local-filesystem and the document-store backends
// satisfy it; callers never hold a concrete backend type.
type SnapshotStorage interface {
	// Save persists the full snapshot keyed by its id, replacing any prior
	// snapshot with the same id. Replace, never merge.
	Save(ctx context.Context, snapshot *Snapshot) error

	// Get returns the snapshot with the given id, or an error satisfying
	// errors.Is(err, ErrNotFound) when absent.
	Get(ctx context.Context, snapshotID string) (*Snapshot, error)

	// GetLatest returns the newest snapshot by id ordering regardless of
	// status, or (nil, nil) when the store is empty.
	GetLatest(ctx context.Context) (*Snapshot, error)

	// GetLatestSuccessful returns the newest snapshot whose status is
	// success or partial, or (nil, nil) when there is none. Implementations
	// recover purely by scanning the store; no pointer document is kept.
	GetLatestSuccessful(ctx context.Context) (*Snapshot, error)

	// List returns lightweight snapshot metadata, newest first.
	List(ctx context.Context, filter SnapshotListFilter) ([]SnapshotMeta, error)

	// Delete removes the snapshot and any per-district sub-records. It
	// returns false, not an error, when the snapshot does not exist.
	Delete(ctx context.Context, snapshotID string) (bool, error)

	// Ready reports whether the backend is reachable.
	Ready(ctx context.Context) bool
}

// TimeSeriesIndexStorage persists per-district, time-ordered metric points
// bucketed by program year.
type TimeSeriesIndexStorage interface {
	// AppendDataPoint adds one observation to the district's program-year
	// bucket, keyed off the point's date.
	AppendDataPoint(ctx context.Context, districtID string, point TimeSeriesDataPoint) error

	// GetRange returns the district's points within [startDate, endDate],
	// inclusive, in date order.
	GetRange(ctx context.Context, districtID, startDate, endDate string) ([]TimeSeriesDataPoint, error)

	// GetProgramYearData returns the district's bucket for one program
	// year, or (nil, nil) when no such bucket exists.
	GetProgramYearData(ctx context.Context, districtID, programYear string) (*ProgramYearBucket, error)

	// DeleteSnapshotEntries removes every point produced by the given
	// snapshot across all districts and buckets, returning the number
	// removed. Zero entries is not an error.
	DeleteSnapshotEntries(ctx context.Context, snapshotID string) (int, error)

	// Ready reports whether the backend is reachable.
	Ready(ctx context.Context) bool
}

// DistrictFetcher is the boundary to the external data-acquisition
// subsystem. Implementations are expected to fail with classification-aware
// errors (HTTPStatusError, TransientExternalError, CodedError).
type DistrictFetcher interface {
	FetchDistrict(ctx context.Context, districtID string) (*DistrictRecord, error)
	FetchAllDistricts(ctx context.Context) ([]DistrictRecord, error)
}

// DistrictConfigRepository reads the set of districts the system is
// configured to collect.
type DistrictConfigRepository interface {
	GetConfiguredDistricts(ctx context.Context) ([]string, error)
}

// ValidationResult is the outcome of validating fetched records.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// RecordValidator checks fetched district records against schema and
// business rules before they are committed to a snapshot.
type RecordValidator interface {
	Validate(records []DistrictRecord) ValidationResult
}
