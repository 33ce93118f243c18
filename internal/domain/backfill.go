package domain

import "time"

// Backfill job lifecycle states. Processing is the only non-terminal state.
const (
	JobStatusProcessing     = "processing"
	JobStatusComplete       = "complete"
	JobStatusPartialSuccess = "partial_success"
	JobStatusError          = "error"
	JobStatusCancelled      = "cancelled"
)

// Backfill scope types.
const (
	ScopeSystemWide = "system-wide"
	ScopeTargeted   = "targeted"
)

// Fetch granularity choices for a backfill run.
const (
	GranularityPerDistrict = "per-district"
	GranularitySystemWide  = "system-wide"
)

// BackfillScope identifies which districts and dates a backfill covers.
type BackfillScope struct {
	Type      string   `json:"type"`
	Districts []string `json:"districts,omitempty"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

// CollectionStrategy tunes how a backfill run fetches its units.
type CollectionStrategy struct {
	Concurrency  int           `json:"concurrency"`
	MaxRetries   int           `json:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff_ms"`
	Granularity  string        `json:"granularity"`
}

// BackfillProgress tracks unit resolution. Completed never exceeds Total and
// never decreases over the job's lifetime.
type BackfillProgress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// PartialSnapshotRecord notes a snapshot that was written with only a subset
// of the requested districts.
type PartialSnapshotRecord struct {
	SnapshotID          string   `json:"snapshot_id"`
	SuccessfulDistricts []string `json:"successful_districts"`
	FailedDistricts     []string `json:"failed_districts"`
	SuccessRate         float64  `json:"success_rate"`
}

// BackfillErrorSummary aggregates unit failures across the whole job.
type BackfillErrorSummary struct {
	FailedUnits       int            `json:"failed_units"`
	AffectedDistricts []string       `json:"affected_districts,omitempty"`
	ErrorCounts       map[string]int `json:"error_counts,omitempty"`
	Messages          []string       `json:"messages,omitempty"`
}

// BackfillJob is the server-side record of one orchestration run. The
// orchestrator is its single writer; status readers receive copies.
type BackfillJob struct {
	JobID            string                  `json:"job_id"`
	Status           string                  `json:"status"`
	Scope            BackfillScope           `json:"scope"`
	Strategy         CollectionStrategy      `json:"strategy"`
	Progress         BackfillProgress        `json:"progress"`
	ErrorSummary     BackfillErrorSummary    `json:"error_summary"`
	SnapshotIDs      []string                `json:"snapshot_ids,omitempty"`
	PartialSnapshots []PartialSnapshotRecord `json:"partial_snapshots,omitempty"`
	CancelRequested  bool                    `json:"cancel_requested"`
	StartedAt        time.Time               `json:"started_at"`
	FinishedAt       time.Time               `json:"finished_at,omitzero"`
}

// Terminal reports whether the job has reached a final state. Terminal jobs
// are immutable.
func (j *BackfillJob) Terminal() bool {
	return j.Status != JobStatusProcessing
}

// Clone returns a deep copy safe to hand to status readers.
func (j *BackfillJob) Clone() *BackfillJob {
	c := *j
	c.Scope.Districts = append([]string(nil), j.Scope.Districts...)
	c.SnapshotIDs = append([]string(nil), j.SnapshotIDs...)
	c.PartialSnapshots = append([]PartialSnapshotRecord(nil), j.PartialSnapshots...)
	c.ErrorSummary.AffectedDistricts = append([]string(nil), j.ErrorSummary.AffectedDistricts...)
	c.ErrorSummary.Messages = append([]string(nil), j.ErrorSummary.Messages...)
	if j.ErrorSummary.ErrorCounts != nil {
		c.ErrorSummary.ErrorCounts = make(map[string]int, len(j.ErrorSummary.ErrorCounts))
		for k, v := range j.ErrorSummary.ErrorCounts {
			c.ErrorSummary.ErrorCounts[k] = v
		}
	}
	return &c
}
