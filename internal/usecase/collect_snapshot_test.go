package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/domain/mocks"
	"github.com/user/district-metrics/internal/resilience"
)

func newCollectFixture(fetcher *mocks.MockDistrictFetcher, validator domain.RecordValidator) (*CollectSnapshotUseCase, *mocks.MockSnapshotStorage, *mocks.MockTimeSeriesStorage) {
	snapshots := mocks.NewMockSnapshotStorage()
	index := mocks.NewMockTimeSeriesStorage()
	retryer := resilience.NewRetryer(resilience.RetryPolicy{MaxAttempts: 1}, testLogger())
	uc := NewCollectSnapshotUseCase(snapshots, index, fetcher, validator,
		newTestBreaker(), retryer, nil, testLogger(), "2.0", "1.3")
	return uc, snapshots, index
}

func TestCollect_Success(t *testing.T) {
	fetcher := &mocks.MockDistrictFetcher{
		FetchAllFunc: func(ctx context.Context) ([]domain.DistrictRecord, error) {
			return []domain.DistrictRecord{
				{DistrictID: "D102", TotalMembership: 200},
				{DistrictID: "D101", TotalMembership: 100},
			}, nil
		},
	}
	uc, snapshots, index := newCollectFixture(fetcher, &mocks.MockValidator{})

	snapshot, err := uc.Collect(context.Background(), "2024-03-15")
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	if snapshot.SnapshotID != "2024-03-15" {
		t.Errorf("snapshot id = %q, want 2024-03-15", snapshot.SnapshotID)
	}
	if snapshot.Status != domain.SnapshotStatusSuccess {
		t.Errorf("status = %q, want success", snapshot.Status)
	}
	if snapshot.Payload.Districts[0].DistrictID != "D101" {
		t.Errorf("districts not sorted: %v", snapshot.Payload.Districts)
	}
	if snapshot.Payload.Metadata.DistrictCount != 2 {
		t.Errorf("metadata district count = %d, want 2", snapshot.Payload.Metadata.DistrictCount)
	}

	if _, err := snapshots.Get(context.Background(), "2024-03-15"); err != nil {
		t.Errorf("snapshot not persisted: %v", err)
	}
	if len(index.Points["D101"]) != 1 || len(index.Points["D102"]) != 1 {
		t.Errorf("index points = %v, want one per district", index.Points)
	}
	if index.Points["D101"][0].SnapshotID != "2024-03-15" {
		t.Errorf("point snapshot id = %q, want 2024-03-15", index.Points["D101"][0].SnapshotID)
	}
}

func TestCollect_DefaultsToToday(t *testing.T) {
	fetcher := &mocks.MockDistrictFetcher{
		FetchAllFunc: func(ctx context.Context) ([]domain.DistrictRecord, error) {
			return []domain.DistrictRecord{{DistrictID: "D101"}}, nil
		},
	}
	uc, _, _ := newCollectFixture(fetcher, &mocks.MockValidator{})

	snapshot, err := uc.Collect(context.Background(), "")
	if err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	want := time.Now().UTC().Format(domain.DateLayout)
	if snapshot.SnapshotID != want {
		t.Errorf("snapshot id = %q, want today %q", snapshot.SnapshotID, want)
	}
}

func TestCollect_FetchFailureWritesFailedSnapshot(t *testing.T) {
	fetchErr := &domain.HTTPStatusError{Source: "collector", StatusCode: 500}
	fetcher := &mocks.MockDistrictFetcher{
		FetchAllFunc: func(ctx context.Context) ([]domain.DistrictRecord, error) {
			return nil, fetchErr
		},
	}
	uc, snapshots, index := newCollectFixture(fetcher, &mocks.MockValidator{})

	snapshot, err := uc.Collect(context.Background(), "2024-03-15")
	if err == nil {
		t.Fatal("Collect() succeeded, want error")
	}
	if snapshot == nil || snapshot.Status != domain.SnapshotStatusFailed {
		t.Fatalf("snapshot = %+v, want failed status", snapshot)
	}
	if len(snapshot.Errors) == 0 {
		t.Error("failed snapshot carries no errors")
	}

	// The gap stays visible in history, with no index contributions.
	stored, err := snapshots.Get(context.Background(), "2024-03-15")
	if err != nil {
		t.Fatalf("failed snapshot not persisted: %v", err)
	}
	if stored.Status != domain.SnapshotStatusFailed {
		t.Errorf("stored status = %q, want failed", stored.Status)
	}
	if len(index.Points) != 0 {
		t.Errorf("index points = %v, want none", index.Points)
	}
}

func TestCollect_InvalidRecordsRejected(t *testing.T) {
	fetcher := &mocks.MockDistrictFetcher{
		FetchAllFunc: func(ctx context.Context) ([]domain.DistrictRecord, error) {
			return []domain.DistrictRecord{{DistrictID: "BAD"}}, nil
		},
	}
	uc, _, _ := newCollectFixture(fetcher, &mocks.MockValidator{Invalid: true, FailSubstring: "BAD"})

	snapshot, err := uc.Collect(context.Background(), "2024-03-15")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if snapshot.Status != domain.SnapshotStatusFailed {
		t.Errorf("status = %q, want failed", snapshot.Status)
	}
}

func TestCollect_InvalidDate(t *testing.T) {
	uc, _, _ := newCollectFixture(&mocks.MockDistrictFetcher{}, &mocks.MockValidator{})

	_, err := uc.Collect(context.Background(), "15-03-2024")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}
