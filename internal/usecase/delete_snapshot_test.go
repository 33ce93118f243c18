package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/domain/mocks"
)

func seedSnapshot(t *testing.T, snapshots *mocks.MockSnapshotStorage, index *mocks.MockTimeSeriesStorage, id string, districts ...string) {
	t.Helper()
	var records []domain.DistrictRecord
	for _, d := range districts {
		records = append(records, domain.DistrictRecord{DistrictID: d})
	}
	snapshot := &domain.Snapshot{
		SnapshotID: id,
		Status:     domain.SnapshotStatusSuccess,
		Payload:    domain.SnapshotPayload{Districts: records},
	}
	if err := snapshots.Save(context.Background(), snapshot); err != nil {
		t.Fatalf("seeding snapshot: %v", err)
	}
	for _, d := range districts {
		point := domain.TimeSeriesDataPoint{Date: id, SnapshotID: id}
		if err := index.AppendDataPoint(context.Background(), d, point); err != nil {
			t.Fatalf("seeding index: %v", err)
		}
	}
}

func TestDeleteSnapshot_Cascades(t *testing.T) {
	snapshots := mocks.NewMockSnapshotStorage()
	index := mocks.NewMockTimeSeriesStorage()
	seedSnapshot(t, snapshots, index, "2024-01-01", "D101", "D102")
	seedSnapshot(t, snapshots, index, "2024-01-02", "D101")

	uc := NewDeleteSnapshotUseCase(snapshots, index, nil, testLogger())
	result, err := uc.Delete(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if !result.SnapshotDeleted {
		t.Error("snapshot_deleted = false, want true")
	}
	if result.TimeSeriesEntriesRemoved != 2 {
		t.Errorf("time series entries removed = %d, want 2", result.TimeSeriesEntriesRemoved)
	}
	if !result.TimeSeriesCleanupOK {
		t.Error("time series cleanup reported failed")
	}

	if _, err := snapshots.Get(context.Background(), "2024-01-01"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted snapshot still readable, err = %v", err)
	}
	// The other snapshot's contributions survive.
	if len(index.Points["D101"]) != 1 {
		t.Errorf("surviving D101 points = %d, want 1", len(index.Points["D101"]))
	}
}

func TestDeleteSnapshot_AbsentReturnsFalse(t *testing.T) {
	uc := NewDeleteSnapshotUseCase(mocks.NewMockSnapshotStorage(), mocks.NewMockTimeSeriesStorage(), nil, testLogger())

	result, err := uc.Delete(context.Background(), "2020-01-01")
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if result.SnapshotDeleted {
		t.Error("snapshot_deleted = true for absent snapshot")
	}
	if result.TimeSeriesEntriesRemoved != 0 {
		t.Errorf("time series entries removed = %d, want 0", result.TimeSeriesEntriesRemoved)
	}
}

func TestDeleteSnapshot_IndexFailureDoesNotBlockDelete(t *testing.T) {
	snapshots := mocks.NewMockSnapshotStorage()
	index := mocks.NewMockTimeSeriesStorage()
	seedSnapshot(t, snapshots, index, "2024-01-01", "D101")
	index.DeleteErr = errors.New("bucket store unavailable")

	uc := NewDeleteSnapshotUseCase(snapshots, index, nil, testLogger())
	result, err := uc.Delete(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if !result.SnapshotDeleted {
		t.Error("snapshot_deleted = false, want true despite index failure")
	}
	if result.TimeSeriesCleanupOK {
		t.Error("time series cleanup reported ok, want failed")
	}
}
