package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/district-metrics/internal/domain"
)

// TimeSeriesRepository implements domain.TimeSeriesIndexStorage on the
// local filesystem: one JSON bucket file per district per program year
// under <root>/<districtID>/<programYear>.json. Deletion rewrites each
// affected bucket with matching entries filtered out.
type TimeSeriesRepository struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewTimeSeriesRepository creates the root directory if needed.
func NewTimeSeriesRepository(root string, logger *slog.Logger) (*TimeSeriesRepository, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create time-series root %s: %w", root, err)
	}
	return &TimeSeriesRepository{
		root:   root,
		logger: logger.With("component", "local_timeseries_repository"),
	}, nil
}

func (r *TimeSeriesRepository) bucketPath(districtID, programYear string) string {
	return filepath.Join(r.root, districtID, programYear+".json")
}

func (r *TimeSeriesRepository) opErr(op, key string, err error) error {
	return &domain.StorageOperationError{Op: op, Backend: backendName, Key: key, Err: err}
}

// AppendDataPoint upserts one observation into the district's program-year
// bucket. A point for an already-present date replaces the old one, keeping
// re-collected snapshots from duplicating entries.
func (r *TimeSeriesRepository) AppendDataPoint(ctx context.Context, districtID string, point domain.TimeSeriesDataPoint) error {
	programYear, err := domain.ProgramYearOfDate(point.Date)
	if err != nil {
		return domain.NewValidationError("data point date: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, err := r.readBucket(districtID, programYear)
	if err != nil {
		return err
	}
	if bucket == nil {
		bucket = &domain.ProgramYearBucket{DistrictID: districtID, ProgramYear: programYear}
	}

	kept := bucket.DataPoints[:0]
	for _, p := range bucket.DataPoints {
		if p.Date != point.Date {
			kept = append(kept, p)
		}
	}
	bucket.DataPoints = append(kept, point)
	sort.Slice(bucket.DataPoints, func(i, j int) bool {
		return bucket.DataPoints[i].Date < bucket.DataPoints[j].Date
	})
	bucket.UpdatedAt = time.Now().UTC()

	return r.writeBucket(bucket)
}

// GetRange returns the district's points within the inclusive date range,
// in date order, across program-year boundaries.
func (r *TimeSeriesRepository) GetRange(ctx context.Context, districtID, startDate, endDate string) ([]domain.TimeSeriesDataPoint, error) {
	years, err := r.programYears(districtID)
	if err != nil {
		return nil, err
	}

	var out []domain.TimeSeriesDataPoint
	for _, year := range years {
		bucket, err := r.readBucket(districtID, year)
		if err != nil {
			return nil, err
		}
		if bucket == nil {
			continue
		}
		for _, p := range bucket.DataPoints {
			if p.Date >= startDate && p.Date <= endDate {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// GetProgramYearData returns one bucket, or (nil, nil) when absent.
func (r *TimeSeriesRepository) GetProgramYearData(ctx context.Context, districtID, programYear string) (*domain.ProgramYearBucket, error) {
	return r.readBucket(districtID, programYear)
}

// DeleteSnapshotEntries rewrites every bucket containing points from the
// given snapshot. Buckets left empty are removed. Zero matches is fine.
func (r *TimeSeriesRepository) DeleteSnapshotEntries(ctx context.Context, snapshotID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	districts, err := r.districtIDs()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, districtID := range districts {
		years, err := r.programYears(districtID)
		if err != nil {
			return removed, err
		}
		for _, year := range years {
			bucket, err := r.readBucket(districtID, year)
			if err != nil {
				return removed, err
			}
			if bucket == nil {
				continue
			}

			kept := bucket.DataPoints[:0]
			matched := 0
			for _, p := range bucket.DataPoints {
				if p.SnapshotID == snapshotID {
					matched++
					continue
				}
				kept = append(kept, p)
			}
			if matched == 0 {
				continue
			}
			bucket.DataPoints = kept
			removed += matched

			if len(bucket.DataPoints) == 0 {
				if err := os.Remove(r.bucketPath(districtID, year)); err != nil {
					return removed, r.opErr("delete_entries", snapshotID, err)
				}
				continue
			}
			bucket.UpdatedAt = time.Now().UTC()
			if err := r.writeBucket(bucket); err != nil {
				return removed, err
			}
		}
	}

	if removed > 0 {
		r.logger.Info("time-series entries removed", "snapshot_id", snapshotID, "count", removed)
	}
	return removed, nil
}

// Ready checks the root directory is accessible.
func (r *TimeSeriesRepository) Ready(ctx context.Context) bool {
	_, err := os.Stat(r.root)
	return err == nil
}

func (r *TimeSeriesRepository) readBucket(districtID, programYear string) (*domain.ProgramYearBucket, error) {
	data, err := os.ReadFile(r.bucketPath(districtID, programYear))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, r.opErr("get_bucket", districtID+"/"+programYear, err)
	}

	var bucket domain.ProgramYearBucket
	if err := json.Unmarshal(data, &bucket); err != nil {
		return nil, r.opErr("get_bucket", districtID+"/"+programYear, fmt.Errorf("corrupt bucket: %w", err))
	}
	return &bucket, nil
}

func (r *TimeSeriesRepository) writeBucket(bucket *domain.ProgramYearBucket) error {
	dir := filepath.Join(r.root, bucket.DistrictID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return r.opErr("put_bucket", bucket.DistrictID, err)
	}
	data, err := json.MarshalIndent(bucket, "", "  ")
	if err != nil {
		return r.opErr("put_bucket", bucket.DistrictID, err)
	}
	if err := writeFileAtomic(r.bucketPath(bucket.DistrictID, bucket.ProgramYear), data); err != nil {
		return r.opErr("put_bucket", bucket.DistrictID, err)
	}
	return nil
}

func (r *TimeSeriesRepository) districtIDs() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, r.opErr("list_districts", "", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *TimeSeriesRepository) programYears(districtID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, districtID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, r.opErr("list_buckets", districtID, err)
	}
	var years []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, ".json") {
			years = append(years, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(years)
	return years, nil
}
