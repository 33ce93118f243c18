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
	"sync"

	"github.com/user/district-metrics/internal/domain"
)

const (
	backendName     = "local"
	snapshotDocName = "snapshot.json"
	districtsSubdir = "districts"
	dirPerm         = 0755
	filePerm        = 0644
)

// SnapshotRepository implements domain.SnapshotStorage on the local
// filesystem: one directory per snapshot id under the root, holding the
// snapshot document and per-district sub-files. The snapshot document is
// written temp-then-rename so a reader never observes a half-written
// snapshot.
type SnapshotRepository struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSnapshotRepository creates the root directory if needed.
func NewSnapshotRepository(root string, logger *slog.Logger) (*SnapshotRepository, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create snapshot root %s: %w", root, err)
	}
	return &SnapshotRepository{
		root:   root,
		logger: logger.With("component", "local_snapshot_repository"),
	}, nil
}

func (r *SnapshotRepository) dir(snapshotID string) string {
	return filepath.Join(r.root, snapshotID)
}

func (r *SnapshotRepository) opErr(op, key string, retryable bool, err error) error {
	return &domain.StorageOperationError{Op: op, Backend: backendName, Key: key, Retryable: retryable, Err: err}
}

// Save persists the full snapshot, replacing any prior snapshot with the
// same id. District sub-files are written first; the rename of the snapshot
// document is the commit point.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.dir(snapshot.SnapshotID)
	districtsDir := filepath.Join(dir, districtsSubdir)
	if err := os.MkdirAll(districtsDir, dirPerm); err != nil {
		return r.opErr("save", snapshot.SnapshotID, false, err)
	}

	// A replaced snapshot may have had districts the new one lacks.
	if err := clearDir(districtsDir); err != nil {
		return r.opErr("save", snapshot.SnapshotID, false, err)
	}

	for _, d := range snapshot.Payload.Districts {
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return r.opErr("save", snapshot.SnapshotID, false, err)
		}
		path := filepath.Join(districtsDir, d.DistrictID+".json")
		if err := os.WriteFile(path, data, filePerm); err != nil {
			return r.opErr("save", snapshot.SnapshotID, false, err)
		}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return r.opErr("save", snapshot.SnapshotID, false, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, snapshotDocName), data); err != nil {
		return r.opErr("save", snapshot.SnapshotID, false, err)
	}

	r.logger.Info("snapshot saved", "snapshot_id", snapshot.SnapshotID, "status", snapshot.Status,
		"districts", len(snapshot.Payload.Districts))
	return nil
}

// Get reads one snapshot document.
func (r *SnapshotRepository) Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(r.dir(snapshotID), snapshotDocName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &domain.NotFoundError{Resource: "snapshot", Key: snapshotID}
		}
		return nil, r.opErr("get", snapshotID, false, err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, r.opErr("get", snapshotID, false, fmt.Errorf("corrupt snapshot document: %w", err))
	}
	return &snapshot, nil
}

// GetLatest returns the newest snapshot by id ordering, any status.
func (r *SnapshotRepository) GetLatest(ctx context.Context) (*domain.Snapshot, error) {
	ids, err := r.snapshotIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.Get(ctx, ids[0])
}

// GetLatestSuccessful scans newest-first for a success or partial snapshot.
// Recovery is a pure scan; no pointer file is kept.
func (r *SnapshotRepository) GetLatestSuccessful(ctx context.Context) (*domain.Snapshot, error) {
	ids, err := r.snapshotIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		snapshot, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if snapshot.Status == domain.SnapshotStatusSuccess || snapshot.Status == domain.SnapshotStatusPartial {
			return snapshot, nil
		}
	}
	return nil, nil
}

// List returns snapshot metadata newest first.
func (r *SnapshotRepository) List(ctx context.Context, filter domain.SnapshotListFilter) ([]domain.SnapshotMeta, error) {
	ids, err := r.snapshotIDs()
	if err != nil {
		return nil, err
	}

	metas := make([]domain.SnapshotMeta, 0, len(ids))
	for _, id := range ids {
		if filter.FromDate != "" && id < filter.FromDate {
			continue
		}
		if filter.ToDate != "" && id > filter.ToDate {
			continue
		}
		snapshot, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if filter.Status != "" && snapshot.Status != filter.Status {
			continue
		}
		metas = append(metas, snapshot.Meta())
		if filter.Limit > 0 && len(metas) == filter.Limit {
			break
		}
	}
	return metas, nil
}

// Delete removes the snapshot directory recursively. Absent snapshots
// return false, not an error.
func (r *SnapshotRepository) Delete(ctx context.Context, snapshotID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.dir(snapshotID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, r.opErr("delete", snapshotID, false, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return false, r.opErr("delete", snapshotID, false, err)
	}
	r.logger.Info("snapshot deleted", "snapshot_id", snapshotID)
	return true, nil
}

// Ready checks the root directory is accessible.
func (r *SnapshotRepository) Ready(ctx context.Context) bool {
	_, err := os.Stat(r.root)
	return err == nil
}

// snapshotIDs lists snapshot directories newest first.
func (r *SnapshotRepository) snapshotIDs() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, r.opErr("list", "", false, err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target's directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
