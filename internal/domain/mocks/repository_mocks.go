package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/user/district-metrics/internal/domain"
)

// MockSnapshotStorage is an in-memory implementation of
// domain.SnapshotStorage for testing.
type MockSnapshotStorage struct {
	mu        sync.Mutex
	Snapshots map[string]*domain.Snapshot
	SaveOrder []string
	SaveErr   error
	GetErr    error
	DeleteErr error
	NotReady  bool
}

func NewMockSnapshotStorage() *MockSnapshotStorage {
	return &MockSnapshotStorage{Snapshots: make(map[string]*domain.Snapshot)}
}

func (m *MockSnapshotStorage) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	c := *snapshot
	m.Snapshots[snapshot.SnapshotID] = &c
	m.SaveOrder = append(m.SaveOrder, snapshot.SnapshotID)
	return nil
}

func (m *MockSnapshotStorage) Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	s, ok := m.Snapshots[snapshotID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "snapshot", Key: snapshotID}
	}
	c := *s
	return &c, nil
}

func (m *MockSnapshotStorage) GetLatest(ctx context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Snapshot
	for _, s := range m.Snapshots {
		if latest == nil || s.SnapshotID > latest.SnapshotID {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (m *MockSnapshotStorage) GetLatestSuccessful(ctx context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Snapshot
	for _, s := range m.Snapshots {
		if s.Status != domain.SnapshotStatusSuccess && s.Status != domain.SnapshotStatusPartial {
			continue
		}
		if latest == nil || s.SnapshotID > latest.SnapshotID {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (m *MockSnapshotStorage) List(ctx context.Context, filter domain.SnapshotListFilter) ([]domain.SnapshotMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metas := make([]domain.SnapshotMeta, 0, len(m.Snapshots))
	for _, s := range m.Snapshots {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.FromDate != "" && s.SnapshotID < filter.FromDate {
			continue
		}
		if filter.ToDate != "" && s.SnapshotID > filter.ToDate {
			continue
		}
		metas = append(metas, s.Meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].SnapshotID > metas[j].SnapshotID })
	if filter.Limit > 0 && len(metas) > filter.Limit {
		metas = metas[:filter.Limit]
	}
	return metas, nil
}

func (m *MockSnapshotStorage) Delete(ctx context.Context, snapshotID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return false, m.DeleteErr
	}
	if _, ok := m.Snapshots[snapshotID]; !ok {
		return false, nil
	}
	delete(m.Snapshots, snapshotID)
	return true, nil
}

func (m *MockSnapshotStorage) Ready(ctx context.Context) bool { return !m.NotReady }

// MockTimeSeriesStorage is an in-memory implementation of
// domain.TimeSeriesIndexStorage for testing.
type MockTimeSeriesStorage struct {
	mu        sync.Mutex
	Points    map[string][]domain.TimeSeriesDataPoint // keyed by district id
	AppendErr error
	DeleteErr error
	NotReady  bool
}

func NewMockTimeSeriesStorage() *MockTimeSeriesStorage {
	return &MockTimeSeriesStorage{Points: make(map[string][]domain.TimeSeriesDataPoint)}
}

func (m *MockTimeSeriesStorage) AppendDataPoint(ctx context.Context, districtID string, point domain.TimeSeriesDataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.Points[districtID] = append(m.Points[districtID], point)
	return nil
}

func (m *MockTimeSeriesStorage) GetRange(ctx context.Context, districtID, startDate, endDate string) ([]domain.TimeSeriesDataPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TimeSeriesDataPoint
	for _, p := range m.Points[districtID] {
		if p.Date >= startDate && p.Date <= endDate {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MockTimeSeriesStorage) GetProgramYearData(ctx context.Context, districtID, programYear string) (*domain.ProgramYearBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := &domain.ProgramYearBucket{DistrictID: districtID, ProgramYear: programYear}
	for _, p := range m.Points[districtID] {
		py, err := domain.ProgramYearOfDate(p.Date)
		if err != nil {
			continue
		}
		if py == programYear {
			bucket.DataPoints = append(bucket.DataPoints, p)
		}
	}
	if len(bucket.DataPoints) == 0 {
		return nil, nil
	}
	sort.Slice(bucket.DataPoints, func(i, j int) bool { return bucket.DataPoints[i].Date < bucket.DataPoints[j].Date })
	return bucket, nil
}

func (m *MockTimeSeriesStorage) DeleteSnapshotEntries(ctx context.Context, snapshotID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return 0, m.DeleteErr
	}
	removed := 0
	for district, points := range m.Points {
		kept := points[:0]
		for _, p := range points {
			if p.SnapshotID == snapshotID {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		m.Points[district] = kept
	}
	return removed, nil
}

func (m *MockTimeSeriesStorage) Ready(ctx context.Context) bool { return !m.NotReady }

// MockDistrictFetcher implements domain.DistrictFetcher with pluggable
// behavior and call accounting for concurrency assertions.
type MockDistrictFetcher struct {
	mu            sync.Mutex
	FetchFunc     func(ctx context.Context, districtID string) (*domain.DistrictRecord, error)
	FetchAllFunc  func(ctx context.Context) ([]domain.DistrictRecord, error)
	Calls         []string
	active        int
	MaxActiveSeen int
}

func (m *MockDistrictFetcher) enter(districtID string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, districtID)
	m.active++
	if m.active > m.MaxActiveSeen {
		m.MaxActiveSeen = m.active
	}
	m.mu.Unlock()
}

func (m *MockDistrictFetcher) exit() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

func (m *MockDistrictFetcher) FetchDistrict(ctx context.Context, districtID string) (*domain.DistrictRecord, error) {
	m.enter(districtID)
	defer m.exit()
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, districtID)
	}
	return &domain.DistrictRecord{DistrictID: districtID}, nil
}

func (m *MockDistrictFetcher) FetchAllDistricts(ctx context.Context) ([]domain.DistrictRecord, error) {
	m.enter("*")
	defer m.exit()
	if m.FetchAllFunc != nil {
		return m.FetchAllFunc(ctx)
	}
	return nil, nil
}

// CallCount returns how many fetches were issued for the given district id.
func (m *MockDistrictFetcher) CallCount(districtID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == districtID {
			n++
		}
	}
	return n
}

// MockDistrictConfig implements domain.DistrictConfigRepository over a fixed
// district list.
type MockDistrictConfig struct {
	Districts []string
	Err       error
}

func (m *MockDistrictConfig) GetConfiguredDistricts(ctx context.Context) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]string(nil), m.Districts...), nil
}

// MockValidator implements domain.RecordValidator. By default every record
// set is valid; set Invalid to fail records whose id contains FailSubstring.
type MockValidator struct {
	Invalid       bool
	FailSubstring string
}

func (m *MockValidator) Validate(records []domain.DistrictRecord) domain.ValidationResult {
	if !m.Invalid {
		return domain.ValidationResult{IsValid: true}
	}
	res := domain.ValidationResult{IsValid: true}
	for _, r := range records {
		if m.FailSubstring != "" && strings.Contains(r.DistrictID, m.FailSubstring) {
			res.IsValid = false
			res.Errors = append(res.Errors, "invalid record for district "+r.DistrictID)
		}
	}
	return res
}
