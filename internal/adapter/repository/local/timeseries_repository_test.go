package local

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/district-metrics/internal/domain"
)

func newTestTimeSeriesRepo(t *testing.T) *TimeSeriesRepository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := NewTimeSeriesRepository(t.TempDir(), logger)
	require.NoError(t, err)
	return repo
}

func point(date, snapshotID string, membership int) domain.TimeSeriesDataPoint {
	return domain.TimeSeriesDataPoint{
		Date:            date,
		SnapshotID:      snapshotID,
		TotalMembership: membership,
		PaidClubs:       10,
	}
}

func TestTimeSeriesRepository_AppendAndRange(t *testing.T) {
	repo := newTestTimeSeriesRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-02", "2024-01-02", 110)))
	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-01", "2024-01-01", 100)))
	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-03", "2024-01-03", 120)))

	points, err := repo.GetRange(ctx, "D101", "2024-01-01", "2024-01-02")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2024-01-01", points[0].Date, "points are date-ordered")
	assert.Equal(t, "2024-01-02", points[1].Date)
}

func TestTimeSeriesRepository_RangeSpansProgramYears(t *testing.T) {
	repo := newTestTimeSeriesRepo(t)
	ctx := context.Background()

	// June belongs to 2023-2024, July to 2024-2025.
	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-06-30", "2024-06-30", 100)))
	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-07-01", "2024-07-01", 101)))

	points, err := repo.GetRange(ctx, "D101", "2024-06-01", "2024-07-31")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2024-06-30", points[0].Date)
	assert.Equal(t, "2024-07-01", points[1].Date)
}

func TestTimeSeriesRepository_AppendReplacesSameDate(t *testing.T) {
	repo := newTestTimeSeriesRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-01", "2024-01-01", 100)))
	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-01", "2024-01-01", 150)))

	points, err := repo.GetRange(ctx, "D101", "2024-01-01", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, points, 1, "re-collection must not duplicate entries")
	assert.Equal(t, 150, points[0].TotalMembership)
}

func TestTimeSeriesRepository_GetProgramYearData(t *testing.T) {
	repo := newTestTimeSeriesRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-01", "2024-01-01", 100)))

	bucket, err := repo.GetProgramYearData(ctx, "D101", "2023-2024")
	require.NoError(t, err)
	require.NotNil(t, bucket)
	assert.Equal(t, "D101", bucket.DistrictID)
	assert.Equal(t, "2023-2024", bucket.ProgramYear)
	assert.Len(t, bucket.DataPoints, 1)

	missing, err := repo.GetProgramYearData(ctx, "D101", "2019-2020")
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = repo.GetProgramYearData(ctx, "D999", "2023-2024")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTimeSeriesRepository_DeleteSnapshotEntries(t *testing.T) {
	repo := newTestTimeSeriesRepo(t)
	ctx := context.Background()

	// Snapshot 2024-01-01 contributed points for two districts; another
	// snapshot's points must survive the cascade.
	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-01", "2024-01-01", 100)))
	require.NoError(t, repo.AppendDataPoint(ctx, "D102", point("2024-01-01", "2024-01-01", 200)))
	require.NoError(t, repo.AppendDataPoint(ctx, "D101", point("2024-01-02", "2024-01-02", 110)))

	removed, err := repo.DeleteSnapshotEntries(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	points, err := repo.GetRange(ctx, "D101", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "2024-01-02", points[0].Date)

	points, err = repo.GetRange(ctx, "D102", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestTimeSeriesRepository_DeleteWithNoEntries(t *testing.T) {
	repo := newTestTimeSeriesRepo(t)

	removed, err := repo.DeleteSnapshotEntries(context.Background(), "2020-05-05")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTimeSeriesRepository_InvalidDateRejected(t *testing.T) {
	repo := newTestTimeSeriesRepo(t)

	err := repo.AppendDataPoint(context.Background(), "D101", point("not-a-date", "x", 1))
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
