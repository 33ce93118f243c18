package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/resilience"
)

const pointsCollection = "timeseries_points"

// pointDoc is one observation, denormalized with its district and
// program-year keys so range queries and cascades stay single-collection.
type pointDoc struct {
	DistrictID  string                     `bson:"district_id"`
	ProgramYear string                     `bson:"program_year"`
	Date        string                     `bson:"date"`
	SnapshotID  string                     `bson:"snapshot_id"`
	UpdatedAt   time.Time                  `bson:"updated_at"`
	Point       domain.TimeSeriesDataPoint `bson:"point"`
}

// TimeSeriesRepository implements domain.TimeSeriesIndexStorage on MongoDB,
// mirroring the local per-district per-program-year structure as documents
// in a single collection.
type TimeSeriesRepository struct {
	db      *mongo.Database
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewTimeSeriesRepository creates a MongoDB-backed time-series store.
func NewTimeSeriesRepository(db *mongo.Database, breaker *resilience.CircuitBreaker, logger *slog.Logger) *TimeSeriesRepository {
	return &TimeSeriesRepository{
		db:      db,
		breaker: breaker,
		logger:  logger.With("component", "mongo_timeseries_repository"),
	}
}

func (r *TimeSeriesRepository) points() *mongo.Collection {
	return r.db.Collection(pointsCollection)
}

func (r *TimeSeriesRepository) opErr(op, key string, err error) error {
	return &domain.StorageOperationError{
		Op:        op,
		Backend:   backendName,
		Key:       key,
		Retryable: mongo.IsTimeout(err) || mongo.IsNetworkError(err),
		Err:       err,
	}
}

// AppendDataPoint upserts one observation keyed by district and date.
func (r *TimeSeriesRepository) AppendDataPoint(ctx context.Context, districtID string, point domain.TimeSeriesDataPoint) error {
	programYear, err := domain.ProgramYearOfDate(point.Date)
	if err != nil {
		return domain.NewValidationError("data point date: %v", err)
	}

	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		doc := pointDoc{
			DistrictID:  districtID,
			ProgramYear: programYear,
			Date:        point.Date,
			SnapshotID:  point.SnapshotID,
			UpdatedAt:   time.Now().UTC(),
			Point:       point,
		}
		filter := bson.M{"district_id": districtID, "date": point.Date}
		opts := options.Replace().SetUpsert(true)
		if _, err := r.points().ReplaceOne(ctx, filter, doc, opts); err != nil {
			return r.opErr("append", districtID+"/"+point.Date, err)
		}
		return nil
	})
}

// GetRange returns the district's points within the inclusive date range.
func (r *TimeSeriesRepository) GetRange(ctx context.Context, districtID, startDate, endDate string) ([]domain.TimeSeriesDataPoint, error) {
	var out []domain.TimeSeriesDataPoint
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		filter := bson.M{
			"district_id": districtID,
			"date":        bson.M{"$gte": startDate, "$lte": endDate},
		}
		opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
		cursor, err := r.points().Find(ctx, filter, opts)
		if err != nil {
			return r.opErr("get_range", districtID, err)
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var doc pointDoc
			if err := cursor.Decode(&doc); err != nil {
				return r.opErr("get_range", districtID, err)
			}
			out = append(out, doc.Point)
		}
		return cursor.Err()
	})
	return out, err
}

// GetProgramYearData assembles one bucket, or (nil, nil) when no points
// exist for it.
func (r *TimeSeriesRepository) GetProgramYearData(ctx context.Context, districtID, programYear string) (*domain.ProgramYearBucket, error) {
	var bucket *domain.ProgramYearBucket
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		filter := bson.M{"district_id": districtID, "program_year": programYear}
		opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
		cursor, err := r.points().Find(ctx, filter, opts)
		if err != nil {
			return r.opErr("get_program_year", districtID+"/"+programYear, err)
		}
		defer cursor.Close(ctx)

		var pts []domain.TimeSeriesDataPoint
		var updatedAt time.Time
		for cursor.Next(ctx) {
			var doc pointDoc
			if err := cursor.Decode(&doc); err != nil {
				return r.opErr("get_program_year", districtID+"/"+programYear, err)
			}
			pts = append(pts, doc.Point)
			if doc.UpdatedAt.After(updatedAt) {
				updatedAt = doc.UpdatedAt
			}
		}
		if err := cursor.Err(); err != nil {
			return err
		}
		if len(pts) == 0 {
			return nil
		}
		bucket = &domain.ProgramYearBucket{
			DistrictID:  districtID,
			ProgramYear: programYear,
			DataPoints:  pts,
			UpdatedAt:   updatedAt,
		}
		return nil
	})
	return bucket, err
}

// DeleteSnapshotEntries queries matching point ids then deletes them in
// bounded batches, returning the number removed.
func (r *TimeSeriesRepository) DeleteSnapshotEntries(ctx context.Context, snapshotID string) (int, error) {
	removed := 0
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		for {
			opts := options.Find().
				SetProjection(bson.M{"_id": 1}).
				SetLimit(deleteBatchSize)
			cursor, err := r.points().Find(ctx, bson.M{"snapshot_id": snapshotID}, opts)
			if err != nil {
				return r.opErr("delete_entries", snapshotID, err)
			}

			var ids []interface{}
			for cursor.Next(ctx) {
				var doc bson.M
				if err := cursor.Decode(&doc); err != nil {
					cursor.Close(ctx)
					return r.opErr("delete_entries", snapshotID, err)
				}
				ids = append(ids, doc["_id"])
			}
			if err := cursor.Err(); err != nil {
				cursor.Close(ctx)
				return r.opErr("delete_entries", snapshotID, err)
			}
			cursor.Close(ctx)

			if len(ids) == 0 {
				return nil
			}
			res, err := r.points().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
			if err != nil {
				return r.opErr("delete_entries", snapshotID, err)
			}
			removed += int(res.DeletedCount)
		}
	})
	if removed > 0 {
		r.logger.Info("time-series entries removed", "snapshot_id", snapshotID, "count", removed)
	}
	return removed, err
}

// Ready pings the deployment with a short deadline.
func (r *TimeSeriesRepository) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.Client().Ping(ctx, nil) == nil
}

// EnsureIndexes creates lookup indexes for range queries and cascades.
func (r *TimeSeriesRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "district_id", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "district_id", Value: 1}, {Key: "program_year", Value: 1}}},
		{Keys: bson.D{{Key: "snapshot_id", Value: 1}}},
	}
	if _, err := r.points().Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to ensure time-series indexes: %w", err)
	}
	return nil
}
