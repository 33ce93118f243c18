package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/resilience"
)

const (
	backendName         = "mongodb"
	snapshotsCollection = "snapshots"
	districtsCollection = "snapshot_districts"

	// deleteBatchSize matches the backend's per-request mutation limit.
	deleteBatchSize = 500
)

// snapshotDoc is the parent document: the snapshot without its district
// records, which live in a child collection keyed by snapshot id.
type snapshotDoc struct {
	ID                 string                    `bson:"_id"`
	CreatedAt          time.Time                 `bson:"created_at"`
	SchemaVersion      string                    `bson:"schema_version"`
	CalculationVersion string                    `bson:"calculation_version"`
	Status             string                    `bson:"status"`
	Errors             []string                  `bson:"errors,omitempty"`
	Metadata           domain.CollectionMetadata `bson:"metadata"`
}

type districtDoc struct {
	SnapshotID string                `bson:"snapshot_id"`
	DistrictID string                `bson:"district_id"`
	Record     domain.DistrictRecord `bson:"record"`
}

// SnapshotRepository implements domain.SnapshotStorage on MongoDB. Every
// call goes through a circuit breaker so a struggling cluster fails fast
// instead of piling up work.
type SnapshotRepository struct {
	db      *mongo.Database
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewSnapshotRepository creates a MongoDB-backed snapshot store.
func NewSnapshotRepository(db *mongo.Database, breaker *resilience.CircuitBreaker, logger *slog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:      db,
		breaker: breaker,
		logger:  logger.With("component", "mongo_snapshot_repository"),
	}
}

func (r *SnapshotRepository) snapshots() *mongo.Collection {
	return r.db.Collection(snapshotsCollection)
}

func (r *SnapshotRepository) districts() *mongo.Collection {
	return r.db.Collection(districtsCollection)
}

func (r *SnapshotRepository) opErr(op, key string, err error) error {
	return &domain.StorageOperationError{
		Op:        op,
		Backend:   backendName,
		Key:       key,
		Retryable: mongo.IsTimeout(err) || mongo.IsNetworkError(err),
		Err:       err,
	}
}

func toDoc(s *domain.Snapshot) snapshotDoc {
	return snapshotDoc{
		ID:                 s.SnapshotID,
		CreatedAt:          s.CreatedAt,
		SchemaVersion:      s.SchemaVersion,
		CalculationVersion: s.CalculationVersion,
		Status:             s.Status,
		Errors:             s.Errors,
		Metadata:           s.Payload.Metadata,
	}
}

func (d snapshotDoc) toSnapshot(districts []domain.DistrictRecord) *domain.Snapshot {
	return &domain.Snapshot{
		SnapshotID:         d.ID,
		CreatedAt:          d.CreatedAt,
		SchemaVersion:      d.SchemaVersion,
		CalculationVersion: d.CalculationVersion,
		Status:             d.Status,
		Errors:             d.Errors,
		Payload: domain.SnapshotPayload{
			Districts: districts,
			Metadata:  d.Metadata,
		},
	}
}

// Save replaces the parent document and rewrites the child district records.
// The parent upsert is the commit point; concurrent saves for the same id
// are last-writer-wins.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		if _, err := r.districts().DeleteMany(ctx, bson.M{"snapshot_id": snapshot.SnapshotID}); err != nil {
			return r.opErr("save", snapshot.SnapshotID, err)
		}

		docs := make([]interface{}, 0, len(snapshot.Payload.Districts))
		for _, d := range snapshot.Payload.Districts {
			docs = append(docs, districtDoc{
				SnapshotID: snapshot.SnapshotID,
				DistrictID: d.DistrictID,
				Record:     d,
			})
		}
		for start := 0; start < len(docs); start += deleteBatchSize {
			end := start + deleteBatchSize
			if end > len(docs) {
				end = len(docs)
			}
			if _, err := r.districts().InsertMany(ctx, docs[start:end]); err != nil {
				return r.opErr("save", snapshot.SnapshotID, err)
			}
		}

		opts := options.Replace().SetUpsert(true)
		if _, err := r.snapshots().ReplaceOne(ctx, bson.M{"_id": snapshot.SnapshotID}, toDoc(snapshot), opts); err != nil {
			return r.opErr("save", snapshot.SnapshotID, err)
		}

		r.logger.Info("snapshot saved", "snapshot_id", snapshot.SnapshotID, "status", snapshot.Status,
			"districts", len(snapshot.Payload.Districts))
		return nil
	})
}

// Get reassembles one snapshot from the parent document and its children.
func (r *SnapshotRepository) Get(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	var snapshot *domain.Snapshot
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var doc snapshotDoc
		err := r.snapshots().FindOne(ctx, bson.M{"_id": snapshotID}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &domain.NotFoundError{Resource: "snapshot", Key: snapshotID}
		}
		if err != nil {
			return r.opErr("get", snapshotID, err)
		}

		districts, err := r.loadDistricts(ctx, snapshotID)
		if err != nil {
			return err
		}
		snapshot = doc.toSnapshot(districts)
		return nil
	})
	return snapshot, err
}

func (r *SnapshotRepository) loadDistricts(ctx context.Context, snapshotID string) ([]domain.DistrictRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "district_id", Value: 1}})
	cursor, err := r.districts().Find(ctx, bson.M{"snapshot_id": snapshotID}, opts)
	if err != nil {
		return nil, r.opErr("get", snapshotID, err)
	}
	defer cursor.Close(ctx)

	var records []domain.DistrictRecord
	for cursor.Next(ctx) {
		var doc districtDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, r.opErr("get", snapshotID, err)
		}
		records = append(records, doc.Record)
	}
	if err := cursor.Err(); err != nil {
		return nil, r.opErr("get", snapshotID, err)
	}
	return records, nil
}

// GetLatest returns the newest snapshot by id ordering, any status.
func (r *SnapshotRepository) GetLatest(ctx context.Context) (*domain.Snapshot, error) {
	return r.findNewest(ctx, bson.M{})
}

// GetLatestSuccessful queries newest-first among success/partial snapshots.
// Pure query, no pointer document.
func (r *SnapshotRepository) GetLatestSuccessful(ctx context.Context) (*domain.Snapshot, error) {
	filter := bson.M{"status": bson.M{"$in": []string{domain.SnapshotStatusSuccess, domain.SnapshotStatusPartial}}}
	return r.findNewest(ctx, filter)
}

func (r *SnapshotRepository) findNewest(ctx context.Context, filter bson.M) (*domain.Snapshot, error) {
	var snapshot *domain.Snapshot
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
		var doc snapshotDoc
		err := r.snapshots().FindOne(ctx, filter, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		if err != nil {
			return r.opErr("get_latest", "", err)
		}

		districts, err := r.loadDistricts(ctx, doc.ID)
		if err != nil {
			return err
		}
		snapshot = doc.toSnapshot(districts)
		return nil
	})
	return snapshot, err
}

// List returns snapshot metadata newest first without loading children.
func (r *SnapshotRepository) List(ctx context.Context, filter domain.SnapshotListFilter) ([]domain.SnapshotMeta, error) {
	var metas []domain.SnapshotMeta
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		query := bson.M{}
		if filter.Status != "" {
			query["status"] = filter.Status
		}
		idBounds := bson.M{}
		if filter.FromDate != "" {
			idBounds["$gte"] = filter.FromDate
		}
		if filter.ToDate != "" {
			idBounds["$lte"] = filter.ToDate
		}
		if len(idBounds) > 0 {
			query["_id"] = idBounds
		}

		opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}

		cursor, err := r.snapshots().Find(ctx, query, opts)
		if err != nil {
			return r.opErr("list", "", err)
		}
		defer cursor.Close(ctx)

		metas = []domain.SnapshotMeta{}
		for cursor.Next(ctx) {
			var doc snapshotDoc
			if err := cursor.Decode(&doc); err != nil {
				return r.opErr("list", "", err)
			}
			metas = append(metas, domain.SnapshotMeta{
				SnapshotID:         doc.ID,
				CreatedAt:          doc.CreatedAt,
				Status:             doc.Status,
				SchemaVersion:      doc.SchemaVersion,
				DistrictCount:      doc.Metadata.DistrictCount,
				ErrorCount:         len(doc.Errors),
				AnalyticsAvailable: doc.Status == domain.SnapshotStatusSuccess || doc.Status == domain.SnapshotStatusPartial,
			})
		}
		return cursor.Err()
	})
	return metas, err
}

// Delete removes the child district records in bounded batches, then the
// parent document. A missing parent returns false, never an error.
func (r *SnapshotRepository) Delete(ctx context.Context, snapshotID string) (bool, error) {
	deleted := false
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		for {
			ids, err := r.childBatch(ctx, snapshotID)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				break
			}
			if _, err := r.districts().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
				return r.opErr("delete", snapshotID, err)
			}
		}

		res, err := r.snapshots().DeleteOne(ctx, bson.M{"_id": snapshotID})
		if err != nil {
			return r.opErr("delete", snapshotID, err)
		}
		deleted = res.DeletedCount > 0
		if deleted {
			r.logger.Info("snapshot deleted", "snapshot_id", snapshotID)
		}
		return nil
	})
	return deleted, err
}

// childBatch returns up to one mutation batch of child document ids.
func (r *SnapshotRepository) childBatch(ctx context.Context, snapshotID string) ([]interface{}, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetLimit(deleteBatchSize)
	cursor, err := r.districts().Find(ctx, bson.M{"snapshot_id": snapshotID}, opts)
	if err != nil {
		return nil, r.opErr("delete", snapshotID, err)
	}
	defer cursor.Close(ctx)

	var ids []interface{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, r.opErr("delete", snapshotID, err)
		}
		ids = append(ids, doc["_id"])
	}
	return ids, cursor.Err()
}

// Ready pings the deployment with a short deadline.
func (r *SnapshotRepository) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.Client().Ping(ctx, nil) == nil
}

// EnsureIndexes creates the child-collection lookup index. Called once at
// startup.
func (r *SnapshotRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.districts().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "snapshot_id", Value: 1}, {Key: "district_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure snapshot district indexes: %w", err)
	}
	return nil
}
