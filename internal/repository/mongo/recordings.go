package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"classcast/internal/domain"
)

// RecordingsRepository catalogs finished recordings. The files themselves
// stay on disk; only the metadata goes to Mongo.
type RecordingsRepository struct {
	collection *mongo.Collection
}

type recordingDoc struct {
	StreamKey string `bson:"streamKey"`
	Path      string `bson:"path"`
	StartedAt int64  `bson:"startedAt"`
	EndedAt   int64  `bson:"endedAt"`
	Failed    bool   `bson:"failed,omitempty"`
}

func NewRecordingsRepository(client *mongo.Client, dbName, collectionName string) *RecordingsRepository {
	return &RecordingsRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *RecordingsRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "streamKey", Value: 1}, {Key: "endedAt", Value: -1}}},
		{Keys: bson.D{{Key: "endedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *RecordingsRepository) Insert(ctx context.Context, rec domain.RecordingRecord) error {
	_, err := r.collection.InsertOne(ctx, toRecordingDoc(rec))
	return err
}

// ListRecent returns the newest recordings first.
func (r *RecordingsRepository) ListRecent(ctx context.Context, limit int) ([]domain.RecordingRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "endedAt", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []domain.RecordingRecord
	for cursor.Next(ctx) {
		var doc recordingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromRecordingDoc(doc))
	}
	return out, cursor.Err()
}

func toRecordingDoc(rec domain.RecordingRecord) recordingDoc {
	return recordingDoc{
		StreamKey: string(rec.StreamKey),
		Path:      rec.Path,
		StartedAt: rec.StartedAt.UTC().Unix(),
		EndedAt:   rec.EndedAt.UTC().Unix(),
		Failed:    rec.Failed,
	}
}

func fromRecordingDoc(doc recordingDoc) domain.RecordingRecord {
	return domain.RecordingRecord{
		StreamKey: domain.StreamKey(doc.StreamKey),
		Path:      doc.Path,
		StartedAt: time.Unix(doc.StartedAt, 0).UTC(),
		EndedAt:   time.Unix(doc.EndedAt, 0).UTC(),
		Failed:    doc.Failed,
	}
}
