package mongo

import (
	"context"
	"time"

	"github.com/yoockh/yoochat/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const JournalCollection = "stream_journal"

type StreamJournalRepository interface {
	Insert(ctx context.Context, l *models.StreamLog) error
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.StreamLog, error)
	CountByStatusSince(ctx context.Context, since time.Time) (map[string]int64, error)
}

type streamJournalRepo struct {
	col *mongo.Collection
}

func NewStreamJournalRepo(db *mongo.Database) StreamJournalRepository {
	return &streamJournalRepo{col: db.Collection(JournalCollection)}
}

func (r *streamJournalRepo) Insert(ctx context.Context, l *models.StreamLog) error {
	if l.EndedAt.IsZero() {
		l.EndedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, l)
	if mongo.IsDuplicateKeyError(err) {
		// a stream finishes once; a replayed record is not an error
		return nil
	}
	return err
}

func (r *streamJournalRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.StreamLog, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "ended_at", Value: -1}}).
		SetLimit(limit)

	cur, err := r.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.StreamLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByStatusSince aggregates finished streams by status.
func (r *streamJournalRepo) CountByStatusSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ended_at": bson.M{"$gte": since.UTC()}}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		N      int64  `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
