package subscriptions

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongodb "github.com/alipala/language-tutor-sub001/pkg/mongo"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

var _ subscription.Ledger = (*MongoLedger)(nil)

// MongoLedger implements subscription.Ledger on the processed_events collection.
// A TTL index on applied_at expires entries after the retention; Prune removes
// them eagerly.
type MongoLedger struct {
	coll      *mongo.Collection
	retention time.Duration
}

// NewMongoLedger creates a ledger on db's processed_events collection.
func NewMongoLedger(db *mongo.Database, retention time.Duration) *MongoLedger {
	if db == nil {
		panic("subscriptions: mongo database is required")
	}
	return &MongoLedger{
		coll:      db.Collection(CollectionProcessedEvents),
		retention: retention,
	}
}

// EnsureIndexes creates the TTL index on applied_at.
func (l *MongoLedger) EnsureIndexes(ctx context.Context) error {
	return mongodb.EnsureIndexes(ctx, l.coll, mongo.IndexModel{
		Keys:    bson.D{{Key: "applied_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(l.retention / time.Second)),
	})
}

func (l *MongoLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.coll.CountDocuments(ctx, bson.M{"_id": eventID}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Join(subscription.ErrLedgerFailure, err)
	}
	return n > 0, nil
}

// Record keeps the first applied_at when an event id is recorded twice.
func (l *MongoLedger) Record(ctx context.Context, eventID string, appliedAt time.Time) (bool, error) {
	res, err := l.coll.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$setOnInsert": bson.M{"applied_at": appliedAt.UTC()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return false, errors.Join(subscription.ErrLedgerFailure, err)
	}
	return res.UpsertedCount > 0, nil
}

func (l *MongoLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.coll.DeleteMany(ctx, bson.M{"applied_at": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, errors.Join(subscription.ErrLedgerFailure, err)
	}
	return res.DeletedCount, nil
}
