package subscriptions

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/alipala/language-tutor-sub001/pkg/audit"
	mongodb "github.com/alipala/language-tutor-sub001/pkg/mongo"
)

var _ audit.Storage = (*MongoAuditStorage)(nil)

type auditDocument struct {
	ID         string         `bson:"_id"`
	Actor      string         `bson:"actor"`
	Action     string         `bson:"action"`
	Resource   string         `bson:"resource"`
	ResourceID string         `bson:"resource_id"`
	Result     string         `bson:"result"`
	Reason     string         `bson:"reason,omitempty"`
	Error      string         `bson:"error,omitempty"`
	RequestID  string         `bson:"request_id,omitempty"`
	Before     map[string]any `bson:"before,omitempty"`
	After      map[string]any `bson:"after,omitempty"`
	Metadata   map[string]any `bson:"metadata,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
}

// MongoAuditStorage persists audit events in the audit_events collection.
// Entries are append-only.
type MongoAuditStorage struct {
	coll *mongo.Collection
}

// NewMongoAuditStorage creates audit storage on db's audit_events collection.
func NewMongoAuditStorage(db *mongo.Database) *MongoAuditStorage {
	if db == nil {
		panic("subscriptions: mongo database is required")
	}
	return &MongoAuditStorage{coll: db.Collection(CollectionAuditEvents)}
}

// EnsureIndexes creates the resource history and actor indexes.
func (s *MongoAuditStorage) EnsureIndexes(ctx context.Context) error {
	return mongodb.EnsureIndexes(ctx, s.coll,
		mongo.IndexModel{Keys: bson.D{
			{Key: "resource", Value: 1},
			{Key: "resource_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		mongo.IndexModel{Keys: bson.D{{Key: "actor", Value: 1}, {Key: "created_at", Value: -1}}},
	)
}

func (s *MongoAuditStorage) Store(ctx context.Context, e audit.Event) error {
	_, err := s.coll.InsertOne(ctx, auditDocument{
		ID:         e.ID,
		Actor:      e.Actor,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Result:     string(e.Result),
		Reason:     e.Reason,
		Error:      e.Error,
		RequestID:  e.RequestID,
		Before:     e.Before,
		After:      e.After,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", audit.ErrStorageNotAvailable, err)
	}
	return nil
}

func (s *MongoAuditStorage) Query(ctx context.Context, c audit.Criteria) ([]audit.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if c.Offset > 0 {
		opts.SetSkip(int64(c.Offset))
	}
	if c.Limit > 0 {
		opts.SetLimit(int64(c.Limit))
	}

	cur, err := s.coll.Find(ctx, auditFilter(c), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audit.ErrStorageNotAvailable, err)
	}
	var docs []auditDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %w", audit.ErrStorageNotAvailable, err)
	}

	events := make([]audit.Event, 0, len(docs))
	for _, d := range docs {
		events = append(events, audit.Event{
			ID:         d.ID,
			Actor:      d.Actor,
			Action:     d.Action,
			Resource:   d.Resource,
			ResourceID: d.ResourceID,
			Result:     audit.Result(d.Result),
			Reason:     d.Reason,
			Error:      d.Error,
			RequestID:  d.RequestID,
			Before:     d.Before,
			After:      d.After,
			Metadata:   d.Metadata,
			CreatedAt:  d.CreatedAt.UTC(),
		})
	}
	return events, nil
}

func auditFilter(c audit.Criteria) bson.M {
	filter := bson.M{}
	if c.Actor != "" {
		filter["actor"] = c.Actor
	}
	if c.Action != "" {
		filter["action"] = c.Action
	}
	if c.Resource != "" {
		filter["resource"] = c.Resource
	}
	if c.ResourceID != "" {
		filter["resource_id"] = c.ResourceID
	}
	created := bson.M{}
	if !c.Since.IsZero() {
		created["$gte"] = c.Since.UTC()
	}
	if !c.Until.IsZero() {
		created["$lt"] = c.Until.UTC()
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}
	return filter
}
