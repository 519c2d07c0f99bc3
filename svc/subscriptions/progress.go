package subscriptions

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

var _ subscription.ProgressSource = (*MongoProgress)(nil)

// planDocument is the part of a learning plan this service reads.
// The collection is owned by the learning feature.
type planDocument struct {
	ID                any    `bson:"_id"`
	UserID            string `bson:"user_id"`
	Language          string `bson:"language"`
	CompletedSessions int64  `bson:"completed_sessions"`
}

// MongoProgress reads learning plan progress from the learning_plans collection.
type MongoProgress struct {
	coll *mongo.Collection
}

// NewMongoProgress creates a progress source on db's learning_plans collection.
func NewMongoProgress(db *mongo.Database) *MongoProgress {
	if db == nil {
		panic("subscriptions: mongo database is required")
	}
	return &MongoProgress{coll: db.Collection(CollectionLearningPlans)}
}

func (p *MongoProgress) ListByUser(ctx context.Context, userID string) ([]subscription.PlanProgress, error) {
	cur, err := p.coll.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetProjection(bson.M{
			"_id":                1,
			"user_id":            1,
			"language":           1,
			"completed_sessions": 1,
		}),
	)
	if err != nil {
		return nil, errors.Join(subscription.ErrProgressUnavailable, err)
	}
	var docs []planDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Join(subscription.ErrProgressUnavailable, err)
	}

	out := make([]subscription.PlanProgress, 0, len(docs))
	for _, d := range docs {
		out = append(out, subscription.PlanProgress{
			UserID:            d.UserID,
			PlanID:            planID(d.ID),
			Language:          d.Language,
			CompletedSessions: d.CompletedSessions,
		})
	}
	return out, nil
}

// planID renders a learning plan id that may be an ObjectID or a string.
func planID(id any) string {
	switch v := id.(type) {
	case bson.ObjectID:
		return v.Hex()
	case string:
		return v
	}
	return ""
}
