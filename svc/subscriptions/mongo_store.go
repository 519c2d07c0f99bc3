package subscriptions

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongodb "github.com/alipala/language-tutor-sub001/pkg/mongo"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// Collection names used by the service.
const (
	CollectionSubscriptions   = "subscriptions"
	CollectionProcessedEvents = "processed_events"
	CollectionLearningPlans   = "learning_plans"
	CollectionAuditEvents     = "audit_events"
)

const customerRefIndex = "billing_customer_ref_unique"

var _ subscription.Store = (*MongoStore)(nil)

// recordDocument is the stored form of a subscription record.
// Empty optional fields are omitted so the sparse customer index skips them.
type recordDocument struct {
	UserID               string     `bson:"_id"`
	BillingCustomerRef   string     `bson:"billing_customer_ref,omitempty"`
	SubscriptionRef      string     `bson:"subscription_ref,omitempty"`
	PlanID               string     `bson:"plan_id,omitempty"`
	PriceRef             string     `bson:"price_ref,omitempty"`
	BillingPeriod        string     `bson:"billing_period,omitempty"`
	Status               string     `bson:"status"`
	PeriodStart          *time.Time `bson:"period_start,omitempty"`
	PeriodEnd            *time.Time `bson:"period_end,omitempty"`
	StartedAt            *time.Time `bson:"started_at,omitempty"`
	ExpiresAt            *time.Time `bson:"expires_at,omitempty"`
	PracticeSessionsUsed int64      `bson:"practice_sessions_used"`
	AssessmentsUsed      int64      `bson:"assessments_used"`
	Version              int64      `bson:"version"`
	UpdatedAt            time.Time  `bson:"updated_at"`
}

func toDocument(r *subscription.Record) recordDocument {
	return recordDocument{
		UserID:               r.UserID,
		BillingCustomerRef:   r.BillingCustomerRef,
		SubscriptionRef:      r.SubscriptionRef,
		PlanID:               r.PlanID,
		PriceRef:             r.PriceRef,
		BillingPeriod:        string(r.BillingPeriod),
		Status:               string(r.Status),
		PeriodStart:          optionalTime(r.PeriodStart),
		PeriodEnd:            optionalTime(r.PeriodEnd),
		StartedAt:            utcPtr(r.StartedAt),
		ExpiresAt:            utcPtr(r.ExpiresAt),
		PracticeSessionsUsed: r.PracticeSessionsUsed,
		AssessmentsUsed:      r.AssessmentsUsed,
		Version:              r.Version,
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

func (d recordDocument) record() *subscription.Record {
	r := &subscription.Record{
		UserID:               d.UserID,
		BillingCustomerRef:   d.BillingCustomerRef,
		SubscriptionRef:      d.SubscriptionRef,
		PlanID:               d.PlanID,
		PriceRef:             d.PriceRef,
		BillingPeriod:        subscription.BillingPeriod(d.BillingPeriod),
		Status:               subscription.SubscriptionStatus(d.Status),
		StartedAt:            utcPtr(d.StartedAt),
		ExpiresAt:            utcPtr(d.ExpiresAt),
		PracticeSessionsUsed: d.PracticeSessionsUsed,
		AssessmentsUsed:      d.AssessmentsUsed,
		Version:              d.Version,
		UpdatedAt:            d.UpdatedAt.UTC(),
	}
	if r.Status == "" {
		r.Status = subscription.StatusNone
	}
	if d.PeriodStart != nil {
		r.PeriodStart = d.PeriodStart.UTC()
	}
	if d.PeriodEnd != nil {
		r.PeriodEnd = d.PeriodEnd.UTC()
	}
	return r
}

// patchUpdate translates a patch into $set and $unset documents.
// Cleared strings and times are unset rather than stored as empty values.
func patchUpdate(p subscription.Patch) (set, unset bson.M) {
	set, unset = bson.M{}, bson.M{}
	str := func(field string, v string, ok bool) {
		switch {
		case !ok:
		case v == "":
			unset[field] = ""
		default:
			set[field] = v
		}
	}
	tm := func(field string, v *time.Time, ok bool) {
		switch {
		case !ok:
		case v == nil || v.IsZero():
			unset[field] = ""
		default:
			set[field] = v.UTC()
		}
	}

	v, ok := p.BillingCustomerRef.Get()
	str("billing_customer_ref", v, ok)
	v, ok = p.SubscriptionRef.Get()
	str("subscription_ref", v, ok)
	v, ok = p.PlanID.Get()
	str("plan_id", v, ok)
	v, ok = p.PriceRef.Get()
	str("price_ref", v, ok)
	if bp, ok := p.BillingPeriod.Get(); ok {
		str("billing_period", string(bp), true)
	}
	if st, ok := p.Status.Get(); ok {
		set["status"] = string(st)
	}
	if t, ok := p.PeriodStart.Get(); ok {
		tm("period_start", &t, true)
	}
	if t, ok := p.PeriodEnd.Get(); ok {
		tm("period_end", &t, true)
	}
	t, ok := p.StartedAt.Get()
	tm("started_at", t, ok)
	t, ok = p.ExpiresAt.Get()
	tm("expires_at", t, ok)
	if n, ok := p.PracticeSessionsUsed.Get(); ok {
		set["practice_sessions_used"] = n
	}
	if n, ok := p.AssessmentsUsed.Get(); ok {
		set["assessments_used"] = n
	}
	return set, unset
}

// MongoStore implements subscription.Store on the subscriptions collection.
// The user id is the document id and the version field is the compare-and-set token.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore creates a store on db's subscriptions collection.
func NewMongoStore(db *mongo.Database) *MongoStore {
	if db == nil {
		panic("subscriptions: mongo database is required")
	}
	return &MongoStore{
		coll: db.Collection(CollectionSubscriptions),
		now:  time.Now,
	}
}

// EnsureIndexes creates the unique customer mapping index and the listing indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	return mongodb.EnsureIndexes(ctx, s.coll,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "billing_customer_ref", Value: 1}},
			Options: options.Index().SetName(customerRefIndex).SetUnique(true).SetSparse(true),
		},
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "_id", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "plan_id", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "updated_at", Value: -1}}},
	)
}

func (s *MongoStore) Get(ctx context.Context, userID string) (*subscription.Record, error) {
	var doc recordDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		return nil, readErr(err)
	}
	return doc.record(), nil
}

func (s *MongoStore) CompareAndSet(ctx context.Context, userID string, expectedVersion int64, patch subscription.Patch) (*subscription.Record, error) {
	now := s.now().UTC()
	if expectedVersion == 0 {
		return s.insert(ctx, userID, patch, now)
	}

	set, unset := patchUpdate(patch)
	set["updated_at"] = now
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var doc recordDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "version": expectedVersion},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, subscription.ErrVersionConflict
	case mongo.IsDuplicateKeyError(err):
		return nil, duplicateErr(err)
	case err != nil:
		return nil, errors.Join(subscription.ErrStoreUnavailable, err)
	}
	return doc.record(), nil
}

func (s *MongoStore) insert(ctx context.Context, userID string, patch subscription.Patch, now time.Time) (*subscription.Record, error) {
	rec := patch.ApplyTo(subscription.NewRecord(userID))
	rec.Version = 1
	rec.UpdatedAt = now

	_, err := s.coll.InsertOne(ctx, toDocument(rec))
	switch {
	case mongo.IsDuplicateKeyError(err):
		return nil, duplicateErr(err)
	case err != nil:
		return nil, errors.Join(subscription.ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *MongoStore) FindByCustomerRef(ctx context.Context, customerRef string) (*subscription.Record, error) {
	if customerRef == "" {
		return nil, subscription.ErrRecordNotFound
	}
	var doc recordDocument
	err := s.coll.FindOne(ctx, bson.M{"billing_customer_ref": customerRef}).Decode(&doc)
	if err != nil {
		return nil, readErr(err)
	}
	return doc.record(), nil
}

func (s *MongoStore) Find(ctx context.Context, f subscription.Filter) (*subscription.Page, error) {
	filter := listFilter(f)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, errors.Join(subscription.ErrStoreUnavailable, err)
	}

	opts := options.Find().SetSort(listSort(f)).SetSkip(f.Skip)
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Join(subscription.ErrStoreUnavailable, err)
	}
	var docs []recordDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Join(subscription.ErrStoreUnavailable, err)
	}

	page := &subscription.Page{Total: total, Records: make([]*subscription.Record, 0, len(docs))}
	for _, d := range docs {
		page.Records = append(page.Records, d.record())
	}
	return page, nil
}

func (s *MongoStore) ListUserIDsByStatus(ctx context.Context, statuses ...subscription.SubscriptionStatus) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	cur, err := s.coll.Find(ctx,
		bson.M{"status": bson.M{"$in": statusStrings(statuses)}},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Join(subscription.ErrStoreUnavailable, err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Join(subscription.ErrStoreUnavailable, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func listFilter(f subscription.Filter) bson.M {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": statusStrings(f.Statuses)}
	}
	if f.PlanID != "" {
		filter["plan_id"] = f.PlanID
	}
	return filter
}

func listSort(f subscription.Filter) bson.D {
	dir := 1
	if f.Desc {
		dir = -1
	}
	switch f.SortBy {
	case subscription.SortByUpdatedAt:
		return bson.D{{Key: "updated_at", Value: dir}, {Key: "_id", Value: dir}}
	case subscription.SortByPeriodEnd:
		return bson.D{{Key: "period_end", Value: dir}, {Key: "_id", Value: dir}}
	}
	return bson.D{{Key: "_id", Value: dir}}
}

func statusStrings(statuses []subscription.SubscriptionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func readErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return subscription.ErrRecordNotFound
	}
	return errors.Join(subscription.ErrStoreUnavailable, err)
}

// duplicateErr tells a clash on the customer mapping index from a lost insert race.
func duplicateErr(err error) error {
	if strings.Contains(err.Error(), customerRefIndex) {
		return subscription.ErrCustomerRefTaken
	}
	return subscription.ErrVersionConflict
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
