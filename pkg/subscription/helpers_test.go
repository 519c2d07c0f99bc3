package subscription_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

var (
	testNow    = mustTime("2025-07-01T12:00:00Z")
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func baseOptions(extra ...subscription.Option) []subscription.Option {
	return append([]subscription.Option{
		subscription.WithLogger(testLogger),
		subscription.WithClock(func() time.Time { return testNow }),
		subscription.WithCallTimeout(time.Second),
	}, extra...)
}

// mappedRecord is a user whose billing customer is known but who has no subscription yet.
func mappedRecord(userID, customerRef string) *subscription.Record {
	r := subscription.NewRecord(userID)
	r.BillingCustomerRef = customerRef
	return r
}

// activeRecord is a user on an active annual subscription.
func activeRecord(userID, customerRef string) *subscription.Record {
	r := mappedRecord(userID, customerRef)
	r.SubscriptionRef = "sub_1"
	r.PlanID = "pro"
	r.PriceRef = "price_pro_annual"
	r.BillingPeriod = subscription.BillingPeriodAnnual
	r.Status = subscription.StatusActive
	r.PeriodStart = mustTime("2025-06-28T22:37:34Z")
	r.PeriodEnd = mustTime("2026-06-28T22:37:34Z")
	r.StartedAt = ptr(mustTime("2025-06-28T22:37:34Z"))
	return r
}

// alertRecorder captures alerts.
type alertRecorder struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *alertRecorder) Notify(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *alertRecorder) kinds() []alert.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]alert.Kind, 0, len(r.alerts))
	for _, a := range r.alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

// racingStore simulates a concurrent writer: before each of the first
// `races` compare-and-set calls it bumps the record through another path.
type racingStore struct {
	*subscription.MemoryStore
	mu    sync.Mutex
	races int
	bump  subscription.Patch
}

func (s *racingStore) CompareAndSet(ctx context.Context, userID string, expected int64, patch subscription.Patch) (*subscription.Record, error) {
	s.mu.Lock()
	race := s.races > 0
	if race {
		s.races--
	}
	s.mu.Unlock()

	if race {
		cur, err := s.MemoryStore.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if _, err := s.MemoryStore.CompareAndSet(ctx, userID, cur.Version, s.bump); err != nil {
			return nil, err
		}
	}
	return s.MemoryStore.CompareAndSet(ctx, userID, expected, patch)
}

// failingLedger fails Seen or Record on demand.
type failingLedger struct {
	*subscription.MemoryLedger
	seenErr   error
	recordErr error
}

func (l *failingLedger) Seen(ctx context.Context, id string) (bool, error) {
	if l.seenErr != nil {
		return false, l.seenErr
	}
	return l.MemoryLedger.Seen(ctx, id)
}

func (l *failingLedger) Record(ctx context.Context, id string, at time.Time) (bool, error) {
	if l.recordErr != nil {
		return false, l.recordErr
	}
	return l.MemoryLedger.Record(ctx, id, at)
}

// redeliveringStore runs deliver once, right before the first write, so a second
// delivery of the same event passes the ledger check before the first is recorded.
type redeliveringStore struct {
	subscription.Store
	deliver     func()
	redelivered bool
}

func (s *redeliveringStore) CompareAndSet(ctx context.Context, userID string, expected int64, patch subscription.Patch) (*subscription.Record, error) {
	if !s.redelivered && s.deliver != nil {
		s.redelivered = true
		s.deliver()
	}
	return s.Store.CompareAndSet(ctx, userID, expected, patch)
}

// unavailableStore fails every call.
type unavailableStore struct {
	subscription.Store
}

var errDatabaseDown = errors.New("database down")

func (unavailableStore) Get(context.Context, string) (*subscription.Record, error) {
	return nil, errDatabaseDown
}

func (unavailableStore) FindByCustomerRef(context.Context, string) (*subscription.Record, error) {
	return nil, errDatabaseDown
}

func (unavailableStore) CompareAndSet(context.Context, string, int64, subscription.Patch) (*subscription.Record, error) {
	return nil, errDatabaseDown
}

func (unavailableStore) ListUserIDsByStatus(context.Context, ...subscription.SubscriptionStatus) ([]string, error) {
	return nil, errDatabaseDown
}

type staticCatalog map[string]struct {
	plan   string
	period subscription.BillingPeriod
}

func (c staticCatalog) ResolvePrice(ref string) (string, subscription.BillingPeriod, bool) {
	e, ok := c[ref]
	return e.plan, e.period, ok
}
