package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/audit"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

type failingAuditStorage struct {
	*audit.MemoryStorage
}

func (failingAuditStorage) Store(context.Context, audit.Event) error {
	return errors.New("audit collection unavailable")
}

func newOverride(t *testing.T, store subscription.Store, opts ...subscription.Option) (*subscription.AdminOverride, *audit.MemoryStorage) {
	t.Helper()
	storage := audit.NewMemoryStorage()
	auditLog := audit.NewLogger(storage, audit.WithClock(func() time.Time { return testNow }))
	return subscription.NewAdminOverride(store, auditLog, baseOptions(opts...)...), storage
}

func TestNewAdminOverride_PanicsOnMissingCollaborators(t *testing.T) {
	t.Parallel()

	auditLog := audit.NewLogger(audit.NewMemoryStorage())
	assert.Panics(t, func() { subscription.NewAdminOverride(nil, auditLog) })
	assert.Panics(t, func() { subscription.NewAdminOverride(subscription.NewMemoryStore(), nil) })
}

func TestAdminOverride_ExtendExpiry(t *testing.T) {
	t.Parallel()

	seed := activeRecord("user-1", "cus_1")
	seed.Status = subscription.StatusCanceled
	seed.ExpiresAt = ptr(mustTime("2026-06-28T22:37:34Z"))
	store := subscription.NewMemoryStore(seed)
	o, storage := newOverride(t, store)

	rec, err := o.ApplyOverride(context.Background(), "user-1", subscription.Override{
		Patch:  subscription.Patch{ExpiresAt: subscription.Set(ptr(mustTime("2026-09-01T00:00:00Z")))},
		Actor:  "admin@example.com",
		Reason: "goodwill extension after outage",
	})
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, mustTime("2026-09-01T00:00:00Z"), *rec.ExpiresAt)
	assert.Equal(t, int64(2), rec.Version)

	events := storage.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, subscription.AuditActionOverride, ev.Action)
	assert.Equal(t, audit.ResultSuccess, ev.Result)
	assert.Equal(t, "admin@example.com", ev.Actor)
	assert.Equal(t, "goodwill extension after outage", ev.Reason)
	assert.Equal(t, subscription.AuditResourceSubscription, ev.Resource)
	assert.Equal(t, "user-1", ev.ResourceID)
	assert.Equal(t, "2026-06-28T22:37:34Z", ev.Before["expires_at"])
	assert.Equal(t, "2026-09-01T00:00:00Z", ev.After["expires_at"])
	assert.Equal(t, []string{"expires_at"}, ev.Metadata["fields"])
}

func TestAdminOverride_RejectsRuleViolations(t *testing.T) {
	t.Parallel()

	seed := activeRecord("user-1", "cus_1")
	seed.ExpiresAt = ptr(mustTime("2026-06-28T22:37:34Z"))
	seed.PracticeSessionsUsed = 3

	tests := []struct {
		name  string
		patch subscription.Patch
		field string
		want  error
	}{
		{
			name:  "shortened expiry",
			patch: subscription.Patch{ExpiresAt: subscription.Set(ptr(mustTime("2026-01-01T00:00:00Z")))},
			field: "expires_at",
			want:  subscription.ErrExpiryShortened,
		},
		{
			name:  "negative counter",
			patch: subscription.Patch{PracticeSessionsUsed: subscription.Set(int64(-1))},
			field: "practice_sessions_used",
			want:  subscription.ErrNegativeCounter,
		},
		{
			name:  "inverted period",
			patch: subscription.Patch{PeriodEnd: subscription.Set(mustTime("2025-01-01T00:00:00Z"))},
			field: "period_end",
			want:  subscription.ErrInvalidPeriod,
		},
		{
			name:  "unknown status",
			patch: subscription.Patch{Status: subscription.Set(subscription.SubscriptionStatus("trialing"))},
			field: "status",
			want:  subscription.ErrInvalidStatus,
		},
		{
			name:  "customer reassignment without flag",
			patch: subscription.Patch{BillingCustomerRef: subscription.Set("cus_2")},
			field: "billing_customer_ref",
			want:  subscription.ErrCustomerRefImmutable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := subscription.NewMemoryStore(seed.Clone())
			o, storage := newOverride(t, store)

			_, err := o.ApplyOverride(context.Background(), "user-1", subscription.Override{
				Patch: tt.patch,
				Actor: "admin@example.com",
			})
			require.ErrorIs(t, err, tt.want)

			var verr *subscription.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
			assert.False(t, subscription.IsTransient(err))

			rec, err := store.Get(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), rec.Version, "rejected override must not write")

			events := storage.Events()
			require.Len(t, events, 1)
			assert.Equal(t, audit.ResultFailure, events[0].Result)
			assert.NotEmpty(t, events[0].Error)
		})
	}
}

func TestAdminOverride_RequiresActorAndChange(t *testing.T) {
	t.Parallel()

	o, storage := newOverride(t, subscription.NewMemoryStore(activeRecord("user-1", "cus_1")))

	_, err := o.ApplyOverride(context.Background(), "user-1", subscription.Override{
		Patch: subscription.Patch{PlanID: subscription.Set("basic")},
	})
	require.ErrorIs(t, err, subscription.ErrMissingActor)

	_, err = o.ApplyOverride(context.Background(), "user-1", subscription.Override{Actor: "admin@example.com"})
	require.ErrorIs(t, err, subscription.ErrEmptyOverride)

	_, err = o.ApplyOverride(context.Background(), "", subscription.Override{
		Actor: "admin@example.com",
		Patch: subscription.Patch{PlanID: subscription.Set("basic")},
	})
	require.ErrorIs(t, err, subscription.ErrMissingUserID)

	assert.Empty(t, storage.Events())
}

func TestAdminOverride_CustomerMapping(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore(
		subscription.NewRecord("user-1"),
		mappedRecord("user-2", "cus_taken"),
		mappedRecord("user-3", "cus_old"),
	)
	o, _ := newOverride(t, store)
	ctx := context.Background()

	rec, err := o.ApplyOverride(ctx, "user-1", subscription.Override{
		Patch: subscription.Patch{BillingCustomerRef: subscription.Set("cus_new")},
		Actor: "admin@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", rec.BillingCustomerRef)

	found, err := store.FindByCustomerRef(ctx, "cus_new")
	require.NoError(t, err)
	assert.Equal(t, "user-1", found.UserID)

	_, err = o.ApplyOverride(ctx, "user-3", subscription.Override{
		Patch:            subscription.Patch{BillingCustomerRef: subscription.Set("cus_taken")},
		Actor:            "admin@example.com",
		ReassignCustomer: true,
	})
	require.ErrorIs(t, err, subscription.ErrCustomerRefTaken)

	rec, err = o.ApplyOverride(ctx, "user-3", subscription.Override{
		Patch:            subscription.Patch{BillingCustomerRef: subscription.Set("cus_replacement")},
		Actor:            "admin@example.com",
		Reason:           "customer recreated in billing dashboard",
		ReassignCustomer: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_replacement", rec.BillingCustomerRef)
}

func TestAdminOverride_CreatesMissingRecord(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	o, _ := newOverride(t, store)

	rec, err := o.ApplyOverride(context.Background(), "user-new", subscription.Override{
		Patch: subscription.Patch{
			Status:    subscription.Set(subscription.StatusActive),
			PlanID:    subscription.Set("pro"),
			ExpiresAt: subscription.Set(ptr(mustTime("2025-12-31T00:00:00Z"))),
		},
		Actor: "support@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.True(t, rec.HasAccessAt(testNow))
}

func TestAdminOverride_ResetUsage(t *testing.T) {
	t.Parallel()

	seed := activeRecord("user-1", "cus_1")
	seed.PracticeSessionsUsed = 12
	seed.AssessmentsUsed = 4
	store := subscription.NewMemoryStore(seed)
	o, storage := newOverride(t, store)

	rec, err := o.ResetUsage(context.Background(), "user-1", subscription.CounterAssessments, "admin@example.com", "billing cycle reset")
	require.NoError(t, err)
	assert.Zero(t, rec.AssessmentsUsed)
	assert.Equal(t, int64(12), rec.PracticeSessionsUsed)

	events := storage.Events()
	require.Len(t, events, 1)
	assert.Equal(t, subscription.AuditActionUsageReset, events[0].Action)
	assert.Equal(t, int64(4), events[0].Before["assessments_used"])
	assert.Equal(t, int64(0), events[0].After["assessments_used"])

	_, err = o.ResetUsage(context.Background(), "user-1", subscription.Counter("lessons"), "admin@example.com", "")
	require.ErrorIs(t, err, subscription.ErrInvalidCounter)
}

func TestAdminOverride_SurvivesOneConflict(t *testing.T) {
	t.Parallel()

	store := &racingStore{
		MemoryStore: subscription.NewMemoryStore(activeRecord("user-1", "cus_1")),
		races:       1,
		bump:        subscription.Patch{PracticeSessionsUsed: subscription.Set(int64(7))},
	}
	o, _ := newOverride(t, store)

	rec, err := o.ApplyOverride(context.Background(), "user-1", subscription.Override{
		Patch: subscription.Patch{PlanID: subscription.Set("basic")},
		Actor: "admin@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "basic", rec.PlanID)
	assert.Equal(t, int64(7), rec.PracticeSessionsUsed)
	assert.Equal(t, int64(3), rec.Version)
}

func TestAdminOverride_AuditFailureDoesNotUndoChange(t *testing.T) {
	t.Parallel()

	alerts := &alertRecorder{}
	store := subscription.NewMemoryStore(activeRecord("user-1", "cus_1"))
	auditLog := audit.NewLogger(failingAuditStorage{audit.NewMemoryStorage()})
	o := subscription.NewAdminOverride(store, auditLog, baseOptions(subscription.WithAlerter(alerts))...)

	rec, err := o.ApplyOverride(context.Background(), "user-1", subscription.Override{
		Patch: subscription.Patch{PlanID: subscription.Set("basic")},
		Actor: "admin@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "basic", rec.PlanID)
	assert.Equal(t, []alert.Kind{alert.KindAuditWriteFailed}, alerts.kinds())
}
