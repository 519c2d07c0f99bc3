package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/audit"
)

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Store(ctx context.Context, event audit.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockStorage) Query(ctx context.Context, criteria audit.Criteria) ([]audit.Event, error) {
	args := m.Called(ctx, criteria)
	events, _ := args.Get(0).([]audit.Event)
	return events, args.Error(1)
}

type ctxKey struct{}

func TestNewLogger_PanicsOnNilStorage(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { audit.NewLogger(nil) })
}

func TestLogger_Log(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	storage := audit.NewMemoryStorage()
	l := audit.NewLogger(storage,
		audit.WithClock(func() time.Time { return fixed }),
		audit.WithRequestIDExtractor(func(ctx context.Context) (string, bool) {
			v, ok := ctx.Value(ctxKey{}).(string)
			return v, ok
		}),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	err := l.Log(ctx, "subscription.override",
		audit.WithActor("ops@example.com"),
		audit.WithResource("subscription", "user-1"),
		audit.WithReason("refund"),
		audit.WithChange(map[string]any{"status": "past_due"}, map[string]any{"status": "active"}),
		audit.WithMetadata("fields", []string{"status"}),
	)
	require.NoError(t, err)

	events := storage.Events()
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "ops@example.com", e.Actor)
	assert.Equal(t, "subscription.override", e.Action)
	assert.Equal(t, "user-1", e.ResourceID)
	assert.Equal(t, audit.ResultSuccess, e.Result)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "refund", e.Reason)
	assert.Equal(t, "active", e.After["status"])
	assert.Equal(t, fixed, e.CreatedAt)
}

func TestLogger_LogError(t *testing.T) {
	t.Parallel()

	storage := &mockStorage{}
	storage.On("Store", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Result == audit.ResultError && e.Error == "period_end: invalid" && e.Actor == "cli"
	})).Return(nil).Once()

	l := audit.NewLogger(storage, audit.WithActorExtractor(func(context.Context) (string, bool) {
		return "cli", true
	}))
	err := l.LogError(context.Background(), "subscription.override", errors.New("period_end: invalid"))
	require.NoError(t, err)
	storage.AssertExpectations(t)
}

func TestLogger_Validation(t *testing.T) {
	t.Parallel()

	storage := &mockStorage{}
	l := audit.NewLogger(storage)

	err := l.Log(context.Background(), "subscription.override")
	require.ErrorIs(t, err, audit.ErrEventValidation)

	err = l.Log(context.Background(), "", audit.WithActor("ops"))
	require.ErrorIs(t, err, audit.ErrEventValidation)

	storage.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
}

func TestLogger_StorageFailure(t *testing.T) {
	t.Parallel()

	storage := &mockStorage{}
	storage.On("Store", mock.Anything, mock.Anything).Return(audit.ErrStorageNotAvailable)

	err := audit.NewLogger(storage).Log(context.Background(), "a", audit.WithActor("ops"))
	require.ErrorIs(t, err, audit.ErrStorageNotAvailable)
}

func TestReader_History(t *testing.T) {
	t.Parallel()

	storage := audit.NewMemoryStorage()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"u1", "u2", "u1", "u1"} {
		require.NoError(t, storage.Store(context.Background(), audit.Event{
			ID:         string(rune('a' + i)),
			Actor:      "ops",
			Action:     "subscription.override",
			Resource:   "subscription",
			ResourceID: id,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	r := audit.NewReader(storage)

	events, err := r.History(context.Background(), "subscription", "u1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "d", events[0].ID)
	assert.Equal(t, "c", events[1].ID)

	events, err = r.Find(context.Background(), audit.Criteria{ResourceID: "u1", Offset: 2})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].ID)

	events, err = r.Find(context.Background(), audit.Criteria{Since: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
