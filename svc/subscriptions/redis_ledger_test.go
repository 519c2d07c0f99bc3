package subscriptions_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
	"github.com/alipala/language-tutor-sub001/svc/subscriptions"
)

func newRedisLedger(t *testing.T, opts ...subscriptions.RedisLedgerOption) (*subscriptions.RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return subscriptions.NewRedisLedger(client, 24*time.Hour, opts...), mr
}

func TestRedisLedgerSeenAndRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger, mr := newRedisLedger(t)

	seen, err := ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	recordEvent(t, ledger, "evt_1", testNow)
	seen, err = ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.Equal(t, 24*time.Hour, mr.TTL("processed_event:evt_1"))

	// A second record keeps the first applied time.
	first, err := ledger.Record(ctx, "evt_1", testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, first)
	got, err := mr.Get("processed_event:evt_1")
	require.NoError(t, err)
	assert.Equal(t, testNow.Format(time.RFC3339Nano), got)
}

func TestRedisLedgerExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger, mr := newRedisLedger(t, subscriptions.WithKeyPrefix("ledger:"))

	recordEvent(t, ledger, "evt_1", testNow)
	assert.True(t, mr.Exists("ledger:evt_1"))

	mr.FastForward(25 * time.Hour)

	seen, err := ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisLedgerPrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger, mr := newRedisLedger(t, subscriptions.WithScanBatchSize(3))

	for i := range 5 {
		recordEvent(t, ledger, fmt.Sprintf("old_%d", i), testNow.Add(-48*time.Hour))
	}
	for i := range 4 {
		recordEvent(t, ledger, fmt.Sprintf("new_%d", i), testNow.Add(-time.Hour))
	}
	require.NoError(t, mr.Set("processed_event:garbage", "not a time"))
	require.NoError(t, mr.Set("unrelated", "keep"))

	removed, err := ledger.Prune(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(6), removed)

	for i := range 4 {
		seen, err := ledger.Seen(ctx, fmt.Sprintf("new_%d", i))
		require.NoError(t, err)
		assert.True(t, seen)
	}
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisLedgerUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger, mr := newRedisLedger(t)
	mr.Close()

	_, err := ledger.Seen(ctx, "evt_1")
	assert.ErrorIs(t, err, subscription.ErrLedgerFailure)
	_, err = ledger.Record(ctx, "evt_1", testNow)
	assert.ErrorIs(t, err, subscription.ErrLedgerFailure)
	_, err = ledger.Prune(ctx, testNow)
	assert.ErrorIs(t, err, subscription.ErrLedgerFailure)
}

// commandRecorder captures every command sent through a client.
type commandRecorder struct {
	mu   sync.Mutex
	cmds []redis.Cmder
}

func (r *commandRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *commandRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.add(cmd)
		return next(ctx, cmd)
	}
}

func (r *commandRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		r.add(cmds...)
		return next(ctx, cmds)
	}
}

func (r *commandRecorder) add(cmds ...redis.Cmder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmds...)
}

func (r *commandRecorder) named(name string) []redis.Cmder {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []redis.Cmder
	for _, c := range r.cmds {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

func TestRedisLedgerPruneUsesSingleKeyCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ledger := subscriptions.NewRedisLedger(client, 24*time.Hour, subscriptions.WithScanBatchSize(10))

	for i := range 4 {
		recordEvent(t, ledger, fmt.Sprintf("old_%d", i), testNow.Add(-48*time.Hour))
	}
	recordEvent(t, ledger, "new_0", testNow)

	rec := &commandRecorder{}
	client.AddHook(rec)

	removed, err := ledger.Prune(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)

	assert.Empty(t, rec.named("mget"))
	dels := rec.named("del")
	require.Len(t, dels, 4)
	for _, cmd := range dels {
		assert.Len(t, cmd.Args(), 2, "one key per DEL")
	}
}

func TestRedisLedgerPruneOnClusterClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = client.Close() })
	ledger := subscriptions.NewRedisLedger(client, 24*time.Hour, subscriptions.WithScanBatchSize(2))

	for i := range 3 {
		recordEvent(t, ledger, fmt.Sprintf("old_%d", i), testNow.Add(-48*time.Hour))
	}
	for i := range 2 {
		recordEvent(t, ledger, fmt.Sprintf("new_%d", i), testNow)
	}

	removed, err := ledger.Prune(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	for i := range 2 {
		seen, err := ledger.Seen(ctx, fmt.Sprintf("new_%d", i))
		require.NoError(t, err)
		assert.True(t, seen)
	}
}
