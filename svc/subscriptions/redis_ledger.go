package subscriptions

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

var _ subscription.Ledger = (*RedisLedger)(nil)

// RedisLedger implements subscription.Ledger with one key per event.
// Keys expire after the retention; the value is the applied time so Prune
// can drop entries older than an arbitrary cutoff.
type RedisLedger struct {
	client        redis.UniversalClient
	prefix        string
	retention     time.Duration
	scanBatchSize int64
}

// RedisLedgerOption configures a RedisLedger.
type RedisLedgerOption func(*RedisLedger)

// WithKeyPrefix sets the key prefix. Defaults to "processed_event:".
func WithKeyPrefix(prefix string) RedisLedgerOption {
	return func(l *RedisLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithScanBatchSize sets the SCAN count hint used by Prune.
func WithScanBatchSize(n int64) RedisLedgerOption {
	return func(l *RedisLedger) {
		if n > 0 {
			l.scanBatchSize = n
		}
	}
}

// NewRedisLedger creates a Redis backed ledger.
func NewRedisLedger(client redis.UniversalClient, retention time.Duration, opts ...RedisLedgerOption) *RedisLedger {
	if client == nil {
		panic("subscriptions: redis client is required")
	}
	l := &RedisLedger{
		client:        client,
		prefix:        "processed_event:",
		retention:     retention,
		scanBatchSize: 100,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) key(eventID string) string {
	return l.prefix + eventID
}

func (l *RedisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(eventID)).Result()
	if err != nil {
		return false, errors.Join(subscription.ErrLedgerFailure, err)
	}
	return n > 0, nil
}

// Record keeps the first applied time when an event id is recorded twice.
func (l *RedisLedger) Record(ctx context.Context, eventID string, appliedAt time.Time) (bool, error) {
	first, err := l.client.SetNX(ctx, l.key(eventID), appliedAt.UTC().Format(time.RFC3339Nano), l.retention).Result()
	if err != nil {
		return false, errors.Join(subscription.ErrLedgerFailure, err)
	}
	return first, nil
}

// Prune drops entries applied before the cutoff. A cluster client is scanned
// master by master; keys are read and deleted one command each inside a
// pipeline, so no command spans keys of different hash slots.
func (l *RedisLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed atomic.Int64
	scan := func(ctx context.Context, node redis.Cmdable) error {
		var cursor uint64
		for {
			keys, next, err := node.Scan(ctx, cursor, l.prefix+"*", l.scanBatchSize).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				n, err := l.pruneBatch(ctx, node, keys, before)
				removed.Add(n)
				if err != nil {
					return err
				}
			}
			if cursor = next; cursor == 0 {
				return nil
			}
		}
	}

	var err error
	if cluster, ok := l.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
	} else {
		err = scan(ctx, l.client)
	}
	if err != nil {
		return removed.Load(), errors.Join(subscription.ErrLedgerFailure, err)
	}
	return removed.Load(), nil
}

func (l *RedisLedger) pruneBatch(ctx context.Context, node redis.Cmdable, keys []string, before time.Time) (int64, error) {
	gets := make([]*redis.StringCmd, len(keys))
	_, err := node.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			gets[i] = pipe.Get(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}

	var stale []string
	for i, cmd := range gets {
		// Keys that expired since the scan are gone already.
		v, err := cmd.Result()
		if err != nil {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil || at.Before(before) {
			stale = append(stale, keys[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, len(stale))
	if _, err := node.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range stale {
			dels[i] = pipe.Del(ctx, key)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	var n int64
	for _, cmd := range dels {
		n += cmd.Val()
	}
	return n, nil
}
