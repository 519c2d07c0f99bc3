package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/alipala/language-tutor-sub001/pkg/retry"
)

// Connect parses cfg.ConnectionURL and waits until the server answers a ping.
// Returns ErrEmptyConnectionURL, ErrFailedToParseRedisConnString, or
// ErrRedisNotReady when every attempt within cfg.ConnectTimeout failed.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client := redis.NewClient(opts)
	err = retry.Do(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	},
		retry.WithMaxAttempts(max(cfg.RetryAttempts, 1)),
		retry.WithBackoff(retry.FixedBackoff{Interval: cfg.RetryInterval}),
	)
	if err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, nil
}
