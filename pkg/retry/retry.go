// Package retry runs an operation again after transient failures with a configurable backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is joined with the last error when every attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

type config struct {
	maxAttempts int
	backoff     BackoffStrategy
	retryIf     func(error) bool
	onRetry     func(attempt int, err error)
}

// Option configures Do.
type Option func(*config)

// WithMaxAttempts sets the total number of attempts, including the first one.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(b BackoffStrategy) Option {
	return func(c *config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithRetryIf sets the predicate deciding whether an error is worth another attempt.
// By default every error is retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) {
		if fn != nil {
			c.retryIf = fn
		}
	}
}

// WithOnRetry registers a callback invoked before each retry.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts run out,
// or ctx is done. The error of the last attempt is returned.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	cfg := config{
		maxAttempts: 3,
		backoff:     DefaultBackoffStrategy(),
		retryIf:     func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var err error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !cfg.retryIf(err) {
			return err
		}
		if attempt == cfg.maxAttempts {
			break
		}
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err)
		}

		timer := time.NewTimer(cfg.backoff.NextInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
	return errors.Join(ErrAttemptsExhausted, err)
}
