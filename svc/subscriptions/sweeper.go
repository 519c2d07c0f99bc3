package subscriptions

import (
	"context"
	"log/slog"
	"time"

	"github.com/alipala/language-tutor-sub001/pkg/logger"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// SweepRunner reconciles every paying user.
type SweepRunner interface {
	Sweep(ctx context.Context) (*subscription.SweepReport, error)
}

// LedgerPruner drops processed-event entries older than a cutoff.
type LedgerPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper periodically reconciles all paying users and prunes the event ledger.
type Sweeper struct {
	runner    SweepRunner
	ledger    LedgerPruner
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the sweeper logger. Nil is ignored.
func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSweeperMetrics records sweep and prune results.
func WithSweeperMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithSweeperClock overrides the time source used for the prune cutoff.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a sweeper. A nil ledger disables pruning, which suits
// backends whose entries expire on their own.
// Panics if runner is nil or interval is not positive.
func NewSweeper(runner SweepRunner, ledger LedgerPruner, interval, retention time.Duration, opts ...SweeperOption) *Sweeper {
	if runner == nil {
		panic("subscriptions: SweepRunner is required")
	}
	if interval <= 0 {
		panic("subscriptions: sweep interval must be positive")
	}
	s := &Sweeper{
		runner:    runner,
		ledger:    ledger,
		interval:  interval,
		retention: retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("sweeper"))
	return s
}

// Task runs the sweeper until ctx is canceled. The first run starts
// immediately. It matches the httpserver task signature.
func (s *Sweeper) Task(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep followed by a ledger prune. Failures are logged
// and never stop the loop.
func (s *Sweeper) RunOnce(ctx context.Context) {
	report, err := s.runner.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", logger.Error(err))
	} else {
		s.metrics.observeSweep(report)
	}

	if _, err := s.Prune(ctx); err != nil {
		s.logger.ErrorContext(ctx, "ledger prune failed", logger.Error(err))
	}
}

// Prune drops ledger entries older than the retention window.
func (s *Sweeper) Prune(ctx context.Context) (int64, error) {
	if s.ledger == nil || s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.ledger.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.observePruned(n)
	if n > 0 {
		s.logger.InfoContext(ctx, "ledger pruned",
			slog.Int64("removed", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}
