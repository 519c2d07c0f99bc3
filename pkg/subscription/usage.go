package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
)

// UsageReport is the result of recomputing a user's practice session counter.
type UsageReport struct {
	UserID        string
	Stored        int64
	Authoritative int64
	Delta         int64
	Corrected     bool
}

// UsageTracker keeps the usage counters on subscription records consistent
// with the learning plan progress they are derived from.
type UsageTracker struct {
	store    Store
	progress ProgressSource
	opts     options
}

// NewUsageTracker creates a usage tracker.
// Panics if store or progress is nil.
func NewUsageTracker(store Store, progress ProgressSource, opts ...Option) *UsageTracker {
	if store == nil {
		panic("subscription: Store is required")
	}
	if progress == nil {
		panic("subscription: ProgressSource is required")
	}
	return &UsageTracker{
		store:    store,
		progress: progress,
		opts:     buildOptions("usage", opts),
	}
}

// Recompute re-sums completed sessions over all of the user's learning plans and
// overwrites practice_sessions_used when it differs. Running it repeatedly
// against unchanged progress yields the same counter and no further writes.
func (u *UsageTracker) Recompute(ctx context.Context, userID string) (*UsageReport, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	for attempt := 1; attempt <= 2; attempt++ {
		report, err := u.recomputeOnce(ctx, userID)
		if errors.Is(err, ErrVersionConflict) {
			u.opts.logger.DebugContext(ctx, "record changed during usage recompute",
				logger.UserID(userID), logger.Attempt(attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		level := slog.LevelDebug
		if report.Corrected {
			level = slog.LevelInfo
		}
		u.opts.logger.Log(ctx, level, "usage recomputed",
			logger.UserID(userID),
			slog.Int64("stored", report.Stored),
			slog.Int64("authoritative", report.Authoritative),
			slog.Int64("delta", report.Delta),
		)
		if u.opts.onUsage != nil {
			u.opts.onUsage(report)
		}
		return report, nil
	}
	return nil, ErrVersionConflict
}

func (u *UsageTracker) recomputeOnce(ctx context.Context, userID string) (*UsageReport, error) {
	cur, err := u.getOrNew(ctx, userID)
	if err != nil {
		return nil, err
	}

	cctx, cancel := u.opts.callCtx(ctx)
	plans, err := u.progress.ListByUser(cctx, userID)
	cancel()
	if err != nil {
		return nil, errors.Join(ErrProgressUnavailable, err)
	}

	var total, negatives int64
	for _, p := range plans {
		if p.CompletedSessions < 0 {
			negatives++
			continue
		}
		total += p.CompletedSessions
	}
	if negatives > 0 {
		u.opts.notify(ctx, alert.Alert{
			Kind:     alert.KindNegativeProgress,
			Severity: alert.SeverityWarning,
			Summary:  "learning plan progress has negative completed sessions; counted as zero",
			UserID:   userID,
		})
	}

	report := &UsageReport{
		UserID:        userID,
		Stored:        cur.PracticeSessionsUsed,
		Authoritative: total,
		Delta:         total - cur.PracticeSessionsUsed,
	}
	if report.Delta == 0 {
		return report, nil
	}

	cctx, cancel = u.opts.callCtx(ctx)
	defer cancel()
	_, err = u.store.CompareAndSet(cctx, userID, cur.Version, Patch{PracticeSessionsUsed: Set(total)})
	if err != nil {
		return nil, storeErr(err)
	}
	report.Corrected = true
	return report, nil
}

// Increment adds n to a usage counter. It is the write path of the feature
// layer when a session or assessment completes.
func (u *UsageTracker) Increment(ctx context.Context, userID string, counter Counter, n int64) (*Record, error) {
	switch {
	case userID == "":
		return nil, ErrMissingUserID
	case !counter.Valid():
		return nil, ErrInvalidCounter
	case n < 1:
		return nil, ErrInvalidIncrement
	}

	for attempt := 1; attempt <= 2; attempt++ {
		cur, err := u.getOrNew(ctx, userID)
		if err != nil {
			return nil, err
		}

		var patch Patch
		switch counter {
		case CounterPracticeSessions:
			patch.PracticeSessionsUsed = Set(cur.PracticeSessionsUsed + n)
		case CounterAssessments:
			patch.AssessmentsUsed = Set(cur.AssessmentsUsed + n)
		}

		cctx, cancel := u.opts.callCtx(ctx)
		next, err := u.store.CompareAndSet(cctx, userID, cur.Version, patch)
		cancel()
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		return next, nil
	}
	return nil, ErrVersionConflict
}

// getOrNew returns the stored record, or a fresh unsaved one at version 0.
func (u *UsageTracker) getOrNew(ctx context.Context, userID string) (*Record, error) {
	cctx, cancel := u.opts.callCtx(ctx)
	defer cancel()

	rec, err := u.store.Get(cctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return NewRecord(userID), nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return rec, nil
}
