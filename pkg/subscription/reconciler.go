package subscription

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
	"github.com/alipala/language-tutor-sub001/pkg/retry"
)

// Report describes one reconciliation of a user against the billing provider.
type Report struct {
	UserID      string
	DriftFields []string
	Corrected   bool
	Rejected    bool
	Reason      string
	Record      *Record
}

// InSync reports whether no drift was found.
func (r *Report) InSync() bool {
	return len(r.DriftFields) == 0
}

// SweepReport aggregates a reconciliation sweep.
type SweepReport struct {
	Total     int
	InSync    int
	Corrected int
	Rejected  int
	Failed    map[string]string // user id to error message
	StartedAt time.Time
	Duration  time.Duration
}

// Reconciler detects and corrects drift between local records and the billing provider.
type Reconciler struct {
	store    Store
	provider BillingProvider
	opts     options
}

// NewReconciler creates a reconciler.
// Panics if store or provider is nil.
func NewReconciler(store Store, provider BillingProvider, opts ...Option) *Reconciler {
	if store == nil {
		panic("subscription: Store is required")
	}
	if provider == nil {
		panic("subscription: BillingProvider is required")
	}
	return &Reconciler{
		store:    store,
		provider: provider,
		opts:     buildOptions("reconciler", opts),
	}
}

// Reconcile compares the user's record with the provider's current view and
// corrects drift under the same rules webhooks follow. Corrections that would
// violate those rules are rejected and reported, never applied.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*Report, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	for attempt := 1; attempt <= 2; attempt++ {
		report, err := r.reconcileOnce(ctx, userID)
		if errors.Is(err, ErrVersionConflict) {
			r.opts.logger.DebugContext(ctx, "record changed during reconciliation",
				logger.UserID(userID), logger.Attempt(attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		r.logReport(ctx, report)
		if r.opts.onReport != nil {
			r.opts.onReport(report)
		}
		return report, nil
	}

	r.opts.notify(ctx, alert.Alert{
		Kind:     alert.KindConflict,
		Severity: alert.SeverityWarning,
		Summary:  "reconciliation lost the compare-and-set race twice",
		UserID:   userID,
	})
	return nil, ErrVersionConflict
}

func (r *Reconciler) reconcileOnce(ctx context.Context, userID string) (*Report, error) {
	cur, err := r.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &Report{UserID: userID, Record: cur}

	ps, err := r.fetch(ctx, cur)
	switch {
	case errors.Is(err, ErrProviderNotFound):
		report.Rejected = true
		report.Reason = "provider_not_found"
		r.alertRejected(ctx, report)
		return report, nil
	case err != nil:
		return nil, err
	case ps == nil:
		return report, nil
	}

	patch := r.diff(cur, ps)
	report.DriftFields = patch.Fields()
	if patch.IsEmpty() {
		return report, nil
	}

	if err := validatePatch(cur, patch, providerPolicy); err != nil {
		report.Rejected = true
		report.Reason = string(reasonFor(err))
		r.opts.logger.WarnContext(ctx, "reconciliation correction rejected",
			logger.UserID(userID),
			logger.Fields(report.DriftFields),
			logger.Error(err),
		)
		r.alertRejected(ctx, report)
		return report, nil
	}

	next, err := r.compareAndSet(ctx, userID, cur.Version, patch)
	if err != nil {
		return nil, err
	}
	report.Corrected = true
	report.Record = next
	return report, nil
}

// fetch returns the provider's view of the user's subscription, or nil when
// there is nothing to compare against.
func (r *Reconciler) fetch(ctx context.Context, cur *Record) (*ProviderSubscription, error) {
	cctx, cancel := r.opts.callCtx(ctx)
	defer cancel()

	if cur.SubscriptionRef != "" {
		ps, err := r.provider.GetSubscription(cctx, cur.SubscriptionRef)
		if err != nil || ps == nil {
			return nil, providerErr(err)
		}
		n := ps.normalized()
		return &n, nil
	}
	if cur.BillingCustomerRef == "" {
		return nil, nil
	}

	subs, err := r.provider.ListSubscriptions(cctx, cur.BillingCustomerRef)
	if err != nil {
		return nil, providerErr(err)
	}
	ps := pickSubscription(subs)
	if ps == nil {
		return nil, nil
	}
	n := ps.normalized()
	return &n, nil
}

// pickSubscription chooses the subscription that best represents the customer:
// live ones before ended ones, then the one with the latest period end.
func pickSubscription(subs []ProviderSubscription) *ProviderSubscription {
	if len(subs) == 0 {
		return nil
	}
	live := func(s ProviderSubscription) int {
		if s.Status == StatusActive || s.Status == StatusPastDue {
			return 1
		}
		return 0
	}
	best := slices.MaxFunc(subs, func(a, b ProviderSubscription) int {
		if c := cmp.Compare(live(a), live(b)); c != 0 {
			return c
		}
		if c := a.PeriodEnd.Compare(b.PeriodEnd); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return &best
}

// diff builds the patch that brings cur in line with ps.
// Fields the provider leaves empty are not compared.
func (r *Reconciler) diff(cur *Record, ps *ProviderSubscription) Patch {
	var patch Patch

	if ps.SubscriptionRef != "" {
		patch.SubscriptionRef = Set(ps.SubscriptionRef)
	}
	if ps.Status != "" {
		patch.Status = Set(ps.Status)
	}
	if !ps.PeriodStart.IsZero() {
		patch.PeriodStart = Set(ps.PeriodStart)
	}
	if !ps.PeriodEnd.IsZero() {
		patch.PeriodEnd = Set(ps.PeriodEnd)
	}
	if ps.PriceRef != "" {
		patch.PriceRef = Set(ps.PriceRef)
	}
	planID, period := r.opts.resolvePlan(ps.PlanID, ps.PriceRef, ps.BillingPeriod)
	if planID != "" {
		patch.PlanID = Set(planID)
	}
	if period != "" {
		patch.BillingPeriod = Set(period)
	}

	switch {
	case ps.Status == StatusCanceled:
		expires := laterOf(cur.ExpiresAt, timePtr(ps.EndedAt), timePtr(ps.PeriodEnd))
		if expires != nil {
			patch.ExpiresAt = Set(expires)
		}
	case ps.CancelAtPeriodEnd:
		patch.ExpiresAt = Set(laterOf(cur.ExpiresAt, timePtr(ps.PeriodEnd)))
	case ps.Status == StatusActive && cur.ExpiresAt != nil:
		patch.ExpiresAt = Set[*time.Time](nil)
	}

	patch = trimUnchanged(cur, patch)
	if s, ok := patch.Status.Get(); ok && s == StatusActive && cur.StartedAt == nil {
		started := cmp.Or(ps.CreatedAt, ps.PeriodStart, r.opts.now())
		patch.StartedAt = Set(cloneTime(&started))
	}
	return patch
}

func (r *Reconciler) alertRejected(ctx context.Context, report *Report) {
	r.opts.notify(ctx, alert.Alert{
		Kind:     alert.KindReconcileRejected,
		Severity: alert.SeverityWarning,
		Summary:  "reconciliation could not correct drift",
		UserID:   report.UserID,
		Details:  map[string]string{"reason": report.Reason},
	})
}

func (r *Reconciler) logReport(ctx context.Context, report *Report) {
	level := slog.LevelDebug
	switch {
	case report.Rejected:
		level = slog.LevelWarn
	case report.Corrected:
		level = slog.LevelInfo
	}
	r.opts.logger.Log(ctx, level, "reconciliation finished",
		logger.UserID(report.UserID),
		logger.Fields(report.DriftFields),
		slog.Bool("corrected", report.Corrected),
		slog.Bool("rejected", report.Rejected),
		logger.Reason(report.Reason),
	)
}

// Sweep reconciles every user whose subscription is active or past due.
// Users are processed concurrently; one user's failure is recorded in the
// report and never stops the others. Transient failures are retried with backoff.
// The returned error is non-nil only when the sweep could not start or ctx ended.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepReport, error) {
	started := r.opts.now()

	cctx, cancel := r.opts.callCtx(ctx)
	ids, err := r.store.ListUserIDsByStatus(cctx, StatusActive, StatusPastDue)
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}

	report := &SweepReport{
		Total:     len(ids),
		Failed:    make(map[string]string),
		StartedAt: started,
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.opts.sweepConcurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var rep *Report
			err := retry.Do(ctx, func(ctx context.Context) error {
				var err error
				rep, err = r.Reconcile(ctx, id)
				return err
			},
				retry.WithMaxAttempts(r.opts.sweepAttempts),
				retry.WithBackoff(r.opts.sweepBackoff),
				retry.WithRetryIf(IsTransient),
			)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed[id] = err.Error()
			case rep.Rejected:
				report.Rejected++
			case rep.Corrected:
				report.Corrected++
			default:
				report.InSync++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = r.opts.now().Sub(started)
	r.opts.logger.InfoContext(ctx, "reconciliation sweep finished",
		slog.Int("total", report.Total),
		slog.Int("in_sync", report.InSync),
		slog.Int("corrected", report.Corrected),
		slog.Int("rejected", report.Rejected),
		slog.Int("failed", len(report.Failed)),
	)
	if len(report.Failed) > 0 {
		r.opts.notify(ctx, alert.Alert{
			Kind:     alert.KindSweepFailed,
			Severity: alert.SeverityWarning,
			Summary:  "reconciliation sweep could not reconcile some users",
			Details:  report.Failed,
		})
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Reconciler) get(ctx context.Context, userID string) (*Record, error) {
	cctx, cancel := r.opts.callCtx(ctx)
	defer cancel()
	rec, err := r.store.Get(cctx, userID)
	return rec, storeErr(err)
}

func (r *Reconciler) compareAndSet(ctx context.Context, userID string, version int64, patch Patch) (*Record, error) {
	cctx, cancel := r.opts.callCtx(ctx)
	defer cancel()
	rec, err := r.store.CompareAndSet(cctx, userID, version, patch)
	return rec, storeErr(err)
}

func providerErr(err error) error {
	if err == nil || errors.Is(err, ErrProviderNotFound) || errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return errors.Join(ErrProviderUnavailable, err)
}
