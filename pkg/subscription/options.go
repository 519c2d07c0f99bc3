package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/retry"
)

// Option configures the processor, reconciler, usage tracker and admin override.
// Options that do not apply to a component are ignored by it.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	now         func() time.Time
	callTimeout time.Duration
	alerter     alert.Notifier
	plans       PlanResolver

	sweepConcurrency int
	sweepAttempts    int
	sweepBackoff     retry.BackoffStrategy

	onOutcome func(Event, Outcome)
	onReport  func(*Report)
	onUsage   func(*UsageReport)
}

func defaultOptions() options {
	return options{
		logger:           slog.Default(),
		now:              time.Now,
		callTimeout:      5 * time.Second,
		alerter:          alert.Nop,
		sweepConcurrency: 8,
		sweepAttempts:    3,
		sweepBackoff:     retry.DefaultBackoffStrategy(),
	}
}

func buildOptions(component string, opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(slog.String("component", component))
	return o
}

// WithLogger sets the structured logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCallTimeout bounds every store, ledger, provider and progress call.
// A call that exceeds it fails as a transient error.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithAlerter sets the operational alert sink.
func WithAlerter(n alert.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.alerter = n
		}
	}
}

// WithPlanResolver derives plan_id and billing_period from a price reference
// when the provider payload does not carry them.
func WithPlanResolver(r PlanResolver) Option {
	return func(o *options) {
		o.plans = r
	}
}

// WithSweepConcurrency bounds how many users a sweep reconciles at once.
func WithSweepConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepConcurrency = n
		}
	}
}

// WithSweepRetry sets how often a sweep attempts one user on transient failures
// and the backoff between attempts.
func WithSweepRetry(attempts int, backoff retry.BackoffStrategy) Option {
	return func(o *options) {
		if attempts > 0 {
			o.sweepAttempts = attempts
		}
		if backoff != nil {
			o.sweepBackoff = backoff
		}
	}
}

// WithOutcomeHook is called after every processed event.
func WithOutcomeHook(fn func(Event, Outcome)) Option {
	return func(o *options) {
		o.onOutcome = fn
	}
}

// WithReportHook is called after every reconciliation that produced a report.
func WithReportHook(fn func(*Report)) Option {
	return func(o *options) {
		o.onReport = fn
	}
}

// WithUsageHook is called after every usage recomputation.
func WithUsageHook(fn func(*UsageReport)) Option {
	return func(o *options) {
		o.onUsage = fn
	}
}

func (o *options) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.callTimeout)
}

func (o *options) notify(ctx context.Context, a alert.Alert) {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = o.now()
	}
	// Alert delivery must not depend on the request deadline.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
	defer cancel()
	if err := o.alerter.Notify(actx, a); err != nil {
		o.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("alert_kind", string(a.Kind)),
			slog.Any("error", err),
		)
	}
}

// resolvePlan fills plan id and billing period from the catalog when missing.
func (o *options) resolvePlan(planID, priceRef string, period BillingPeriod) (string, BillingPeriod) {
	if o.plans == nil || priceRef == "" || (planID != "" && period != "") {
		return planID, period
	}
	p, bp, ok := o.plans.ResolvePrice(priceRef)
	if !ok {
		return planID, period
	}
	if planID == "" {
		planID = p
	}
	if period == "" {
		period = bp
	}
	return planID, period
}
