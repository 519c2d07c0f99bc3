package subscriptions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

const metricsNamespace = "subscriptions"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	WebhookEvents    *prometheus.CounterVec
	WebhookDuration  *prometheus.HistogramVec
	Reconciliations  *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	SweepFailures    prometheus.Counter
	UsageCorrections prometheus.Counter
	LedgerPruned     prometheus.Counter
	AdminOverrides   *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Processed billing webhook events by provider, result and reason.",
		}, []string{"provider", "result", "reason"}),
		WebhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "duration_seconds",
			Help:      "Billing webhook handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "status"}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "reports_total",
			Help:      "Reconciliation reports by outcome (in_sync, corrected, rejected).",
		}, []string{"outcome"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of full reconciliation sweeps in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		SweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "sweep_user_failures_total",
			Help:      "Users a sweep could not reconcile after all attempts.",
		}),
		UsageCorrections: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "usage",
			Name:      "corrections_total",
			Help:      "Usage recomputations that changed the stored counter.",
		}),
		LedgerPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "pruned_total",
			Help:      "Processed-event ledger entries removed by pruning.",
		}),
		AdminOverrides: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "admin",
			Name:      "overrides_total",
			Help:      "Admin override attempts by action and result.",
		}, []string{"action", "result"}),
	}
}

// Options returns core hooks that feed the collectors.
// A nil Metrics returns no options.
func (m *Metrics) Options() []subscription.Option {
	if m == nil {
		return nil
	}
	return []subscription.Option{
		subscription.WithOutcomeHook(m.observeOutcome),
		subscription.WithReportHook(m.observeReport),
		subscription.WithUsageHook(m.observeUsage),
	}
}

func (m *Metrics) observeOutcome(ev subscription.Event, out subscription.Outcome) {
	m.WebhookEvents.WithLabelValues(ev.Provider, string(out.Result), string(out.Reason)).Inc()
}

func (m *Metrics) observeReport(r *subscription.Report) {
	outcome := "in_sync"
	switch {
	case r.Rejected:
		outcome = "rejected"
	case r.Corrected:
		outcome = "corrected"
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeUsage(r *subscription.UsageReport) {
	if r.Corrected {
		m.UsageCorrections.Inc()
	}
}

func (m *Metrics) observeSweep(r *subscription.SweepReport) {
	if m == nil || r == nil {
		return
	}
	m.SweepDuration.Observe(r.Duration.Seconds())
	m.SweepFailures.Add(float64(len(r.Failed)))
}

func (m *Metrics) observeWebhook(provider string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.WebhookDuration.WithLabelValues(provider, statusClass(status)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observePruned(n int64) {
	if m != nil && n > 0 {
		m.LedgerPruned.Add(float64(n))
	}
}

func (m *Metrics) observeOverride(action string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.AdminOverrides.WithLabelValues(action, result).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	}
	return "2xx"
}
