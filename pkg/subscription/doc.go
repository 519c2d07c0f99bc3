// Package subscription keeps per-user subscription records consistent with an
// external billing provider and with the learning progress that usage counters
// are derived from.
//
// Billing webhooks arrive at least once, possibly duplicated and out of order.
// Every write to a record goes through optimistic compare-and-set on its
// version, so there are no in-process locks and concurrent writers never lose
// updates: the loser re-reads once and then reports a conflict.
//
// # Architecture
//
//   - Processor: applies one normalized billing event (idempotent per event id)
//   - Reconciler: compares a record with the provider's current view and corrects drift
//   - UsageTracker: recomputes practice session counters from learning plan progress
//   - AdminOverride: the single validated, audited path for manual corrections
//
// Collaborators are injected at construction:
//
//   - Store: subscription records with compare-and-set writes
//   - Ledger: ids of events that were already applied
//   - BillingProvider: the provider's current subscription state
//   - ProgressSource: read-only learning plan progress
//   - PlanResolver: optional price → plan mapping
//
// In-memory implementations (NewMemoryStore, NewMemoryLedger, NewMemoryProgress)
// are provided for tests and local development.
//
// # Write Rules
//
// Provider-driven writes (webhooks and reconciliation) share one rule set:
//
//   - period_end must be after period_start
//   - period_end never moves backwards
//   - expires_at never moves earlier; clearing it restores open-ended access
//   - usage counters are never negative
//   - billing_customer_ref is never changed by the provider
//
// Admin overrides may set any field except that periods are not required to be
// monotonic, and may reassign billing_customer_ref only when explicitly asked.
// Violations are reported as *ValidationError with a message per field.
//
// # Processing Webhooks
//
//	proc := subscription.NewProcessor(store, ledger,
//		subscription.WithLogger(log),
//		subscription.WithAlerter(alerts),
//		subscription.WithPlanResolver(catalog),
//	)
//
//	outcome, err := proc.Process(ctx, event)
//	switch {
//	case err != nil:
//		// transient: respond so the provider redelivers
//	case outcome.NeedsRedelivery():
//		// lost the compare-and-set race twice
//	default:
//		// applied, duplicate or permanently rejected: acknowledge
//	}
//
// Rejected events are not recorded in the ledger; only applied events are.
//
// # Reconciliation
//
//	rec := subscription.NewReconciler(store, provider,
//		subscription.WithSweepConcurrency(8),
//		subscription.WithSweepRetry(3, retry.DefaultBackoffStrategy()),
//	)
//
//	report, err := rec.Reconcile(ctx, userID)
//	sweep, err := rec.Sweep(ctx) // every active or past_due user
//
// A sweep never stops on one user's failure; failures are listed in the report.
//
// # Error Handling
//
// Infrastructure failures wrap ErrStoreUnavailable, ErrLedgerFailure,
// ErrProviderUnavailable or ErrProgressUnavailable; IsTransient reports whether
// a retry may succeed. Business-rule failures are *ValidationError and unwrap
// to their sentinel errors (ErrInvalidPeriod, ErrExpiryShortened, ...).
package subscription
