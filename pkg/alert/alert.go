// Package alert delivers operational alerts that need a human to look at them,
// such as webhooks for unknown billing customers or records stuck in version conflicts.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Kind classifies an alert.
type Kind string

const (
	KindUnmappedCustomer    Kind = "unmapped_customer"
	KindConflict            Kind = "conflict"
	KindReconcileRejected   Kind = "reconcile_rejected"
	KindSweepFailed         Kind = "sweep_failed"
	KindNegativeProgress    Kind = "negative_progress"
	KindLedgerWriteFailed   Kind = "ledger_write_failed"
	KindAuditWriteFailed    Kind = "audit_write_failed"
	KindProviderUnreachable Kind = "provider_unreachable"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single operational notification.
type Alert struct {
	Kind       Kind
	Severity   Severity
	Summary    string
	UserID     string
	EventID    string
	Details    map[string]string
	OccurredAt time.Time
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// Nop discards every alert.
var Nop Notifier = NotifierFunc(func(context.Context, Alert) error { return nil })

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at warn or error level depending on severity.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	level := slog.LevelWarn
	if a.Severity == SeverityCritical {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("alert_kind", string(a.Kind)),
		slog.String("severity", string(a.Severity)),
	}
	if a.UserID != "" {
		attrs = append(attrs, slog.String("user_id", a.UserID))
	}
	if a.EventID != "" {
		attrs = append(attrs, slog.String("event_id", a.EventID))
	}
	for k, v := range a.Details {
		attrs = append(attrs, slog.String(k, v))
	}

	n.logger.LogAttrs(ctx, level, "alert: "+a.Summary, attrs...)
	return nil
}

// Multi fans an alert out to several notifiers. Every notifier is called
// even if an earlier one fails; the failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
