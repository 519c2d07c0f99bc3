package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
	"github.com/alipala/language-tutor-sub001/pkg/audit"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
)

// Audit actions written by AdminOverride.
const (
	AuditActionOverride       = "subscription.override"
	AuditActionUsageReset     = "subscription.usage_reset"
	AuditResourceSubscription = "subscription"
)

// Override is an operator-initiated change to a subscription record.
type Override struct {
	Patch  Patch
	Actor  string
	Reason string
	// ReassignCustomer allows replacing an existing billing customer mapping.
	ReassignCustomer bool
}

// AuditLogger records administrative changes.
type AuditLogger interface {
	Log(ctx context.Context, action string, opts ...audit.EventOption) error
	LogError(ctx context.Context, action string, err error, opts ...audit.EventOption) error
}

// AdminOverride is the single validated path for manual corrections.
type AdminOverride struct {
	store Store
	audit AuditLogger
	opts  options
}

// NewAdminOverride creates the admin override path.
// Panics if store or audit logger is nil.
func NewAdminOverride(store Store, auditLog AuditLogger, opts ...Option) *AdminOverride {
	if store == nil {
		panic("subscription: Store is required")
	}
	if auditLog == nil {
		panic("subscription: AuditLogger is required")
	}
	return &AdminOverride{
		store: store,
		audit: auditLog,
		opts:  buildOptions("admin_override", opts),
	}
}

// ApplyOverride validates and applies ov to the user's record.
// Rule violations are returned as *ValidationError and written to the audit log
// as failed attempts; successful overrides are audited with the prior and
// resulting record.
func (a *AdminOverride) ApplyOverride(ctx context.Context, userID string, ov Override) (*Record, error) {
	return a.apply(ctx, AuditActionOverride, userID, ov)
}

// ResetUsage sets a usage counter back to zero through the audited override path.
func (a *AdminOverride) ResetUsage(ctx context.Context, userID string, counter Counter, actor, reason string) (*Record, error) {
	if !counter.Valid() {
		verr := newValidationError()
		verr.add("counter", ErrInvalidCounter)
		return nil, verr
	}

	var patch Patch
	switch counter {
	case CounterPracticeSessions:
		patch.PracticeSessionsUsed = Set(int64(0))
	case CounterAssessments:
		patch.AssessmentsUsed = Set(int64(0))
	}
	return a.apply(ctx, AuditActionUsageReset, userID, Override{Patch: patch, Actor: actor, Reason: reason})
}

func (a *AdminOverride) apply(ctx context.Context, action, userID string, ov Override) (*Record, error) {
	if err := checkOverride(userID, ov); err != nil {
		return nil, err
	}
	ov.Patch = ov.Patch.normalized()

	for attempt := 1; attempt <= 2; attempt++ {
		cur, err := a.getOrNew(ctx, userID)
		if err != nil {
			return nil, err
		}

		if err := a.validate(ctx, cur, ov); err != nil {
			a.auditFailure(ctx, action, userID, ov, cur, err)
			return nil, err
		}

		cctx, cancel := a.opts.callCtx(ctx)
		next, err := a.store.CompareAndSet(cctx, userID, cur.Version, ov.Patch)
		cancel()
		switch {
		case errors.Is(err, ErrVersionConflict):
			continue
		case errors.Is(err, ErrCustomerRefTaken):
			verr := newValidationError()
			verr.add("billing_customer_ref", ErrCustomerRefTaken)
			a.auditFailure(ctx, action, userID, ov, cur, verr)
			return nil, verr
		case err != nil:
			return nil, storeErr(err)
		}

		a.auditSuccess(ctx, action, userID, ov, cur, next)
		a.opts.logger.InfoContext(ctx, "admin override applied",
			logger.UserID(userID),
			logger.Actor(ov.Actor),
			logger.Fields(ov.Patch.Fields()),
			logger.Version(next.Version),
		)
		return next, nil
	}
	return nil, ErrVersionConflict
}

func checkOverride(userID string, ov Override) error {
	verr := newValidationError()
	if userID == "" {
		verr.add("user_id", ErrMissingUserID)
	}
	if strings.TrimSpace(ov.Actor) == "" {
		verr.add("actor", ErrMissingActor)
	}
	if ov.Patch.IsEmpty() {
		verr.add("patch", ErrEmptyOverride)
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func (a *AdminOverride) validate(ctx context.Context, cur *Record, ov Override) error {
	pol := adminPolicy
	pol.allowReassign = ov.ReassignCustomer
	if err := validatePatch(cur, ov.Patch, pol); err != nil {
		return err
	}

	ref, ok := ov.Patch.BillingCustomerRef.Get()
	if !ok || ref == "" || ref == cur.BillingCustomerRef {
		return nil
	}
	cctx, cancel := a.opts.callCtx(ctx)
	defer cancel()
	owner, err := a.store.FindByCustomerRef(cctx, ref)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return nil
	case err != nil:
		return storeErr(err)
	case owner.UserID != cur.UserID:
		verr := newValidationError()
		verr.add("billing_customer_ref", ErrCustomerRefTaken)
		return verr
	}
	return nil
}

func (a *AdminOverride) auditSuccess(ctx context.Context, action, userID string, ov Override, before, after *Record) {
	err := a.audit.Log(ctx, action,
		audit.WithActor(ov.Actor),
		audit.WithResource(AuditResourceSubscription, userID),
		audit.WithReason(ov.Reason),
		audit.WithChange(before.Snapshot(), after.Snapshot()),
		audit.WithMetadata("fields", ov.Patch.Fields()),
		audit.WithMetadata("reassign_customer", ov.ReassignCustomer),
	)
	if err != nil {
		// The override is already committed; losing its audit entry needs a human.
		a.opts.logger.ErrorContext(ctx, "failed to write audit entry for applied override",
			logger.UserID(userID), logger.Actor(ov.Actor), logger.Error(err))
		a.opts.notify(ctx, alert.Alert{
			Kind:     alert.KindAuditWriteFailed,
			Severity: alert.SeverityCritical,
			Summary:  "admin override applied without audit entry",
			UserID:   userID,
			Details:  map[string]string{"actor": ov.Actor, "action": action},
		})
	}
}

func (a *AdminOverride) auditFailure(ctx context.Context, action, userID string, ov Override, cur *Record, cause error) {
	err := a.audit.LogError(ctx, action, cause,
		audit.WithActor(ov.Actor),
		audit.WithResource(AuditResourceSubscription, userID),
		audit.WithReason(ov.Reason),
		audit.WithResult(audit.ResultFailure),
		audit.WithChange(cur.Snapshot(), nil),
		audit.WithMetadata("fields", ov.Patch.Fields()),
	)
	if err != nil {
		a.opts.logger.WarnContext(ctx, "failed to audit rejected override",
			logger.UserID(userID), logger.Error(err))
	}
}

func (a *AdminOverride) getOrNew(ctx context.Context, userID string) (*Record, error) {
	cctx, cancel := a.opts.callCtx(ctx)
	defer cancel()

	rec, err := a.store.Get(cctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return NewRecord(userID), nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return rec, nil
}

// Snapshot returns the record as a flat map for audit trails.
func (r *Record) Snapshot() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{
		"user_id":                r.UserID,
		"billing_customer_ref":   r.BillingCustomerRef,
		"subscription_ref":       r.SubscriptionRef,
		"plan_id":                r.PlanID,
		"price_ref":              r.PriceRef,
		"billing_period":         string(r.BillingPeriod),
		"status":                 string(r.Status),
		"practice_sessions_used": r.PracticeSessionsUsed,
		"assessments_used":       r.AssessmentsUsed,
		"version":                r.Version,
	}
	putTime := func(key string, t *time.Time) {
		if t != nil && !t.IsZero() {
			m[key] = t.UTC().Format(time.RFC3339)
		}
	}
	putTime("period_start", &r.PeriodStart)
	putTime("period_end", &r.PeriodEnd)
	putTime("started_at", r.StartedAt)
	putTime("expires_at", r.ExpiresAt)
	return m
}
