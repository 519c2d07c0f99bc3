package subscription

// policy selects which write rules apply to a candidate record.
type policy struct {
	// monotonicPeriods rejects a period_end that moves backwards.
	monotonicPeriods bool
	// allowCustomerRef permits setting billing_customer_ref where none exists.
	allowCustomerRef bool
	// allowReassign permits replacing an existing billing_customer_ref.
	allowReassign bool
}

var (
	providerPolicy = policy{monotonicPeriods: true}
	adminPolicy    = policy{allowCustomerRef: true}
)

// validatePatch checks the record that results from applying patch to cur.
// It returns nil or a *ValidationError.
func validatePatch(cur *Record, patch Patch, pol policy) error {
	verr := newValidationError()
	next := patch.ApplyTo(cur)

	if v, ok := patch.Status.Get(); ok && !v.Valid() {
		verr.add("status", ErrInvalidStatus)
	}
	if v, ok := patch.BillingPeriod.Get(); ok && !v.Valid() {
		verr.add("billing_period", ErrInvalidBillingPeriod)
	}

	if !next.PeriodStart.IsZero() && !next.PeriodEnd.IsZero() && !next.PeriodEnd.After(next.PeriodStart) {
		verr.add("period_end", ErrInvalidPeriod)
	}
	if pol.monotonicPeriods && patch.PeriodEnd.IsSet() && !cur.PeriodEnd.IsZero() &&
		next.PeriodEnd.Before(cur.PeriodEnd) {
		verr.add("period_end", ErrOutOfOrder)
	}

	// A nil expiry means access without end, so clearing it never shortens access.
	if patch.ExpiresAt.IsSet() && cur.ExpiresAt != nil && next.ExpiresAt != nil &&
		next.ExpiresAt.Before(*cur.ExpiresAt) {
		verr.add("expires_at", ErrExpiryShortened)
	}

	if next.PracticeSessionsUsed < 0 {
		verr.add("practice_sessions_used", ErrNegativeCounter)
	}
	if next.AssessmentsUsed < 0 {
		verr.add("assessments_used", ErrNegativeCounter)
	}

	if v, ok := patch.BillingCustomerRef.Get(); ok && v != cur.BillingCustomerRef {
		switch {
		case !pol.allowCustomerRef:
			verr.add("billing_customer_ref", ErrCustomerRefImmutable)
		case cur.BillingCustomerRef != "" && !pol.allowReassign:
			verr.add("billing_customer_ref", ErrCustomerRefImmutable)
		}
	}

	if verr.empty() {
		return nil
	}
	return verr
}
