package subscription

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
)

var (
	ErrRecordNotFound   = errors.New("subscription record not found")
	ErrVersionConflict  = errors.New("subscription record version conflict")
	ErrStoreUnavailable = errors.New("subscription store unavailable")
	ErrLedgerFailure    = errors.New("processed-event ledger failure")

	ErrDuplicateEvent   = errors.New("webhook event already processed")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrInvalidPeriod    = errors.New("billing period end must be after period start")
	ErrOutOfOrder       = errors.New("event is older than the stored subscription state")
	ErrUnmappedCustomer = errors.New("billing customer is not mapped to a user")
	ErrUnsupportedEvent = errors.New("unsupported webhook event type")

	ErrProviderUnavailable  = errors.New("billing provider unavailable")
	ErrProviderNotFound     = errors.New("subscription not found at billing provider")
	ErrNoBillingCustomer    = errors.New("user has no billing customer mapping")
	ErrProgressUnavailable  = errors.New("learning plan progress unavailable")
	ErrExpiryShortened      = errors.New("expires_at may not move earlier")
	ErrNegativeCounter      = errors.New("usage counter may not be negative")
	ErrCustomerRefImmutable = errors.New("billing customer reference may only change through an explicit reassignment")
	ErrCustomerRefTaken     = errors.New("billing customer reference is mapped to another user")
	ErrInvalidStatus        = errors.New("invalid subscription status")
	ErrInvalidBillingPeriod = errors.New("invalid billing period")
	ErrInvalidCounter       = errors.New("invalid usage counter")
	ErrInvalidIncrement     = errors.New("usage increment must be at least 1")
	ErrEmptyOverride        = errors.New("override does not change any field")
	ErrMissingActor         = errors.New("override actor is required")
	ErrMissingUserID        = errors.New("user id is required")
)

// ValidationError reports business-rule violations per field.
// It is never used for infrastructure failures.
type ValidationError struct {
	Fields map[string]string
	errs   []error
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) add(field string, err error) {
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = err.Error()
	e.errs = append(e.errs, err)
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the underlying sentinel errors to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return e.errs
}

// IsTransient reports whether err is an infrastructure failure that may succeed on retry.
// Version conflicts count as transient: the provider redelivers and the next attempt re-reads.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrLedgerFailure) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProgressUnavailable) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}
