package subscription

// SubscriptionStatus represents the current state of a user's subscription.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// BillingPeriod represents the billing frequency of a subscription.
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodAnnual  BillingPeriod = "annual"
)

// Valid reports whether p is a known billing period.
// The empty value is accepted for records that never had a subscription.
func (p BillingPeriod) Valid() bool {
	switch p {
	case "", BillingPeriodMonthly, BillingPeriodAnnual:
		return true
	}
	return false
}

// EventType represents the normalized billing event type.
// Each provider implementation maps its specific events to these types;
// anything else is passed through verbatim and rejected as unsupported.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventInvoicePaid         EventType = "invoice_paid"
	EventInvoiceFailed       EventType = "invoice_failed"
)

// Supported reports whether the processor knows how to apply events of this type.
func (t EventType) Supported() bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoiceFailed:
		return true
	}
	return false
}

// Counter identifies a usage counter stored on the subscription record.
type Counter string

const (
	CounterPracticeSessions Counter = "practice_sessions"
	CounterAssessments      Counter = "assessments"
)

// Valid reports whether c is a known counter.
func (c Counter) Valid() bool {
	return c == CounterPracticeSessions || c == CounterAssessments
}

// Optional carries a patch value together with a flag telling whether it was set.
// The zero value is "not set".
type Optional[T any] struct {
	value T
	set   bool
}

// Set returns an Optional holding v.
func Set[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the value was set.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// Value returns the held value, or the zero value when unset.
func (o Optional[T]) Value() T {
	return o.value
}
