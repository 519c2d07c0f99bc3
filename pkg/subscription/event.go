package subscription

import (
	"errors"
	"time"
)

// Event is a billing webhook normalized by a provider adapter.
type Event struct {
	ID          string
	Type        EventType
	CustomerRef string
	Payload     Payload
	OccurredAt  time.Time
	ReceivedAt  time.Time
	Provider    string
}

// Payload holds the provider data carried by an event. Every field is optional;
// which ones are required depends on the event type.
type Payload struct {
	SubscriptionRef   string
	PlanID            string
	PriceRef          string
	BillingPeriod     BillingPeriod
	Status            SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	EndedAt           time.Time
}

// HasPeriod reports whether both period bounds are present.
func (p Payload) HasPeriod() bool {
	return !p.PeriodStart.IsZero() && !p.PeriodEnd.IsZero()
}

func (p Payload) normalized() Payload {
	p.PeriodStart = StoredTime(p.PeriodStart)
	p.PeriodEnd = StoredTime(p.PeriodEnd)
	p.EndedAt = StoredTime(p.EndedAt)
	return p
}

// Result is the outcome class of processing one event.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultRejected  Result = "rejected"
)

// Reason explains a rejected outcome.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInvalidPeriod    Reason = "invalid_period"
	ReasonInvalidPayload   Reason = "invalid_payload"
	ReasonOutOfOrder       Reason = "out_of_order"
	ReasonUnsupported      Reason = "unsupported"
	ReasonUnmappedCustomer Reason = "unmapped_customer"
	ReasonConflict         Reason = "conflict"
)

// Outcome is the result of processing one webhook event.
type Outcome struct {
	Result Result
	Reason Reason
	UserID string
	Record *Record // resulting record for applied events
}

// NeedsRedelivery reports whether the provider should deliver the event again.
func (o Outcome) NeedsRedelivery() bool {
	return o.Result == ResultRejected && o.Reason == ReasonConflict
}

func applied(userID string, rec *Record) Outcome {
	return Outcome{Result: ResultApplied, UserID: userID, Record: rec}
}

func rejected(userID string, reason Reason) Outcome {
	return Outcome{Result: ResultRejected, Reason: reason, UserID: userID}
}

// reasonFor maps a rule error to its rejection reason.
func reasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInvalidPeriod):
		return ReasonInvalidPeriod
	case errors.Is(err, ErrOutOfOrder):
		return ReasonOutOfOrder
	case errors.Is(err, ErrUnsupportedEvent):
		return ReasonUnsupported
	case errors.Is(err, ErrUnmappedCustomer):
		return ReasonUnmappedCustomer
	case errors.Is(err, ErrVersionConflict):
		return ReasonConflict
	}
	return ReasonInvalidPayload
}
