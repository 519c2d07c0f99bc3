package subscription

import (
	"context"
	"time"
)

// Store defines the interface for subscription record persistence.
// Each user has exactly one record, so UserID serves as the primary key.
// Implementations must wrap infrastructure failures with ErrStoreUnavailable.
type Store interface {
	// Get retrieves a record by user ID.
	// Returns ErrRecordNotFound if no record exists.
	Get(ctx context.Context, userID string) (*Record, error)

	// CompareAndSet applies patch only if the stored version equals expectedVersion.
	// Expected version 0 creates the record when absent.
	// Returns ErrVersionConflict when the stored version differs.
	CompareAndSet(ctx context.Context, userID string, expectedVersion int64, patch Patch) (*Record, error)

	// FindByCustomerRef resolves a billing customer reference to its record.
	// Returns ErrRecordNotFound if the reference is not mapped.
	FindByCustomerRef(ctx context.Context, customerRef string) (*Record, error)

	// Find returns a page of records matching the filter.
	Find(ctx context.Context, filter Filter) (*Page, error)

	// ListUserIDsByStatus returns the IDs of all users whose record has one of the statuses.
	ListUserIDsByStatus(ctx context.Context, statuses ...SubscriptionStatus) ([]string, error)
}

// SortField names the field Find orders by.
type SortField string

const (
	SortByUpdatedAt SortField = "updated_at"
	SortByPeriodEnd SortField = "period_end"
	SortByUserID    SortField = "user_id"
)

// Filter narrows an admin listing of records.
type Filter struct {
	Statuses []SubscriptionStatus
	PlanID   string
	SortBy   SortField
	Desc     bool
	Skip     int64
	Limit    int64
}

// Page is one page of a record listing.
type Page struct {
	Records []*Record
	Total   int64
}

// Ledger records processed webhook event IDs.
// Entries expire after the configured retention.
type Ledger interface {
	// Seen reports whether the event was already applied.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Record marks the event as applied at the given time. It reports false
	// when the event was already recorded and keeps the first time.
	Record(ctx context.Context, eventID string, appliedAt time.Time) (bool, error)

	// Prune drops entries applied before the cutoff and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PlanProgress is a user's learning plan progress, owned by the learning feature.
type PlanProgress struct {
	UserID            string
	PlanID            string
	Language          string
	CompletedSessions int64
}

// ProgressSource reads learning plan progress. It is read-only to this package.
type ProgressSource interface {
	ListByUser(ctx context.Context, userID string) ([]PlanProgress, error)
}

// ProviderSubscription is the billing provider's view of a subscription.
type ProviderSubscription struct {
	SubscriptionRef   string
	CustomerRef       string
	PlanID            string
	PriceRef          string
	BillingPeriod     BillingPeriod
	Status            SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	EndedAt           time.Time
	CreatedAt         time.Time
}

func (s ProviderSubscription) normalized() ProviderSubscription {
	s.PeriodStart = StoredTime(s.PeriodStart)
	s.PeriodEnd = StoredTime(s.PeriodEnd)
	s.EndedAt = StoredTime(s.EndedAt)
	return s
}

// BillingProvider queries the billing provider for its current subscription state.
// Implementations should use official provider SDKs and wrap transport failures
// with ErrProviderUnavailable.
type BillingProvider interface {
	// GetSubscription returns the subscription with the given reference.
	// Returns ErrProviderNotFound if the provider does not know it.
	GetSubscription(ctx context.Context, subscriptionRef string) (*ProviderSubscription, error)

	// ListSubscriptions returns all subscriptions of a billing customer.
	ListSubscriptions(ctx context.Context, customerRef string) ([]ProviderSubscription, error)
}

// PlanResolver maps an opaque price reference to its plan and billing period.
type PlanResolver interface {
	ResolvePrice(priceRef string) (planID string, period BillingPeriod, ok bool)
}
