package subscription

import (
	"time"
)

// Record is the locally held subscription and usage state of a single user.
// Exactly one record exists per user; it is never deleted, only transitioned to canceled.
type Record struct {
	UserID             string // primary key, immutable
	BillingCustomerRef string // provider's customer ID; set once, reassigned only by an admin
	SubscriptionRef    string // provider's subscription ID, empty when none exists
	PlanID             string
	PriceRef           string
	BillingPeriod      BillingPeriod
	Status             SubscriptionStatus
	PeriodStart        time.Time  // zero when unknown
	PeriodEnd          time.Time  // zero when unknown
	StartedAt          *time.Time // first activation
	ExpiresAt          *time.Time // nil while active indefinitely

	PracticeSessionsUsed int64
	AssessmentsUsed      int64

	Version   int64 // compare-and-set token, 0 until first persisted
	UpdatedAt time.Time
}

// TimePrecision is the resolution at which record timestamps are stored.
// Provider and operator timestamps are truncated to it before they are
// compared with a record, so a stored value compares equal to its source.
const TimePrecision = time.Millisecond

// StoredTime returns t in UTC at TimePrecision. The zero time is kept as is.
func StoredTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(TimePrecision)
}

func storedTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := StoredTime(*t)
	return &c
}

// NewRecord returns the default record of a user that has never had a subscription.
func NewRecord(userID string) *Record {
	return &Record{
		UserID: userID,
		Status: StatusNone,
	}
}

func (r *Record) IsActive() bool {
	return r.Status == StatusActive
}

func (r *Record) IsCanceled() bool {
	return r.Status == StatusCanceled
}

// HasAccessAt reports whether the user still has paid access at the given time.
// Canceled and past-due subscriptions keep access until ExpiresAt.
func (r *Record) HasAccessAt(now time.Time) bool {
	switch r.Status {
	case StatusActive:
		return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
	case StatusPastDue, StatusCanceled:
		return r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
	}
	return false
}

// Usage returns the stored value of the given counter.
func (r *Record) Usage(c Counter) int64 {
	switch c {
	case CounterPracticeSessions:
		return r.PracticeSessionsUsed
	case CounterAssessments:
		return r.AssessmentsUsed
	}
	return 0
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.StartedAt = cloneTime(r.StartedAt)
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	return &c
}

// Patch is a partial update of a record. Unset fields are left untouched.
type Patch struct {
	BillingCustomerRef Optional[string]
	SubscriptionRef    Optional[string]
	PlanID             Optional[string]
	PriceRef           Optional[string]
	BillingPeriod      Optional[BillingPeriod]
	Status             Optional[SubscriptionStatus]
	PeriodStart        Optional[time.Time]
	PeriodEnd          Optional[time.Time]
	StartedAt          Optional[*time.Time]
	ExpiresAt          Optional[*time.Time]

	PracticeSessionsUsed Optional[int64]
	AssessmentsUsed      Optional[int64]
}

// IsEmpty reports whether the patch sets no field at all.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fields returns the names of the fields set by the patch, in schema order.
func (p Patch) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.BillingCustomerRef.IsSet(), "billing_customer_ref")
	add(p.SubscriptionRef.IsSet(), "subscription_ref")
	add(p.PlanID.IsSet(), "plan_id")
	add(p.PriceRef.IsSet(), "price_ref")
	add(p.BillingPeriod.IsSet(), "billing_period")
	add(p.Status.IsSet(), "status")
	add(p.PeriodStart.IsSet(), "period_start")
	add(p.PeriodEnd.IsSet(), "period_end")
	add(p.StartedAt.IsSet(), "started_at")
	add(p.ExpiresAt.IsSet(), "expires_at")
	add(p.PracticeSessionsUsed.IsSet(), "practice_sessions_used")
	add(p.AssessmentsUsed.IsSet(), "assessments_used")
	return fields
}

// ApplyTo returns a copy of r with the patch applied. r itself is not modified.
// Version and UpdatedAt are owned by the store and are not touched.
func (p Patch) ApplyTo(r *Record) *Record {
	next := r.Clone()
	if v, ok := p.BillingCustomerRef.Get(); ok {
		next.BillingCustomerRef = v
	}
	if v, ok := p.SubscriptionRef.Get(); ok {
		next.SubscriptionRef = v
	}
	if v, ok := p.PlanID.Get(); ok {
		next.PlanID = v
	}
	if v, ok := p.PriceRef.Get(); ok {
		next.PriceRef = v
	}
	if v, ok := p.BillingPeriod.Get(); ok {
		next.BillingPeriod = v
	}
	if v, ok := p.Status.Get(); ok {
		next.Status = v
	}
	if v, ok := p.PeriodStart.Get(); ok {
		next.PeriodStart = StoredTime(v)
	}
	if v, ok := p.PeriodEnd.Get(); ok {
		next.PeriodEnd = StoredTime(v)
	}
	if v, ok := p.StartedAt.Get(); ok {
		next.StartedAt = storedTimePtr(v)
	}
	if v, ok := p.ExpiresAt.Get(); ok {
		next.ExpiresAt = storedTimePtr(v)
	}
	if v, ok := p.PracticeSessionsUsed.Get(); ok {
		next.PracticeSessionsUsed = v
	}
	if v, ok := p.AssessmentsUsed.Get(); ok {
		next.AssessmentsUsed = v
	}
	return next
}

// normalized returns the patch with every time truncated to TimePrecision.
func (p Patch) normalized() Patch {
	if v, ok := p.PeriodStart.Get(); ok {
		p.PeriodStart = Set(StoredTime(v))
	}
	if v, ok := p.PeriodEnd.Get(); ok {
		p.PeriodEnd = Set(StoredTime(v))
	}
	if v, ok := p.StartedAt.Get(); ok {
		p.StartedAt = Set(storedTimePtr(v))
	}
	if v, ok := p.ExpiresAt.Get(); ok {
		p.ExpiresAt = Set(storedTimePtr(v))
	}
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

// laterOf returns the latest non-nil time, or nil when all are nil.
func laterOf(times ...*time.Time) *time.Time {
	var latest *time.Time
	for _, t := range times {
		if t == nil || t.IsZero() {
			continue
		}
		if latest == nil || t.After(*latest) {
			latest = t
		}
	}
	return cloneTime(latest)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
