package subscriptions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	}
	return fmt.Sprintf("failed the %q rule", fe.Tag())
}

// NullableTime distinguishes an absent JSON time from an explicit null.
type NullableTime struct {
	Set  bool
	Time *time.Time
}

func (n *NullableTime) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Time = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	n.Time = &t
	return nil
}

// ListRequest is the query of GET /admin/subscriptions.
type ListRequest struct {
	Status []string `query:"status" validate:"dive,oneof=none active past_due canceled"`
	Plan   string   `query:"plan" validate:"max=100"`
	Sort   string   `query:"sort" validate:"omitempty,oneof=updated_at period_end user_id"`
	Order  string   `query:"order" validate:"omitempty,oneof=asc desc"`
	Skip   int64    `query:"skip" validate:"gte=0"`
	Limit  int64    `query:"limit" validate:"gte=0,lte=500"`
}

func (r ListRequest) filter() subscription.Filter {
	f := subscription.Filter{
		PlanID: r.Plan,
		SortBy: subscription.SortField(r.Sort),
		Desc:   r.Order == "desc",
		Skip:   r.Skip,
		Limit:  r.Limit,
	}
	if f.Limit == 0 {
		f.Limit = 50
	}
	for _, s := range r.Status {
		f.Statuses = append(f.Statuses, subscription.SubscriptionStatus(s))
	}
	return f
}

// OverrideRequest is the body of PATCH /admin/users/{userID}/subscription.
// Absent fields are left untouched; started_at and expires_at accept null to clear.
type OverrideRequest struct {
	Actor            string `json:"actor" validate:"required,max=200"`
	Reason           string `json:"reason" validate:"max=1000"`
	ReassignCustomer bool   `json:"reassign_customer"`

	BillingCustomerRef   *string      `json:"billing_customer_ref" validate:"omitempty,max=255"`
	SubscriptionRef      *string      `json:"subscription_ref" validate:"omitempty,max=255"`
	PlanID               *string      `json:"plan_id" validate:"omitempty,max=100"`
	PriceRef             *string      `json:"price_ref" validate:"omitempty,max=255"`
	BillingPeriod        *string      `json:"billing_period" validate:"omitempty,oneof=monthly annual"`
	Status               *string      `json:"status" validate:"omitempty,oneof=none active past_due canceled"`
	PeriodStart          *time.Time   `json:"period_start"`
	PeriodEnd            *time.Time   `json:"period_end"`
	StartedAt            NullableTime `json:"started_at"`
	ExpiresAt            NullableTime `json:"expires_at"`
	PracticeSessionsUsed *int64       `json:"practice_sessions_used"`
	AssessmentsUsed      *int64       `json:"assessments_used"`
}

// override converts the request into a core override. Counter bounds and
// period rules are enforced by the override path itself.
func (r OverrideRequest) override() subscription.Override {
	var p subscription.Patch
	if r.BillingCustomerRef != nil {
		p.BillingCustomerRef = subscription.Set(*r.BillingCustomerRef)
	}
	if r.SubscriptionRef != nil {
		p.SubscriptionRef = subscription.Set(*r.SubscriptionRef)
	}
	if r.PlanID != nil {
		p.PlanID = subscription.Set(*r.PlanID)
	}
	if r.PriceRef != nil {
		p.PriceRef = subscription.Set(*r.PriceRef)
	}
	if r.BillingPeriod != nil {
		p.BillingPeriod = subscription.Set(subscription.BillingPeriod(*r.BillingPeriod))
	}
	if r.Status != nil {
		p.Status = subscription.Set(subscription.SubscriptionStatus(*r.Status))
	}
	if r.PeriodStart != nil {
		p.PeriodStart = subscription.Set(*r.PeriodStart)
	}
	if r.PeriodEnd != nil {
		p.PeriodEnd = subscription.Set(*r.PeriodEnd)
	}
	if r.StartedAt.Set {
		p.StartedAt = subscription.Set(r.StartedAt.Time)
	}
	if r.ExpiresAt.Set {
		p.ExpiresAt = subscription.Set(r.ExpiresAt.Time)
	}
	if r.PracticeSessionsUsed != nil {
		p.PracticeSessionsUsed = subscription.Set(*r.PracticeSessionsUsed)
	}
	if r.AssessmentsUsed != nil {
		p.AssessmentsUsed = subscription.Set(*r.AssessmentsUsed)
	}
	return subscription.Override{
		Patch:            p,
		Actor:            r.Actor,
		Reason:           r.Reason,
		ReassignCustomer: r.ReassignCustomer,
	}
}

// ResetUsageRequest is the body of POST /admin/users/{userID}/usage/reset.
type ResetUsageRequest struct {
	Counter string `json:"counter" validate:"required,oneof=practice_sessions assessments"`
	Actor   string `json:"actor" validate:"required,max=200"`
	Reason  string `json:"reason" validate:"max=1000"`
}

// AuditRequest is the query of GET /admin/users/{userID}/audit.
type AuditRequest struct {
	Limit int `query:"limit" validate:"gte=0,lte=200"`
}

// RecordResponse is the JSON form of a subscription record.
type RecordResponse struct {
	UserID               string     `json:"user_id"`
	BillingCustomerRef   string     `json:"billing_customer_ref,omitempty"`
	SubscriptionRef      string     `json:"subscription_ref,omitempty"`
	PlanID               string     `json:"plan_id,omitempty"`
	PriceRef             string     `json:"price_ref,omitempty"`
	BillingPeriod        string     `json:"billing_period,omitempty"`
	Status               string     `json:"status"`
	PeriodStart          *time.Time `json:"period_start,omitempty"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	PracticeSessionsUsed int64      `json:"practice_sessions_used"`
	AssessmentsUsed      int64      `json:"assessments_used"`
	Version              int64      `json:"version"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`
}

func recordResponse(r *subscription.Record) *RecordResponse {
	if r == nil {
		return nil
	}
	return &RecordResponse{
		UserID:               r.UserID,
		BillingCustomerRef:   r.BillingCustomerRef,
		SubscriptionRef:      r.SubscriptionRef,
		PlanID:               r.PlanID,
		PriceRef:             r.PriceRef,
		BillingPeriod:        string(r.BillingPeriod),
		Status:               string(r.Status),
		PeriodStart:          optionalTime(r.PeriodStart),
		PeriodEnd:            optionalTime(r.PeriodEnd),
		StartedAt:            utcPtr(r.StartedAt),
		ExpiresAt:            utcPtr(r.ExpiresAt),
		PracticeSessionsUsed: r.PracticeSessionsUsed,
		AssessmentsUsed:      r.AssessmentsUsed,
		Version:              r.Version,
		UpdatedAt:            optionalTime(r.UpdatedAt),
	}
}

// ReportResponse is the JSON form of a reconciliation report.
type ReportResponse struct {
	UserID      string          `json:"user_id"`
	InSync      bool            `json:"in_sync"`
	DriftFields []string        `json:"drift_fields,omitempty"`
	Corrected   bool            `json:"corrected"`
	Rejected    bool            `json:"rejected"`
	Reason      string          `json:"reason,omitempty"`
	Record      *RecordResponse `json:"record,omitempty"`
}

// UsageResponse is the JSON form of a usage recomputation.
type UsageResponse struct {
	UserID        string `json:"user_id"`
	Stored        int64  `json:"stored"`
	Authoritative int64  `json:"authoritative"`
	Delta         int64  `json:"delta"`
	Corrected     bool   `json:"corrected"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	EventID string `json:"event_id,omitempty"`
	Result  string `json:"result"`
	Reason  string `json:"reason,omitempty"`
}
