package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	// APIURL overrides the API endpoint, e.g. for stripe-mock.
	APIURL string `env:"STRIPE_API_URL"`
}

// StripeProvider implements Provider for Stripe.
type StripeProvider struct {
	api    *client.API
	secret string
}

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, ErrMissingWebhookSecret
	}

	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(cfg.APIURL),
				MaxNetworkRetries: stripe.Int64(0),
			}),
		}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &StripeProvider{api: api, secret: cfg.WebhookSecret}, nil
}

func (p *StripeProvider) Name() string { return ProviderStripe }

// GetSubscription fetches a subscription by id.
func (p *StripeProvider) GetSubscription(ctx context.Context, ref string) (*subscription.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(ref, params)
	if err != nil {
		return nil, stripeErr(err)
	}
	ps := fromStripeSubscription(sub)
	return &ps, nil
}

// ListSubscriptions lists every subscription of a customer, including ended ones.
func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerRef string) ([]subscription.ProviderSubscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var out []subscription.ProviderSubscription
	it := p.api.Subscriptions.List(params)
	for it.Next() {
		out = append(out, fromStripeSubscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, stripeErr(err)
	}
	return out, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalises the event.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (subscription.Event, error) {
	sig := header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		return subscription.Event{}, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return subscription.Event{}, errors.Join(ErrInvalidSignature, err)
	}

	ev := subscription.Event{
		ID:         event.ID,
		Type:       mapStripeEventType(string(event.Type)),
		OccurredAt: unixTime(event.Created),
		Provider:   ProviderStripe,
	}
	if !ev.Type.Supported() || event.Data == nil {
		return ev, nil
	}

	switch ev.Type {
	case subscription.EventInvoicePaid, subscription.EventInvoiceFailed:
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return subscription.Event{}, errors.Join(ErrMalformedWebhook, err)
		}
		ev.CustomerRef = inv.Customer
		ev.Payload = inv.payload()
	default:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return subscription.Event{}, errors.Join(ErrMalformedWebhook, err)
		}
		ev.CustomerRef = sub.Customer
		ev.Payload = sub.payload()
	}
	return ev, nil
}

func mapStripeEventType(t string) subscription.EventType {
	switch t {
	case "customer.subscription.created":
		return subscription.EventSubscriptionCreated
	case "customer.subscription.updated", "customer.subscription.paused", "customer.subscription.resumed":
		return subscription.EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return subscription.EventSubscriptionDeleted
	case "invoice.paid":
		return subscription.EventInvoicePaid
	case "invoice.payment_failed":
		return subscription.EventInvoiceFailed
	}
	return subscription.EventType(t)
}

// mapStripeStatus folds Stripe's statuses onto the local status set.
// Paused and incomplete subscriptions have no paid access, like past_due ones.
func mapStripeStatus(s string) subscription.SubscriptionStatus {
	switch s {
	case "active", "trialing":
		return subscription.StatusActive
	case "past_due", "unpaid", "incomplete", "paused":
		return subscription.StatusPastDue
	case "canceled", "incomplete_expired":
		return subscription.StatusCanceled
	}
	return subscription.SubscriptionStatus(s)
}

func fromStripeSubscription(s *stripe.Subscription) subscription.ProviderSubscription {
	ps := subscription.ProviderSubscription{
		SubscriptionRef:   s.ID,
		Status:            mapStripeStatus(string(s.Status)),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		EndedAt:           unixTime(s.EndedAt),
		CreatedAt:         unixTime(s.Created),
	}
	if s.Customer != nil {
		ps.CustomerRef = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil {
				continue
			}
			if ps.PeriodStart.IsZero() {
				ps.PeriodStart = unixTime(item.CurrentPeriodStart)
				ps.PeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
			if item.Price != nil && ps.PriceRef == "" {
				ps.PriceRef = item.Price.ID
				if item.Price.Recurring != nil {
					ps.BillingPeriod = intervalPeriod(string(item.Price.Recurring.Interval))
				}
			}
		}
	}
	return ps
}

// stripeSubscription is the part of a Stripe subscription object carried by webhooks.
// Period bounds moved from the subscription to its items in newer API versions;
// both locations are read.
type stripeSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	EndedAt            int64  `json:"ended_at"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64       `json:"current_period_start"`
			CurrentPeriodEnd   int64       `json:"current_period_end"`
			Price              stripePrice `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripePrice struct {
	ID        string `json:"id"`
	Recurring *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

func (s stripeSubscription) payload() subscription.Payload {
	p := subscription.Payload{
		SubscriptionRef:   s.ID,
		Status:            mapStripeStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		EndedAt:           unixTime(s.EndedAt),
		PeriodStart:       unixTime(s.CurrentPeriodStart),
		PeriodEnd:         unixTime(s.CurrentPeriodEnd),
	}
	for _, item := range s.Items.Data {
		if p.PeriodStart.IsZero() {
			p.PeriodStart = unixTime(item.CurrentPeriodStart)
			p.PeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
		if p.PriceRef == "" && item.Price.ID != "" {
			p.PriceRef = item.Price.ID
			if item.Price.Recurring != nil {
				p.BillingPeriod = intervalPeriod(item.Price.Recurring.Interval)
			}
		}
	}
	return p
}

// stripeInvoice is the part of a Stripe invoice object carried by webhooks.
type stripeInvoice struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
			Price   *stripePrice `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv stripeInvoice) payload() subscription.Payload {
	p := subscription.Payload{SubscriptionRef: inv.Subscription}
	if p.SubscriptionRef == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		p.SubscriptionRef = inv.Parent.SubscriptionDetails.Subscription
	}
	for _, line := range inv.Lines.Data {
		if line.Period.End <= 0 {
			continue
		}
		p.PeriodStart = unixTime(line.Period.Start)
		p.PeriodEnd = unixTime(line.Period.End)
		switch {
		case line.Price != nil:
			p.PriceRef = line.Price.ID
			if line.Price.Recurring != nil {
				p.BillingPeriod = intervalPeriod(line.Price.Recurring.Interval)
			}
		case line.Pricing != nil && line.Pricing.PriceDetails != nil:
			p.PriceRef = line.Pricing.PriceDetails.Price
		}
		break
	}
	return p
}

func stripeErr(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
		return errors.Join(subscription.ErrProviderNotFound, err)
	}
	return errors.Join(subscription.ErrProviderUnavailable, err)
}
