package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() string { return ProviderPaddle }

// GetSubscription fetches a subscription by id.
func (p *PaddleProvider) GetSubscription(ctx context.Context, ref string) (*subscription.ProviderSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: ref,
	})
	if err != nil {
		return nil, paddleErr(err)
	}
	ps, err := fromPaddleSubscription(sub)
	if err != nil {
		return nil, errors.Join(subscription.ErrProviderUnavailable, err)
	}
	return &ps, nil
}

// ListSubscriptions lists every subscription of a customer.
func (p *PaddleProvider) ListSubscriptions(ctx context.Context, customerRef string) ([]subscription.ProviderSubscription, error) {
	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerRef},
	})
	if err != nil {
		return nil, paddleErr(err)
	}

	var out []subscription.ProviderSubscription
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		ps, err := fromPaddleSubscription(s)
		if err != nil {
			return false, err
		}
		out = append(out, ps)
		return true, nil
	})
	if err != nil {
		return nil, paddleErr(err)
	}
	return out, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalises the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (subscription.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return subscription.Event{}, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", header.Get("Paddle-Signature"))

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return subscription.Event{}, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return subscription.Event{}, ErrInvalidSignature
	}

	var envelope struct {
		EventID    string          `json:"event_id"`
		EventType  string          `json:"event_type"`
		OccurredAt string          `json:"occurred_at"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return subscription.Event{}, errors.Join(ErrMalformedWebhook, err)
	}

	ev := subscription.Event{
		ID:         envelope.EventID,
		Type:       mapPaddleEventType(envelope.EventType),
		OccurredAt: parseTime(envelope.OccurredAt),
		Provider:   ProviderPaddle,
	}
	if !ev.Type.Supported() || len(envelope.Data) == 0 {
		return ev, nil
	}

	switch ev.Type {
	case subscription.EventInvoicePaid, subscription.EventInvoiceFailed:
		var txn paddleTransaction
		if err := json.Unmarshal(envelope.Data, &txn); err != nil {
			return subscription.Event{}, errors.Join(ErrMalformedWebhook, err)
		}
		ev.CustomerRef = txn.CustomerID
		ev.Payload = txn.payload()
	default:
		var sub paddleSubscription
		if err := json.Unmarshal(envelope.Data, &sub); err != nil {
			return subscription.Event{}, errors.Join(ErrMalformedWebhook, err)
		}
		ev.CustomerRef = sub.CustomerID
		ev.Payload = sub.payload()
	}
	return ev, nil
}

func mapPaddleEventType(t string) subscription.EventType {
	switch t {
	case "subscription.created":
		return subscription.EventSubscriptionCreated
	case "subscription.updated", "subscription.activated", "subscription.trialing",
		"subscription.past_due", "subscription.paused", "subscription.resumed":
		return subscription.EventSubscriptionUpdated
	case "subscription.canceled":
		return subscription.EventSubscriptionDeleted
	case "transaction.completed":
		return subscription.EventInvoicePaid
	case "transaction.payment_failed":
		return subscription.EventInvoiceFailed
	}
	return subscription.EventType(t)
}

func mapPaddleStatus(s string) subscription.SubscriptionStatus {
	switch strings.ToLower(s) {
	case "active", "trialing":
		return subscription.StatusActive
	case "past_due", "paused":
		return subscription.StatusPastDue
	case "canceled", "cancelled":
		return subscription.StatusCanceled
	}
	return subscription.SubscriptionStatus(s)
}

// paddleSubscription is the subset of a Paddle subscription entity this
// package reads. It decodes both webhook data and API responses.
type paddleSubscription struct {
	ID                   string       `json:"id"`
	Status               string       `json:"status"`
	CustomerID           string       `json:"customer_id"`
	CreatedAt            string       `json:"created_at"`
	CanceledAt           *string      `json:"canceled_at"`
	CurrentBillingPeriod *paddlePeriod `json:"current_billing_period"`
	BillingCycle         struct {
		Interval  string `json:"interval"`
		Frequency int    `json:"frequency"`
	} `json:"billing_cycle"`
	ScheduledChange *struct {
		Action      string `json:"action"`
		EffectiveAt string `json:"effective_at"`
	} `json:"scheduled_change"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

type paddlePeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

func (s paddleSubscription) payload() subscription.Payload {
	p := subscription.Payload{
		SubscriptionRef:   s.ID,
		Status:            mapPaddleStatus(s.Status),
		CancelAtPeriodEnd: s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel",
	}
	if s.BillingCycle.Frequency <= 1 {
		p.BillingPeriod = intervalPeriod(s.BillingCycle.Interval)
	}
	if s.CurrentBillingPeriod != nil {
		p.PeriodStart = parseTime(s.CurrentBillingPeriod.StartsAt)
		p.PeriodEnd = parseTime(s.CurrentBillingPeriod.EndsAt)
	}
	if s.CanceledAt != nil {
		p.EndedAt = parseTime(*s.CanceledAt)
	}
	if len(s.Items) > 0 {
		p.PriceRef = s.Items[0].Price.ID
	}
	return p
}

// paddleTransaction is the subset of a Paddle transaction entity this package reads.
type paddleTransaction struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	CustomerID     string        `json:"customer_id"`
	BillingPeriod  *paddlePeriod `json:"billing_period"`
	Items          []struct {
		Price struct {
			ID           string `json:"id"`
			BillingCycle *struct {
				Interval  string `json:"interval"`
				Frequency int    `json:"frequency"`
			} `json:"billing_cycle"`
		} `json:"price"`
	} `json:"items"`
}

func (t paddleTransaction) payload() subscription.Payload {
	p := subscription.Payload{SubscriptionRef: t.SubscriptionID}
	if t.BillingPeriod != nil {
		p.PeriodStart = parseTime(t.BillingPeriod.StartsAt)
		p.PeriodEnd = parseTime(t.BillingPeriod.EndsAt)
	}
	if len(t.Items) > 0 {
		price := t.Items[0].Price
		p.PriceRef = price.ID
		if price.BillingCycle != nil && price.BillingCycle.Frequency <= 1 {
			p.BillingPeriod = intervalPeriod(price.BillingCycle.Interval)
		}
	}
	return p
}

// fromPaddleSubscription converts an SDK entity through its JSON form so the
// API and webhook paths share one mapping.
func fromPaddleSubscription(sub *paddle.Subscription) (subscription.ProviderSubscription, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return subscription.ProviderSubscription{}, err
	}
	var s paddleSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return subscription.ProviderSubscription{}, err
	}

	p := s.payload()
	return subscription.ProviderSubscription{
		SubscriptionRef:   p.SubscriptionRef,
		CustomerRef:       s.CustomerID,
		PriceRef:          p.PriceRef,
		BillingPeriod:     p.BillingPeriod,
		Status:            p.Status,
		PeriodStart:       p.PeriodStart,
		PeriodEnd:         p.PeriodEnd,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		EndedAt:           p.EndedAt,
		CreatedAt:         parseTime(s.CreatedAt),
	}, nil
}

func paddleErr(err error) error {
	var perr *paddleerr.Error
	if errors.As(err, &perr) && perr.Code == "not_found" {
		return errors.Join(subscription.ErrProviderNotFound, err)
	}
	return errors.Join(subscription.ErrProviderUnavailable, err)
}
