package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// Supported provider names.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// Provider is a billing provider integration. It answers reconciliation
// queries and turns verified webhook deliveries into normalised events.
type Provider interface {
	subscription.BillingProvider

	// Name returns the provider name used in webhook routes and logs.
	Name() string

	// ParseWebhook verifies the delivery signature and normalises the payload.
	// Returns ErrInvalidSignature or ErrMalformedWebhook for deliveries that
	// must not be retried. Event types the core does not handle are returned
	// with their raw provider type so they can be acknowledged as unsupported.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (subscription.Event, error)
}

// Config selects the billing provider.
type Config struct {
	Provider string `env:"BILLING_PROVIDER" envDefault:"stripe"`
}

// Name returns the normalised provider name.
func (c Config) Name() string {
	return strings.ToLower(strings.TrimSpace(c.Provider))
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return subscription.StoredTime(time.Unix(sec, 0))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return subscription.StoredTime(t)
}

func intervalPeriod(interval string) subscription.BillingPeriod {
	switch strings.ToLower(interval) {
	case "month":
		return subscription.BillingPeriodMonthly
	case "year":
		return subscription.BillingPeriodAnnual
	}
	return ""
}
