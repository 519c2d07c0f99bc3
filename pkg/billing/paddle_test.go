package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/billing"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

const paddleSecret = "pdl_ntfset_test_secret"

func newPaddle(t *testing.T) *billing.PaddleProvider {
	t.Helper()
	p, err := billing.NewPaddleProvider(billing.PaddleConfig{
		APIKey:        "pdl_sdbx_apikey_test",
		WebhookSecret: paddleSecret,
		Environment:   "sandbox",
	})
	require.NoError(t, err)
	return p
}

func signPaddle(payload string) http.Header {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(paddleSecret))
	mac.Write([]byte(ts + ":" + payload))
	h := http.Header{}
	h.Set("Paddle-Signature", fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func TestNewPaddleProvider_Validation(t *testing.T) {
	t.Parallel()

	_, err := billing.NewPaddleProvider(billing.PaddleConfig{WebhookSecret: "x"})
	require.ErrorIs(t, err, billing.ErrMissingAPIKey)

	_, err = billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "x"})
	require.ErrorIs(t, err, billing.ErrMissingWebhookSecret)

	_, err = billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "x", WebhookSecret: "y", Environment: "staging"})
	require.ErrorIs(t, err, billing.ErrInvalidEnvironment)
}

func TestPaddleProvider_ParseSubscriptionCanceled(t *testing.T) {
	t.Parallel()

	payload := `{
		"event_id": "evt_01hv8wt8nffy1x8c8x1y8x8x8x",
		"event_type": "subscription.canceled",
		"occurred_at": "2025-08-01T10:00:00.000000Z",
		"data": {
			"id": "sub_01hv8x29kz0t586xy6zn1a62ny",
			"status": "canceled",
			"customer_id": "ctm_01hv6y1jedq4p1n0yqn5ba3ky4",
			"canceled_at": "2025-08-01T10:00:00Z",
			"current_billing_period": null,
			"billing_cycle": {"interval": "month", "frequency": 1},
			"items": [{"price": {"id": "pri_01gsz8x8sawmvhz1pv30nge1ke"}}]
		}
	}`

	ev, err := newPaddle(t).ParseWebhook(context.Background(), []byte(payload), signPaddle(payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_01hv8wt8nffy1x8c8x1y8x8x8x", ev.ID)
	assert.Equal(t, subscription.EventSubscriptionDeleted, ev.Type)
	assert.Equal(t, "ctm_01hv6y1jedq4p1n0yqn5ba3ky4", ev.CustomerRef)
	assert.Equal(t, billing.ProviderPaddle, ev.Provider)
	assert.Equal(t, subscription.StatusCanceled, ev.Payload.Status)
	assert.Equal(t, subscription.BillingPeriodMonthly, ev.Payload.BillingPeriod)
	assert.Equal(t, time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC), ev.Payload.EndedAt)
	assert.False(t, ev.Payload.HasPeriod())
}

func TestPaddleProvider_ParseScheduledCancel(t *testing.T) {
	t.Parallel()

	payload := `{
		"event_id": "evt_2",
		"event_type": "subscription.updated",
		"occurred_at": "2025-07-10T10:00:00Z",
		"data": {
			"id": "sub_1",
			"status": "active",
			"customer_id": "ctm_1",
			"current_billing_period": {"starts_at": "2025-07-01T00:00:00Z", "ends_at": "2025-08-01T00:00:00Z"},
			"billing_cycle": {"interval": "month", "frequency": 1},
			"scheduled_change": {"action": "cancel", "effective_at": "2025-08-01T00:00:00Z"},
			"items": [{"price": {"id": "pri_monthly"}}]
		}
	}`

	ev, err := newPaddle(t).ParseWebhook(context.Background(), []byte(payload), signPaddle(payload))
	require.NoError(t, err)
	assert.Equal(t, subscription.EventSubscriptionUpdated, ev.Type)
	assert.True(t, ev.Payload.CancelAtPeriodEnd)
	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), ev.Payload.PeriodEnd)
	assert.Equal(t, "pri_monthly", ev.Payload.PriceRef)
}

func TestPaddleProvider_ParseTransactionCompleted(t *testing.T) {
	t.Parallel()

	payload := `{
		"event_id": "evt_3",
		"event_type": "transaction.completed",
		"occurred_at": "2025-08-01T00:00:05Z",
		"data": {
			"id": "txn_1",
			"subscription_id": "sub_1",
			"customer_id": "ctm_1",
			"billing_period": {"starts_at": "2025-08-01T00:00:00Z", "ends_at": "2026-08-01T00:00:00Z"},
			"items": [{"price": {"id": "pri_annual", "billing_cycle": {"interval": "year", "frequency": 1}}}]
		}
	}`

	ev, err := newPaddle(t).ParseWebhook(context.Background(), []byte(payload), signPaddle(payload))
	require.NoError(t, err)
	assert.Equal(t, subscription.EventInvoicePaid, ev.Type)
	assert.Equal(t, "ctm_1", ev.CustomerRef)
	assert.Equal(t, "sub_1", ev.Payload.SubscriptionRef)
	assert.Equal(t, subscription.BillingPeriodAnnual, ev.Payload.BillingPeriod)
	assert.True(t, ev.Payload.HasPeriod())
}

func TestPaddleProvider_TruncatesTimestampsToStoredPrecision(t *testing.T) {
	t.Parallel()

	payload := `{
		"event_id": "evt_4",
		"event_type": "transaction.completed",
		"occurred_at": "2025-06-28T22:37:35.118204Z",
		"data": {
			"id": "txn_2",
			"subscription_id": "sub_1",
			"customer_id": "ctm_1",
			"billing_period": {"starts_at": "2025-06-28T22:37:34.635628Z", "ends_at": "2025-07-28T22:37:34.635628Z"},
			"items": [{"price": {"id": "pri_monthly", "billing_cycle": {"interval": "month", "frequency": 1}}}]
		}
	}`

	ev, err := newPaddle(t).ParseWebhook(context.Background(), []byte(payload), signPaddle(payload))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 28, 22, 37, 34, 635_000_000, time.UTC), ev.Payload.PeriodStart)
	assert.Equal(t, time.Date(2025, 7, 28, 22, 37, 34, 635_000_000, time.UTC), ev.Payload.PeriodEnd)
}

func TestPaddleProvider_RejectsBadSignature(t *testing.T) {
	t.Parallel()

	payload := `{"event_id": "evt_1", "event_type": "subscription.created", "data": {}}`
	h := http.Header{}
	h.Set("Paddle-Signature", "ts=1;h1=deadbeef")

	_, err := newPaddle(t).ParseWebhook(context.Background(), []byte(payload), h)
	require.ErrorIs(t, err, billing.ErrInvalidSignature)
}

func TestPaddleProvider_MalformedData(t *testing.T) {
	t.Parallel()

	payload := `{"event_id": "evt_1", "event_type": "subscription.created", "data": {"id": 42}}`

	_, err := newPaddle(t).ParseWebhook(context.Background(), []byte(payload), signPaddle(payload))
	require.ErrorIs(t, err, billing.ErrMalformedWebhook)
}
