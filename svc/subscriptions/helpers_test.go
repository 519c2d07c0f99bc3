package subscriptions_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/billing"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
	"github.com/alipala/language-tutor-sub001/svc/subscriptions"
)

const testToken = "s3cr3t-admin-token-value"

var (
	testNow    = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func clock() time.Time { return testNow }

func coreOptions(extra ...subscription.Option) []subscription.Option {
	return append([]subscription.Option{
		subscription.WithLogger(testLogger),
		subscription.WithClock(clock),
		subscription.WithCallTimeout(time.Second),
	}, extra...)
}

func handlerOptions(extra ...subscriptions.HandlerOption) []subscriptions.HandlerOption {
	return append([]subscriptions.HandlerOption{
		subscriptions.WithLogger(testLogger),
		subscriptions.WithClock(clock),
	}, extra...)
}

func mappedRecord(userID, customerRef string) *subscription.Record {
	r := subscription.NewRecord(userID)
	r.BillingCustomerRef = customerRef
	return r
}

func activeRecord(userID, customerRef string) *subscription.Record {
	r := mappedRecord(userID, customerRef)
	r.SubscriptionRef = "sub_1"
	r.PlanID = "pro"
	r.PriceRef = "price_pro_monthly"
	r.BillingPeriod = subscription.BillingPeriodMonthly
	r.Status = subscription.StatusActive
	r.PeriodStart = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	r.PeriodEnd = time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	started := r.PeriodStart
	r.StartedAt = &started
	return r
}

// fakeDelivery is the wire format understood by fakeParser.
type fakeDelivery struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Customer string    `json:"customer"`
	Sub      string    `json:"sub"`
	Status   string    `json:"status"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// fakeParser accepts deliveries carrying the "X-Fake-Signature: ok" header.
type fakeParser struct{}

func (fakeParser) Name() string { return "fake" }

func (fakeParser) ParseWebhook(_ context.Context, payload []byte, header http.Header) (subscription.Event, error) {
	if header.Get("X-Fake-Signature") != "ok" {
		return subscription.Event{}, billing.ErrInvalidSignature
	}
	var d fakeDelivery
	if err := json.Unmarshal(payload, &d); err != nil {
		return subscription.Event{}, err
	}
	return subscription.Event{
		ID:          d.ID,
		Type:        subscription.EventType(d.Type),
		CustomerRef: d.Customer,
		OccurredAt:  d.Start,
		Payload: subscription.Payload{
			SubscriptionRef: d.Sub,
			Status:          subscription.SubscriptionStatus(d.Status),
			PeriodStart:     d.Start,
			PeriodEnd:       d.End,
		},
	}, nil
}

func delivery(t *testing.T, d fakeDelivery) string {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return string(b)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func serve(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// recordEvent records a first-time ledger entry.
func recordEvent(t *testing.T, ledger subscription.Ledger, eventID string, at time.Time) {
	t.Helper()
	first, err := ledger.Record(context.Background(), eventID, at)
	require.NoError(t, err)
	require.True(t, first)
}

// failingLedger fails every call as an unreachable ledger would.
type failingLedger struct{}

func (failingLedger) Seen(context.Context, string) (bool, error) {
	return false, subscription.ErrLedgerFailure
}

func (failingLedger) Record(context.Context, string, time.Time) (bool, error) {
	return false, subscription.ErrLedgerFailure
}

func (failingLedger) Prune(context.Context, time.Time) (int64, error) {
	return 0, subscription.ErrLedgerFailure
}
