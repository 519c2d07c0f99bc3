package alert_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/alert"
)

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := alert.NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	err := n.Notify(context.Background(), alert.Alert{
		Kind:     alert.KindUnmappedCustomer,
		Severity: alert.SeverityCritical,
		Summary:  "webhook for unknown customer",
		EventID:  "evt_1",
		Details:  map[string]string{"customer_ref": "cus_9"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "alert_kind=unmapped_customer")
	assert.Contains(t, out, "event_id=evt_1")
	assert.Contains(t, out, "customer_ref=cus_9")
}

func TestMulti(t *testing.T) {
	t.Parallel()

	failure := errors.New("smtp down")
	var calls int
	counting := alert.NotifierFunc(func(context.Context, alert.Alert) error {
		calls++
		return nil
	})
	failing := alert.NotifierFunc(func(context.Context, alert.Alert) error {
		calls++
		return failure
	})

	err := alert.Multi{failing, nil, counting}.Notify(context.Background(), alert.Alert{Kind: alert.KindConflict})
	require.ErrorIs(t, err, failure)
	assert.Equal(t, 2, calls)
}

func TestNewPostmarkNotifier_InvalidConfig(t *testing.T) {
	t.Parallel()

	valid := alert.Config{
		PostmarkServerToken:  "server",
		PostmarkAccountToken: "account",
		SenderEmail:          "alerts@example.com",
		Recipients:           []string{"ops@example.com"},
	}

	tests := []struct {
		name   string
		mutate func(*alert.Config)
		msg    string
	}{
		{"missing server token", func(c *alert.Config) { c.PostmarkServerToken = "" }, "PostmarkServerToken"},
		{"missing account token", func(c *alert.Config) { c.PostmarkAccountToken = "" }, "PostmarkAccountToken"},
		{"missing sender", func(c *alert.Config) { c.SenderEmail = "" }, "SenderEmail"},
		{"missing recipients", func(c *alert.Config) { c.Recipients = nil }, "recipient"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			n, err := alert.NewPostmarkNotifier(cfg)
			require.ErrorIs(t, err, alert.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Nil(t, n)
		})
	}

	n, err := alert.NewPostmarkNotifier(valid)
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	log := alert.NewLogNotifier(nil)

	n, err := alert.FromConfig(alert.Config{}, log)
	require.NoError(t, err)
	assert.Same(t, log, n)

	n, err = alert.FromConfig(alert.Config{
		PostmarkServerToken:  "server",
		PostmarkAccountToken: "account",
		SenderEmail:          "alerts@example.com",
		Recipients:           []string{"ops@example.com"},
	}, log)
	require.NoError(t, err)
	multi, ok := n.(alert.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestRendering(t *testing.T) {
	t.Parallel()

	a := alert.Alert{
		Kind:       alert.KindConflict,
		Severity:   alert.SeverityWarning,
		Summary:    "record kept changing",
		UserID:     "u1",
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Details:    map[string]string{"b": "2", "a": "1"},
	}

	assert.Equal(t, "[WARNING] conflict: record kept changing", alert.Subject(a))
	body := alert.Body(a)
	assert.Contains(t, body, "user_id: u1\n")
	assert.Contains(t, body, "occurred_at: 2024-03-01T12:00:00Z\n")
	assert.Less(t, bytes.Index([]byte(body), []byte("a: 1")), bytes.Index([]byte(body), []byte("b: 2")))
}
