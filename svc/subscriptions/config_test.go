package subscriptions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alipala/language-tutor-sub001/svc/subscriptions"
)

func validConfig() subscriptions.Config {
	return subscriptions.Config{
		LedgerBackend:    "mongo",
		LedgerRetention:  720 * time.Hour,
		SweepInterval:    24 * time.Hour,
		SweepConcurrency: 8,
		SweepAttempts:    3,
		CallTimeout:      5 * time.Second,
		AdminToken:       testToken,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*subscriptions.Config)
		wantErr error
	}{
		{"valid", func(*subscriptions.Config) {}, nil},
		{"redis backend with odd casing", func(c *subscriptions.Config) { c.LedgerBackend = " Redis " }, nil},
		{"unknown backend", func(c *subscriptions.Config) { c.LedgerBackend = "postgres" }, subscriptions.ErrUnknownLedgerBackend},
		{"zero retention", func(c *subscriptions.Config) { c.LedgerRetention = 0 }, subscriptions.ErrInvalidConfig},
		{"zero sweep interval", func(c *subscriptions.Config) { c.SweepInterval = 0 }, subscriptions.ErrInvalidConfig},
		{"negative sweep interval", func(c *subscriptions.Config) { c.SweepInterval = -time.Minute }, subscriptions.ErrInvalidConfig},
		{"short token", func(c *subscriptions.Config) { c.AdminToken = "short" }, subscriptions.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigLedger(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LedgerBackend = " REDIS"
	assert.Equal(t, subscriptions.LedgerRedis, cfg.Ledger())
	assert.Len(t, cfg.CoreOptions(), 3)
}
