package subscriptions

import (
	"fmt"
	"strings"
	"time"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// Ledger backends selectable through LEDGER_BACKEND.
const (
	LedgerMongo = "mongo"
	LedgerRedis = "redis"
)

// Config holds the service-level settings of the subscription service.
type Config struct {
	LedgerBackend    string        `env:"LEDGER_BACKEND" envDefault:"mongo"`
	LedgerRetention  time.Duration `env:"LEDGER_RETENTION" envDefault:"720h"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
	SweepConcurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"8"`
	SweepAttempts    int           `env:"SWEEP_ATTEMPTS" envDefault:"3"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"5s"`
	AdminToken       string        `env:"ADMIN_TOKEN,required"`
	CatalogPath      string        `env:"CATALOG_PATH"`
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	switch c.Ledger() {
	case LedgerMongo, LedgerRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLedgerBackend, c.LedgerBackend)
	}
	if c.LedgerRetention <= 0 {
		return fmt.Errorf("%w: ledger retention must be positive", ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", ErrInvalidConfig)
	}
	if len(strings.TrimSpace(c.AdminToken)) < 16 {
		return fmt.Errorf("%w: admin token must be at least 16 characters", ErrInvalidConfig)
	}
	return nil
}

// Ledger returns the normalised ledger backend name.
func (c Config) Ledger() string {
	return strings.ToLower(strings.TrimSpace(c.LedgerBackend))
}

// CoreOptions converts the settings shared by every core component into options.
func (c Config) CoreOptions() []subscription.Option {
	return []subscription.Option{
		subscription.WithCallTimeout(c.CallTimeout),
		subscription.WithSweepConcurrency(c.SweepConcurrency),
		subscription.WithSweepRetry(c.SweepAttempts, nil),
	}
}
