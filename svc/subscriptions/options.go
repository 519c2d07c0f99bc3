package subscriptions

import (
	"log/slog"
	"time"
)

// HandlerOption configures the webhook and admin handlers.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	logger  *slog.Logger
	metrics *Metrics
	maxBody int64
	now     func() time.Time
}

func buildHandlerOptions(opts []HandlerOption) handlerOptions {
	o := handlerOptions{
		logger:  slog.Default(),
		maxBody: 1 << 20,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the handler logger. Nil is ignored.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(o *handlerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) HandlerOption {
	return func(o *handlerOptions) {
		o.metrics = m
	}
}

// WithMaxBodyBytes limits webhook payloads and admin request bodies. Defaults to 1MB.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(o *handlerOptions) {
		if n > 0 {
			o.maxBody = n
		}
	}
}

// WithClock overrides the time source used for received-at stamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(o *handlerOptions) {
		if now != nil {
			o.now = now
		}
	}
}
