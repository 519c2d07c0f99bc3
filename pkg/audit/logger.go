package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextExtractor extracts a string value from context.
// It returns (value, found) where found indicates if extraction succeeded.
type ContextExtractor func(context.Context) (string, bool)

// Logger writes audit events to a Storage.
type Logger struct {
	storage            Storage
	actorExtractor     ContextExtractor
	requestIDExtractor ContextExtractor
	now                func() time.Time
}

// Option configures Logger behavior during initialization
type Option func(*Logger)

// WithActorExtractor fills Event.Actor from context when no WithActor option is given.
func WithActorExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.actorExtractor = fn
	}
}

func WithRequestIDExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.requestIDExtractor = fn
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates a new audit logger
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}

	l := &Logger{
		storage: storage,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records a successful action
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) error {
	return l.store(ctx, action, ResultSuccess, nil, opts)
}

// LogError records a failed action
func (l *Logger) LogError(ctx context.Context, action string, err error, opts ...EventOption) error {
	return l.store(ctx, action, ResultError, err, opts)
}

func (l *Logger) store(ctx context.Context, action string, result Result, cause error, opts []EventOption) error {
	event := Event{
		ID:        uuid.NewString(),
		Action:    action,
		Result:    result,
		CreatedAt: l.now().UTC(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if l.actorExtractor != nil {
		if actor, ok := l.actorExtractor(ctx); ok {
			event.Actor = actor
		}
	}
	if l.requestIDExtractor != nil {
		if id, ok := l.requestIDExtractor(ctx); ok {
			event.RequestID = id
		}
	}

	for _, opt := range opts {
		opt(&event)
	}

	if err := event.Validate(); err != nil {
		return err
	}
	return l.storage.Store(ctx, event)
}
