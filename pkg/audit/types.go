package audit

import (
	"context"
	"fmt"
	"time"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// Event is a single audit log entry.
type Event struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Result     Result         `json:"result"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks if the event has all required fields
func (e *Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrEventValidation)
	}
	if e.Actor == "" {
		return fmt.Errorf("%w: actor is required", ErrEventValidation)
	}
	return nil
}

// EventOption applies configuration to an Event during creation.
type EventOption func(*Event)

// Storage persists and queries audit events.
type Storage interface {
	Store(ctx context.Context, event Event) error
	Query(ctx context.Context, criteria Criteria) ([]Event, error)
}

// Criteria selects audit events. Zero-valued fields do not filter.
// Results are ordered newest first.
type Criteria struct {
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Matches reports whether e satisfies the criteria, ignoring Limit and Offset.
func (c Criteria) Matches(e Event) bool {
	switch {
	case c.Actor != "" && e.Actor != c.Actor:
		return false
	case c.Action != "" && e.Action != c.Action:
		return false
	case c.Resource != "" && e.Resource != c.Resource:
		return false
	case c.ResourceID != "" && e.ResourceID != c.ResourceID:
		return false
	case !c.Since.IsZero() && e.CreatedAt.Before(c.Since):
		return false
	case !c.Until.IsZero() && !e.CreatedAt.Before(c.Until):
		return false
	}
	return true
}
