package alert

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/mrz1836/postmark"
)

// PostmarkNotifier e-mails alerts to the operations recipients through Postmark.
type PostmarkNotifier struct {
	client *postmark.Client
	config Config
}

// NewPostmarkNotifier creates a Postmark-backed notifier.
func NewPostmarkNotifier(cfg Config) (*PostmarkNotifier, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidConfig)
	}

	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}, nil
}

// Notify sends one plain-text e-mail per alert.
func (n *PostmarkNotifier) Notify(ctx context.Context, a Alert) error {
	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.config.SenderEmail,
		To:       strings.Join(n.config.Recipients, ","),
		Subject:  Subject(a),
		Tag:      n.config.Tag,
		TextBody: Body(a),
	})
	if err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrDeliveryFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}

// Subject renders the e-mail subject line of an alert.
func Subject(a Alert) string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(a.Severity)), a.Kind, a.Summary)
}

// Body renders the plain-text e-mail body of an alert.
func Body(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Summary)
	fmt.Fprintf(&b, "kind: %s\n", a.Kind)
	fmt.Fprintf(&b, "severity: %s\n", a.Severity)
	if a.UserID != "" {
		fmt.Fprintf(&b, "user_id: %s\n", a.UserID)
	}
	if a.EventID != "" {
		fmt.Fprintf(&b, "event_id: %s\n", a.EventID)
	}
	if !a.OccurredAt.IsZero() {
		fmt.Fprintf(&b, "occurred_at: %s\n", a.OccurredAt.UTC().Format(time.RFC3339))
	}
	for _, k := range slices.Sorted(maps.Keys(a.Details)) {
		fmt.Fprintf(&b, "%s: %s\n", k, a.Details[k])
	}
	return b.String()
}

// FromConfig builds the notifier chain described by cfg.
// The log notifier is always included.
func FromConfig(cfg Config, log Notifier) (Notifier, error) {
	if !cfg.EmailEnabled() {
		return log, nil
	}
	pm, err := NewPostmarkNotifier(cfg)
	if err != nil {
		return nil, err
	}
	return Multi{log, pm}, nil
}
