package subscriptions

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alipala/language-tutor-sub001/pkg/billing"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// EventProcessor applies normalised billing events.
type EventProcessor interface {
	Process(ctx context.Context, ev subscription.Event) (subscription.Outcome, error)
}

// WebhookParser verifies and normalises deliveries of one billing provider.
type WebhookParser interface {
	Name() string
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (subscription.Event, error)
}

// WebhookHandler receives billing webhooks on POST /{provider}.
//
// Status codes tell the provider whether to redeliver:
//   - 400 for deliveries that fail verification (never retried successfully)
//   - 200 for applied, duplicate and permanently rejected events
//   - 503 for infrastructure failures and lost compare-and-set races
type WebhookHandler struct {
	processor EventProcessor
	parsers   map[string]WebhookParser
	opts      handlerOptions
}

// NewWebhookHandler creates the webhook endpoint.
// Panics if processor is nil or no parser is given.
func NewWebhookHandler(processor EventProcessor, parsers []WebhookParser, opts ...HandlerOption) *WebhookHandler {
	if processor == nil {
		panic("subscriptions: EventProcessor is required")
	}
	if len(parsers) == 0 {
		panic("subscriptions: at least one WebhookParser is required")
	}
	h := &WebhookHandler{
		processor: processor,
		parsers:   make(map[string]WebhookParser, len(parsers)),
		opts:      buildHandlerOptions(opts),
	}
	for _, p := range parsers {
		h.parsers[p.Name()] = p
	}
	return h
}

// Handle returns the webhook routes.
func (h *WebhookHandler) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/{provider}", h.receive)
	return r
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	started := h.opts.now()
	provider := chi.URLParam(r, "provider")

	resp := h.process(r, provider)
	status := http.StatusOK
	if sc, ok := resp.(interface{ StatusCode() int }); ok {
		status = sc.StatusCode()
	}
	h.opts.metrics.observeWebhook(provider, status, started)

	if err := resp.Render(w, r); err != nil {
		h.opts.logger.ErrorContext(r.Context(), "failed to render webhook response", logger.Error(err))
	}
}

func (h *WebhookHandler) process(r *http.Request, provider string) Response {
	ctx := r.Context()
	log := h.opts.logger.With(logger.Provider(provider))

	parser, ok := h.parsers[provider]
	if !ok {
		return JSONError(billing.ErrUnknownProvider)
	}

	payload, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, h.opts.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.WarnContext(ctx, "webhook payload too large", logger.Error(err))
			return JSONError(ErrPayloadTooLarge)
		}
		return JSONError(errors.Join(ErrInvalidRequest, err))
	}

	ev, err := parser.ParseWebhook(ctx, payload, r.Header)
	if err != nil {
		log.WarnContext(ctx, "webhook delivery rejected", logger.Error(err))
		if !errors.Is(err, billing.ErrInvalidSignature) && !errors.Is(err, billing.ErrMalformedWebhook) {
			err = errors.Join(billing.ErrMalformedWebhook, err)
		}
		return JSONError(err)
	}
	if ev.Provider == "" {
		ev.Provider = provider
	}
	ev.ReceivedAt = h.opts.now().UTC()

	out, err := h.processor.Process(ctx, ev)
	if err != nil {
		return JSONError(err, WithJSONStatus(http.StatusServiceUnavailable))
	}

	body := WebhookResponse{
		EventID: ev.ID,
		Result:  string(out.Result),
		Reason:  string(out.Reason),
	}
	if out.NeedsRedelivery() {
		return JSON(body, WithJSONStatus(http.StatusServiceUnavailable))
	}
	return JSON(body)
}
