package subscriptions

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/alipala/language-tutor-sub001/pkg/billing"
	"github.com/alipala/language-tutor-sub001/pkg/binder"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// Response renders itself to an http.ResponseWriter.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// JSONResponse is the standard JSON response envelope.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

// StatusCode returns the HTTP status the response renders with.
func (j jsonResponse) StatusCode() int {
	return j.status
}

func (j jsonResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures a JSON response.
type JSONOption func(*jsonResponse)

// WithJSONStatus sets a custom HTTP status code.
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithJSONMeta adds metadata to the response.
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		r.body.Meta = meta
	}
}

// JSON creates a 200 response carrying v as data.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: JSONResponse{Data: v}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError creates an error response. The status is derived from err
// unless overridden by an option.
func JSONError(err error, opts ...JSONOption) Response {
	r := &jsonResponse{}
	r.body.Error = errorToDetail(err, &r.status)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// errorToDetail maps domain errors to an ErrorDetail and HTTP status.
// Unknown errors become 500 without exposing their message.
func errorToDetail(err error, status *int) *ErrorDetail {
	var verr *subscription.ValidationError
	if errors.As(err, &verr) {
		*status = http.StatusUnprocessableEntity
		detail := &ErrorDetail{
			Code:    "validation_error",
			Message: "validation failed",
			Details: make(map[string][]string, len(verr.Fields)),
		}
		for field, msg := range verr.Fields {
			detail.Details[field] = []string{msg}
		}
		return detail
	}

	var ferrs validator.ValidationErrors
	if errors.As(err, &ferrs) {
		*status = http.StatusUnprocessableEntity
		detail := &ErrorDetail{
			Code:    "validation_error",
			Message: "validation failed",
			Details: make(map[string][]string, len(ferrs)),
		}
		for _, fe := range ferrs {
			detail.Details[fe.Field()] = append(detail.Details[fe.Field()], ruleMessage(fe))
		}
		return detail
	}

	code := "internal_error"
	message := http.StatusText(http.StatusInternalServerError)
	*status = http.StatusInternalServerError

	switch {
	case errors.Is(err, ErrUnauthorized):
		*status, code, message = http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.Is(err, binder.ErrUnsupportedMediaType):
		*status, code, message = http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error()
	case errors.Is(err, binder.ErrBodyTooLarge):
		*status, code, message = http.StatusRequestEntityTooLarge, "payload_too_large", err.Error()
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, binder.ErrFailedToParseJSON),
		errors.Is(err, binder.ErrFailedToParseQuery),
		errors.Is(err, binder.ErrMissingContentType),
		errors.Is(err, subscription.ErrMissingUserID),
		errors.Is(err, subscription.ErrInvalidCounter):
		*status, code, message = http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, billing.ErrInvalidSignature), errors.Is(err, billing.ErrMalformedWebhook):
		*status, code, message = http.StatusBadRequest, "invalid_webhook", "invalid webhook signature or payload"
	case errors.Is(err, ErrPayloadTooLarge):
		*status, code, message = http.StatusRequestEntityTooLarge, "payload_too_large", err.Error()
	case errors.Is(err, billing.ErrUnknownProvider):
		*status, code, message = http.StatusNotFound, "unknown_provider", err.Error()
	case errors.Is(err, subscription.ErrRecordNotFound):
		*status, code, message = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, subscription.ErrVersionConflict):
		*status, code, message = http.StatusConflict, "conflict", err.Error()
	case subscription.IsTransient(err):
		*status, code = http.StatusServiceUnavailable, "unavailable"
		message = http.StatusText(http.StatusServiceUnavailable)
	}
	return &ErrorDetail{Code: code, Message: message}
}

// handle adapts a Response-returning function to http.HandlerFunc.
func handle(log *slog.Logger, fn func(r *http.Request) Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := fn(r)
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := resp.Render(w, r); err != nil {
			log.ErrorContext(r.Context(), "failed to render response", logger.Error(err))
		}
	}
}
