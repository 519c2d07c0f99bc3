package subscriptions

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alipala/language-tutor-sub001/pkg/audit"
	"github.com/alipala/language-tutor-sub001/pkg/binder"
	"github.com/alipala/language-tutor-sub001/pkg/logger"
	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// RecordReader lists and reads subscription records.
type RecordReader interface {
	Get(ctx context.Context, userID string) (*subscription.Record, error)
	Find(ctx context.Context, filter subscription.Filter) (*subscription.Page, error)
}

// UserReconciler reconciles a single user against the billing provider.
type UserReconciler interface {
	Reconcile(ctx context.Context, userID string) (*subscription.Report, error)
}

// UsageRecomputer recomputes usage counters from learning progress.
type UsageRecomputer interface {
	Recompute(ctx context.Context, userID string) (*subscription.UsageReport, error)
}

// Overrider applies audited manual corrections.
type Overrider interface {
	ApplyOverride(ctx context.Context, userID string, ov subscription.Override) (*subscription.Record, error)
	ResetUsage(ctx context.Context, userID string, counter subscription.Counter, actor, reason string) (*subscription.Record, error)
}

// AuditHistory returns the audit trail of a resource.
type AuditHistory interface {
	History(ctx context.Context, resource, id string, limit int) ([]audit.Event, error)
}

// AdminServices are the collaborators of the admin API.
type AdminServices struct {
	Records    RecordReader
	Reconciler UserReconciler
	Usage      UsageRecomputer
	Override   Overrider
	Audit      AuditHistory // optional
	Token      string
}

// AdminHandler serves the operator API. Every route requires the bearer token.
type AdminHandler struct {
	svc  AdminServices
	opts handlerOptions
}

// NewAdminHandler creates the admin API.
// Panics if a required collaborator or the token is missing.
func NewAdminHandler(svc AdminServices, opts ...HandlerOption) *AdminHandler {
	switch {
	case svc.Records == nil:
		panic("subscriptions: RecordReader is required")
	case svc.Reconciler == nil:
		panic("subscriptions: UserReconciler is required")
	case svc.Usage == nil:
		panic("subscriptions: UsageRecomputer is required")
	case svc.Override == nil:
		panic("subscriptions: Overrider is required")
	case strings.TrimSpace(svc.Token) == "":
		panic("subscriptions: admin token is required")
	}
	return &AdminHandler{svc: svc, opts: buildHandlerOptions(opts)}
}

// Handle returns the admin routes.
func (h *AdminHandler) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(h.authenticate)

	log := h.opts.logger
	r.Get("/subscriptions", handle(log, h.list))
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/subscription", handle(log, h.get))
		r.Patch("/subscription", handle(log, h.override))
		r.Post("/reconcile", handle(log, h.reconcile))
		r.Post("/usage/recompute", handle(log, h.recompute))
		r.Post("/usage/reset", handle(log, h.resetUsage))
		if h.svc.Audit != nil {
			r.Get("/audit", handle(log, h.history))
		}
	})
	return r
}

func (h *AdminHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.svc.Token)) != 1 {
			h.opts.logger.WarnContext(r.Context(), "admin request rejected",
				logger.Error(ErrUnauthorized),
				slog.String("path", r.URL.Path),
			)
			_ = JSONError(ErrUnauthorized).Render(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) list(r *http.Request) Response {
	var req ListRequest
	if err := binder.Query()(r, &req); err != nil {
		return JSONError(err)
	}
	if err := validate.Struct(req); err != nil {
		return JSONError(err)
	}

	f := req.filter()
	page, err := h.svc.Records.Find(r.Context(), f)
	if err != nil {
		return h.fail(r, "list subscriptions", err)
	}
	records := make([]*RecordResponse, 0, len(page.Records))
	for _, rec := range page.Records {
		records = append(records, recordResponse(rec))
	}
	return JSON(records, WithJSONMeta(map[string]any{
		"total": page.Total,
		"skip":  f.Skip,
		"limit": f.Limit,
	}))
}

func (h *AdminHandler) get(r *http.Request) Response {
	rec, err := h.svc.Records.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		return h.fail(r, "get subscription", err)
	}
	return JSON(recordResponse(rec))
}

func (h *AdminHandler) override(r *http.Request) Response {
	var req OverrideRequest
	if err := binder.JSON(h.opts.maxBody)(r, &req); err != nil {
		return JSONError(err)
	}
	if err := validate.Struct(req); err != nil {
		return JSONError(err)
	}

	rec, err := h.svc.Override.ApplyOverride(r.Context(), chi.URLParam(r, "userID"), req.override())
	h.opts.metrics.observeOverride(subscription.AuditActionOverride, err)
	if err != nil {
		return h.fail(r, "apply override", err)
	}
	return JSON(recordResponse(rec))
}

func (h *AdminHandler) resetUsage(r *http.Request) Response {
	var req ResetUsageRequest
	if err := binder.JSON(h.opts.maxBody)(r, &req); err != nil {
		return JSONError(err)
	}
	if err := validate.Struct(req); err != nil {
		return JSONError(err)
	}

	rec, err := h.svc.Override.ResetUsage(r.Context(), chi.URLParam(r, "userID"),
		subscription.Counter(req.Counter), req.Actor, req.Reason)
	h.opts.metrics.observeOverride(subscription.AuditActionUsageReset, err)
	if err != nil {
		return h.fail(r, "reset usage", err)
	}
	return JSON(recordResponse(rec))
}

func (h *AdminHandler) reconcile(r *http.Request) Response {
	report, err := h.svc.Reconciler.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		return h.fail(r, "reconcile", err)
	}
	return JSON(ReportResponse{
		UserID:      report.UserID,
		InSync:      report.InSync(),
		DriftFields: report.DriftFields,
		Corrected:   report.Corrected,
		Rejected:    report.Rejected,
		Reason:      report.Reason,
		Record:      recordResponse(report.Record),
	})
}

func (h *AdminHandler) recompute(r *http.Request) Response {
	report, err := h.svc.Usage.Recompute(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		return h.fail(r, "recompute usage", err)
	}
	return JSON(UsageResponse{
		UserID:        report.UserID,
		Stored:        report.Stored,
		Authoritative: report.Authoritative,
		Delta:         report.Delta,
		Corrected:     report.Corrected,
	})
}

func (h *AdminHandler) history(r *http.Request) Response {
	var req AuditRequest
	if err := binder.Query()(r, &req); err != nil {
		return JSONError(err)
	}
	if err := validate.Struct(req); err != nil {
		return JSONError(err)
	}

	events, err := h.svc.Audit.History(r.Context(), subscription.AuditResourceSubscription, chi.URLParam(r, "userID"), req.Limit)
	if err != nil {
		h.opts.logger.ErrorContext(r.Context(), "failed to read audit history", logger.Error(err))
		return JSONError(subscription.ErrStoreUnavailable)
	}
	return JSON(events)
}

// fail logs infrastructure failures and renders err. Rule violations and
// lookups of unknown users are client errors and are not logged as errors.
func (h *AdminHandler) fail(r *http.Request, op string, err error) Response {
	if subscription.IsTransient(err) {
		h.opts.logger.ErrorContext(r.Context(), "admin "+op+" failed",
			logger.UserID(chi.URLParam(r, "userID")), logger.Error(err))
	}
	return JSONError(err)
}
