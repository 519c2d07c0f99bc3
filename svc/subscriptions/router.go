package subscriptions

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alipala/language-tutor-sub001/pkg/requestid"
)

// Mountable is a handler group that can be mounted under a path prefix.
type Mountable interface {
	Handle() http.Handler
}

// RouterOptions configures which surfaces the service exposes.
// Each one is optional and only mounted if provided.
type RouterOptions struct {
	Webhooks Mountable
	Admin    Mountable
	Health   http.Handler
	Metrics  http.Handler
}

// Router creates the service router.
//
// Example:
//
//	r := subscriptions.Router(subscriptions.RouterOptions{
//	    Webhooks: subscriptions.NewWebhookHandler(processor, parsers),
//	    Admin:    subscriptions.NewAdminHandler(services),
//	    Health:   httpserver.HealthCheckHandler(log, time.Second, checks...),
//	    Metrics:  promhttp.Handler(),
//	})
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	if opts.Health != nil {
		r.Method(http.MethodGet, "/healthz", opts.Health)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Webhooks != nil {
		r.Mount("/webhooks", opts.Webhooks.Handle())
	}
	if opts.Admin != nil {
		r.Mount("/admin", opts.Admin.Handle())
	}
	return r
}
