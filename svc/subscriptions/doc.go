// Package subscriptions wires the subscription reconciliation core to its
// infrastructure: MongoDB and Redis storage adapters, the billing webhook
// endpoint, the bearer-protected admin API, Prometheus collectors and the
// periodic reconciliation sweeper.
//
// The HTTP surface is mounted through Router:
//
//	POST  /webhooks/{provider}
//	GET   /admin/subscriptions
//	GET   /admin/users/{userID}/subscription
//	PATCH /admin/users/{userID}/subscription
//	POST  /admin/users/{userID}/reconcile
//	POST  /admin/users/{userID}/usage/recompute
//	POST  /admin/users/{userID}/usage/reset
//	GET   /admin/users/{userID}/audit
//	GET   /healthz
//	GET   /metrics
//
// Webhook responses follow the provider redelivery contract: deliveries that
// fail verification get 400, applied, duplicate and permanently rejected
// events get 200, and anything that may succeed later gets 503.
package subscriptions
