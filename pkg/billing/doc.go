// Package billing connects the subscription core to external billing providers.
//
// Stripe and Paddle adapters implement Provider: they verify webhook
// signatures with the providers' SDKs, normalise deliveries into
// subscription.Event, and answer reconciliation queries with
// subscription.ProviderSubscription. Provider statuses are folded onto the
// local status set (trialing counts as active; unpaid, paused and incomplete
// count as past_due).
//
// Catalog maps opaque price references to plan ids and billing periods and is
// loaded from YAML:
//
//	prices:
//	  - ref: price_pro_annual
//	    plan_id: pro
//	    billing_period: annual
//
// Basic usage:
//
//	provider, err := billing.NewStripeProvider(stripeCfg)
//	if err != nil {
//		return err
//	}
//	ev, err := provider.ParseWebhook(ctx, body, r.Header)
//	if errors.Is(err, billing.ErrInvalidSignature) {
//		// respond 400, do not process
//	}
package billing
