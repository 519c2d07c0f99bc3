package billing

import "errors"

var (
	ErrInvalidSignature     = errors.New("billing: invalid webhook signature")
	ErrMalformedWebhook     = errors.New("billing: malformed webhook payload")
	ErrMissingAPIKey        = errors.New("billing: API key is required")
	ErrMissingWebhookSecret = errors.New("billing: webhook secret is required")
	ErrInvalidEnvironment   = errors.New("billing: invalid provider environment")
	ErrUnknownProvider      = errors.New("billing: unknown billing provider")

	ErrFailedToReadCatalog  = errors.New("billing: failed to read price catalog")
	ErrFailedToParseCatalog = errors.New("billing: failed to parse price catalog")
	ErrInvalidCatalogEntry  = errors.New("billing: invalid price catalog entry")
)
