package subscriptions

import "errors"

var (
	ErrInvalidConfig        = errors.New("invalid subscription service configuration")
	ErrUnknownLedgerBackend = errors.New("unknown ledger backend")
	ErrUnauthorized         = errors.New("missing or invalid admin token")
	ErrPayloadTooLarge      = errors.New("webhook payload too large")
	ErrInvalidRequest       = errors.New("invalid request")
)
