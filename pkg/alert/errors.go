package alert

import "errors"

var (
	ErrInvalidConfig  = errors.New("invalid alert configuration")
	ErrDeliveryFailed = errors.New("alert delivery failed")
)
