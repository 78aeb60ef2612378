package engine

import "errors"

// Dispatcher-level error values. Domain errors from the wallet, pet, and
// coupon packages pass through unwrapped so callers can match them.
var (
	ErrUnknownCareAction    = errors.New("unknown care action")
	ErrMissingEventID       = errors.New("missing event id")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
