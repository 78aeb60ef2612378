package coupon

import "errors"

// Domain-level error values returned by the issuer.
var (
	ErrUnknownCatalogType   = errors.New("unknown catalog type")
	ErrCatalogTypeNotActive = errors.New("catalog type outside validity window")
	ErrUnknownInstance      = errors.New("unknown instance")
	ErrUnknownToken         = errors.New("unknown token")
	ErrNotOwned             = errors.New("instance not owned by user")
	ErrAlreadyUsed          = errors.New("instance already used")
	ErrTokenExpired         = errors.New("token expired")
	ErrCodeCollision        = errors.New("code collision")
	ErrEventReplayed        = errors.New("exchange event already applied")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
