package pet

import "errors"

// Domain-level error values returned by the progression service.
var (
	ErrUnknownPet           = errors.New("unknown pet")
	ErrNotOwned             = errors.New("pet not owned by user")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
