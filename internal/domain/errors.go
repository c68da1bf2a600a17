package domain

import "errors"

// Sentinel errors for domain validation.
var (
	ErrRouteIDRequired       = errors.New("route id is required")
	ErrRouteVerticalRequired = errors.New("route vertical is required")
	ErrNegativePrice         = errors.New("route price must be >= 0")
	ErrNegativeCap           = errors.New("route caps must be >= 0")
	ErrInvalidTransition     = errors.New("invalid lead status transition")
)
