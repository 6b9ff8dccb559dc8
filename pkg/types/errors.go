package types

import "errors"

// Size-related errors
var (
	// ErrInvalidSize is returned when a size string or value cannot be turned into a byte count
	ErrInvalidSize = errors.New("invalid size")

	// ErrUnknownUnit is returned when a size unit suffix is not recognised
	ErrUnknownUnit = errors.New("unknown size unit")
)
