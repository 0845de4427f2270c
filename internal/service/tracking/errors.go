package tracking

import "errors"

// Sentinel errors for the tracking service and its stores.
var (
	ErrNotFound         = errors.New("tracking record not found")
	ErrDuplicateID      = errors.New("tracking record id already exists")
	ErrStoreUnavailable = errors.New("tracking store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
)
