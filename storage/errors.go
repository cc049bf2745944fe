package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a page or graph does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStatus is returned for a status transition the store does
	// not allow.
	ErrInvalidStatus = errors.New("invalid page status")
)
