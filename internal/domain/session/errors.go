package session

import "errors"

var (
	// ErrInvalidInput is returned for malformed tokens or identifiers; no store is touched
	ErrInvalidInput = errors.New("invalid session input")
	// ErrStoreUnavailable wraps failures of the fast or durable store
	ErrStoreUnavailable = errors.New("session store unavailable")
)
