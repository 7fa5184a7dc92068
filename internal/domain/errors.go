package domain

import "errors"

// Sentinel errors shared across services. Callers match them with errors.Is.
var (
	// ErrNotFound indicates a scratch, service, or catalogue entry is absent.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a duplicate scratch name.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput indicates a malformed name, unsafe identifier, or
	// missing required configuration.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTimeout indicates a health check never succeeded within its ceiling.
	ErrTimeout = errors.New("timeout")
	// ErrUnavailable indicates the runtime socket or database is unreachable.
	ErrUnavailable = errors.New("unavailable")
)
