package domain

import "errors"

var (
	// ErrNoCapacity means no available segment exists in the requested scope.
	// This is routine capacity management, not an operational failure.
	ErrNoCapacity = errors.New("no available segment in scope")

	ErrSegmentNotFound   = errors.New("segment not found")
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrTemporarilyUnavailable marks intermittent backend failures
	// (timeouts, connection errors, throttling). Calls may be retried.
	ErrTemporarilyUnavailable = errors.New("inventory temporarily unavailable")

	ErrConflict = errors.New("inventory conflict")
)
