package models

import "errors"

// Domain errors shared across the store, matching, and lifecycle
// layers. Handlers classify with errors.Is and map to HTTP statuses.
var (
	// ErrInvalidDuration rejects non-positive requested durations at
	// creation. Nothing is persisted.
	ErrInvalidDuration = errors.New("requested duration must be positive")

	// ErrAlreadyClaimed is the normal losing outcome of a claim race.
	// It is surfaced to the caller, never logged as a failure.
	ErrAlreadyClaimed = errors.New("mission already claimed")

	// ErrNotFound means the mission does not exist.
	ErrNotFound = errors.New("mission not found")

	// ErrInvalidTransition means the event is not valid in the
	// mission's current state. The mission is left unchanged.
	ErrInvalidTransition = errors.New("invalid mission transition")

	// ErrUnauthorized means the caller is not the party allowed to
	// perform this transition.
	ErrUnauthorized = errors.New("caller may not perform this transition")
)
