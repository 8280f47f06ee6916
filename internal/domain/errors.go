package domain

import "errors"

// Sentinel errors for the messaging core. Services wrap these with
// fmt.Errorf("...: %w", err) and callers match them with errors.Is.
var (
	// ErrNotFound means a referenced message, parent or identity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the actor lacks rights over the target
	// (not the sender, not the receiver).
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument means the input is rejected outright:
	// empty body, no-op edit, oversized page size.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict means a concurrent edit won the version race.
	ErrConflict = errors.New("conflict")

	// ErrTimedOut means the caller's deadline expired before the
	// operation completed.
	ErrTimedOut = errors.New("timed out")

	// ErrUnavailable means a storage or cache backend is unreachable.
	ErrUnavailable = errors.New("unavailable")
)
