package store

import "errors"

// Error kinds returned by store operations. Callers test them with errors.Is;
// every returned error wraps exactly one of them (or is an I/O failure).
var (
	// ErrValidation means the input was malformed. No state changed.
	ErrValidation = errors.New("validation error")

	// ErrNotFound means the addressed record does not exist (or, for progress
	// reports, is no longer active).
	ErrNotFound = errors.New("not found")

	// ErrConflict means applying the request would break an invariant, such as
	// finalizing a terminal job or deleting something an active job references.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState means the record is in a status that forbids the request.
	ErrInvalidState = errors.New("invalid state")
)
