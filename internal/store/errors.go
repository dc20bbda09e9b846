package store

import "errors"

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write lost to a concurrent
	// writer (version or status precondition no longer holds).
	ErrConflict = errors.New("conflicting concurrent modification")

	// ErrAlreadyExists is returned when a unique document already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoChange may be returned by a Mutate callback to skip the write.
	ErrNoChange = errors.New("no change")
)
