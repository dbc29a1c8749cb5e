package db

import "errors"

var (
	// ErrNotFound is returned when a row does not exist or is not visible
	// to the requesting owner.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional update loses the race,
	// e.g. resolving an approval that is no longer pending.
	ErrConflict = errors.New("conflict")

	// ErrDuplicate is returned when creating a row that would violate a
	// uniqueness constraint, e.g. a second active connection for the same
	// (agent, provider, owner) triple.
	ErrDuplicate = errors.New("duplicate")
)
