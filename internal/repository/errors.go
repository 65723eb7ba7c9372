package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist for the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a state-guarded update matched no rows,
	// e.g. cancelling a job that is already terminal.
	ErrConflict = errors.New("conflicting state")
)
