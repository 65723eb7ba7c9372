package jobs

import "errors"

var (
	// ErrInvalidInput rejects a submission before any job record exists.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound means the job id is unknown to both cache and durable store.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyTerminal rejects cancellation of a finished job.
	ErrAlreadyTerminal = errors.New("job already terminal")
	// ErrSkipTarget is returned by a stage to mark its target skipped.
	// Skipped targets do not block job completion.
	ErrSkipTarget = errors.New("target skipped")
)
