package domain

import "errors"

// Error taxonomy for the engine. Provider-level failures are recovered
// locally by the workers; only invariant violations propagate up.
var (
	// ErrValidation marks records rejected at the store boundary.
	// Validation failures are never retried.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition indicates a state-machine violation. This is a
	// concurrency bug when seen in production and must never be swallowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned when an atomic claim loses the race.
	ErrConflict = errors.New("job already claimed")

	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrBadSignature rejects inbound push events that fail the
	// origin check. The event is discarded and reaches no job.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrOrphanResponse marks a reply whose conversation id matches no
	// job. Orphans are recorded for operator visibility, not dropped.
	ErrOrphanResponse = errors.New("no job matches conversation")
)
