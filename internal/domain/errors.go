package domain

import "errors"

// Sentinel errors surfaced at the package boundary (spec §7). Wrap with
// fmt.Errorf("...: %w", err) at call sites; check with errors.Is.
var (
	ErrShuttingDown   = errors.New("eventbus: shutting down")
	ErrInvalidPayload = errors.New("eventbus: payload is not JSON-serializable")
	ErrNotFound       = errors.New("eventbus: not found")
	ErrNotInDLQ       = errors.New("eventbus: event is not in the dead-letter queue")
	ErrHandlerTimeout = errors.New("eventbus: handler timed out")
)
