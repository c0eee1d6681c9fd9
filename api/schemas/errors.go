// File: api/schemas/errors.go
package schemas

import "errors"

// Sentinel errors shared across the perception and action pipelines.
// Callers match on these with errors.Is; wrapping adds the failing
// request/operation context.
var (
	// ErrDetectionUnavailable means the OCR engine is not installed or
	// failed to initialize. Callers treat this as "no elements detected",
	// never as fatal.
	ErrDetectionUnavailable = errors.New("element detection unavailable")

	// ErrClaimRejected is returned when the vision endpoint refuses to
	// issue a session key.
	ErrClaimRejected = errors.New("vision session claim rejected")

	// ErrRateLimited is returned when an analyze call is refused either by
	// the local limiter or by a server-side 429. The caller backs off; no
	// automatic retry is performed.
	ErrRateLimited = errors.New("vision analyze rate limited")

	// ErrUnreachable is returned on transport-level failure talking to the
	// vision endpoint.
	ErrUnreachable = errors.New("vision endpoint unreachable")

	// ErrInvalidAction is returned when a request fails schema validation.
	// No side effect has occurred.
	ErrInvalidAction = errors.New("invalid action request")

	// ErrActionInProgress is returned when a submit arrives while another
	// action holds the in-progress flag. Actions are never queued.
	ErrActionInProgress = errors.New("another action is in progress")

	// ErrExecutionUnreachable is returned when the execution backend
	// connection fails. The caller decides whether to resubmit.
	ErrExecutionUnreachable = errors.New("execution backend unreachable")
)
