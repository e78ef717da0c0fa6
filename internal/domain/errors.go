package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput marks caller mistakes that map to 400/VALIDATION_ERROR.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidIdempotencyKey is returned for empty or oversized idempotency keys.
	// It wraps ErrInvalidInput so adapters can treat it as a validation failure.
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	// ErrInvalidEmail is returned when a stored or configured address fails parsing.
	// Per-subscriber occurrences are logged and skipped, never surfaced to the operator.
	ErrInvalidEmail = errors.New("invalid subscriber email")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is reported by stores when an insert hits an existing unique key.
	ErrConflict = errors.New("conflict")
	// ErrIdempotencyInProgress means another attempt holds the same key and has not finished.
	ErrIdempotencyInProgress = errors.New("idempotency key in progress")
	// ErrIdempotencyStateInvalid is returned when completing a record that is not in progress.
	ErrIdempotencyStateInvalid = errors.New("idempotency record not in progress")
	// ErrDeliveryAborted wraps the first transport failure of a fan-out.
	ErrDeliveryAborted = errors.New("newsletter delivery aborted")
)
