package domain

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MaxIdempotencyKeyBytes is the exclusive upper bound on key length in bytes.
const MaxIdempotencyKeyBytes = 50

// IdempotencyKey is a caller-supplied token naming one logical publish attempt.
type IdempotencyKey string

// NewIdempotencyKey validates raw as an idempotency key.
// Length is counted in bytes, so multi-byte characters consume more than one unit.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: %w: key must not be empty", ErrInvalidInput, ErrInvalidIdempotencyKey)
	}
	if len(raw) >= MaxIdempotencyKeyBytes {
		return "", fmt.Errorf("%w: %w: key must be shorter than %d bytes", ErrInvalidInput, ErrInvalidIdempotencyKey, MaxIdempotencyKeyBytes)
	}
	return IdempotencyKey(raw), nil
}

func (k IdempotencyKey) String() string { return string(k) }

// IdempotencyState is the lifecycle position of an idempotency record.
type IdempotencyState string

const (
	IdempotencyInProgress IdempotencyState = "in_progress"
	IdempotencyCompleted  IdempotencyState = "completed"
)

// SavedResponse is the exact HTTP response persisted for replay.
type SavedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IdempotencyRecord is the stored state for one (owner, key) pair.
// Response is nil while the record is in progress.
type IdempotencyRecord struct {
	OwnerID   uuid.UUID
	Key       IdempotencyKey
	State     IdempotencyState
	Response  *SavedResponse
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GateOutcome enumerates the decisions the idempotency gate can take for a new attempt.
type GateOutcome int

const (
	// GateAdmitted means this attempt reserved the key and must perform the work.
	GateAdmitted GateOutcome = iota
	// GateReplay means a completed attempt exists; its saved response must be returned.
	GateReplay
	// GateConflict means another attempt holds the key and has not completed.
	GateConflict
)

func (o GateOutcome) String() string {
	switch o {
	case GateAdmitted:
		return "admitted"
	case GateReplay:
		return "replay"
	case GateConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// GateDecision is the result of beginning an attempt. Saved is set only for GateReplay.
type GateDecision struct {
	Outcome GateOutcome
	Saved   *SavedResponse
}
