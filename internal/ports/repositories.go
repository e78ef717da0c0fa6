package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/newsletter-service/internal/domain"
)

// IdempotencyRepository persists one record per (owner, key) pair.
// Reserve must be a single atomic insert that reports an existing record as domain.ErrConflict.
type IdempotencyRepository interface {
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error)
	Reserve(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, at time.Time) error
	// Complete records the response only while the record is in progress.
	// It returns domain.ErrIdempotencyStateInvalid when nothing was updated.
	Complete(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, response domain.SavedResponse, at time.Time) error
	// Release deletes an in-progress record so the key can be used again.
	Release(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) error
}

// SubscriberRecord is a raw catalog row before address validation.
type SubscriberRecord struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Status       string
	SubscribedAt time.Time
}

// SubscriberCatalog is the read side of the subscriber list.
type SubscriberCatalog interface {
	// ListConfirmed returns every confirmed row in stable catalog order.
	ListConfirmed(ctx context.Context) ([]SubscriberRecord, error)
}

// Operator credential row used by Basic authentication.
type UserRecord struct {
	UserID       uuid.UUID
	Username     string
	PasswordHash string
}

type UserRepository interface {
	// GetByUsername returns domain.ErrNotFound when the user does not exist.
	GetByUsername(ctx context.Context, username string) (UserRecord, error)
}

// OutboxEvent is an integration event captured alongside a completed publish.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord is the stored representation of an outbox event with relay bookkeeping.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository stores events until the worker relays them to the broker.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
