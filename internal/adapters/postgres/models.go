package postgres

import (
	"time"

	"github.com/google/uuid"
)

type userModel struct {
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Username     string    `gorm:"column:username;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (userModel) TableName() string { return "users" }

type subscriptionModel struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex"`
	Name         string    `gorm:"column:name"`
	Status       string    `gorm:"column:status"`
	SubscribedAt time.Time `gorm:"column:subscribed_at"`
}

func (subscriptionModel) TableName() string { return "subscriptions" }

type newsletterIdempotencyModel struct {
	OwnerID         uuid.UUID `gorm:"column:owner_id;type:uuid;primaryKey"`
	IdempotencyKey  string    `gorm:"column:idempotency_key;primaryKey"`
	State           string    `gorm:"column:state"`
	ResponseStatus  *int      `gorm:"column:response_status"`
	ResponseHeaders *string   `gorm:"column:response_headers;type:jsonb"`
	ResponseBody    []byte    `gorm:"column:response_body;type:bytea"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (newsletterIdempotencyModel) TableName() string { return "newsletter_idempotency" }

type newsletterOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	FirstSeenAt    time.Time  `gorm:"column:first_seen_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (newsletterOutboxModel) TableName() string { return "newsletter_outbox" }
