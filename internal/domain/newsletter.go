package domain

import (
	"github.com/google/uuid"
)

// NewsletterIssue is the content delivered to every confirmed subscriber.
type NewsletterIssue struct {
	Title       string `json:"title" validate:"required"`
	HTMLContent string `json:"html_content" validate:"required"`
	TextContent string `json:"text_content" validate:"required"`
}

// ConfirmedSubscriber is a catalog row that passed email validation.
type ConfirmedSubscriber struct {
	Email SubscriberEmail
}

// SubscriberEntry is one catalog row: either a parsed subscriber or the reason it failed parsing.
// Exactly one of Subscriber and Err is meaningful.
type SubscriberEntry struct {
	RowID      uuid.UUID
	Subscriber ConfirmedSubscriber
	Err        error
}

// Valid reports whether the row parsed into a usable subscriber.
func (e SubscriberEntry) Valid() bool { return e.Err == nil }

// DeliveryStatus is the terminal state of one fan-out run.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryAborted DeliveryStatus = "aborted"
)

// SkippedSubscriber records a row that was not attempted because its stored address was invalid.
type SkippedSubscriber struct {
	RowID  uuid.UUID
	Reason string
}

// DeliveryOutcome summarizes a fan-out run. Reason is set only when Status is DeliveryAborted.
type DeliveryOutcome struct {
	Status  DeliveryStatus
	Reason  error
	Sent    int
	Skipped []SkippedSubscriber
}

// Succeeded reports whether the run reached every valid subscriber.
func (o DeliveryOutcome) Succeeded() bool { return o.Status == DeliverySuccess }

// Operator is the authenticated principal that triggers a publish.
type Operator struct {
	UserID   uuid.UUID
	Username string
}
