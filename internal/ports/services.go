package ports

import (
	"context"
	"net/http"

	"github.com/viralforge/newsletter-service/internal/domain"
)

// EmailMessage is a single outbound email.
type EmailMessage struct {
	Recipient   domain.SubscriberEmail
	Subject     string
	HTMLContent string
	TextContent string
}

// EmailSender delivers one message per call. Implementations must not retry.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// IdentityResolver turns request credentials into an operator.
// It returns domain.ErrUnauthorized when credentials are missing or invalid.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (domain.Operator, error)
}

// EventPublisher relays outbox payloads to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, partitionKey string, payload []byte) error
}

// DeliveryMetrics receives fan-out and gate observations.
type DeliveryMetrics interface {
	ObserveGate(outcome domain.GateOutcome)
	ObserveSkipped()
	ObserveSent()
	ObserveDelivery(status domain.DeliveryStatus)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) ObserveGate(domain.GateOutcome)        {}
func (NoopMetrics) ObserveSkipped()                       {}
func (NoopMetrics) ObserveSent()                          {}
func (NoopMetrics) ObserveDelivery(domain.DeliveryStatus) {}
