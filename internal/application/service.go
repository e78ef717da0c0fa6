package application

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/viralforge/newsletter-service/internal/ports"
)

// Dependencies groups the collaborators required by Service.
type Dependencies struct {
	Idempotency ports.IdempotencyRepository
	Catalog     ports.SubscriberCatalog
	Sender      ports.EmailSender
	Outbox      ports.OutboxRepository
	Metrics     ports.DeliveryMetrics
	Logger      *slog.Logger

	// DispatchConcurrency bounds parallel sends; 1 keeps catalog order.
	DispatchConcurrency int
}

// Service orchestrates newsletter publishing.
type Service struct {
	gate       *IdempotencyGate
	dispatcher *Dispatcher
	outbox     ports.OutboxRepository
	metrics    ports.DeliveryMetrics
	logger     *slog.Logger
	validate   *validator.Validate
	nowFn      func() time.Time
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	nowFn := func() time.Time { return time.Now().UTC() }
	return &Service{
		gate:       NewIdempotencyGate(deps.Idempotency, nowFn),
		dispatcher: NewDispatcher(deps.Catalog, deps.Sender, metrics, logger, deps.DispatchConcurrency),
		outbox:     deps.Outbox,
		metrics:    metrics,
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		nowFn:      nowFn,
	}
}
