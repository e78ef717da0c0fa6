package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/newsletter-service/internal/ports"
)

// WorkerConfig tunes the outbox relay loop. Zero values fall back to defaults.
type WorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// OutboxWorker relays newsletter events written by the publish flow to the broker.
type OutboxWorker struct {
	logger    *slog.Logger
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	cfg       WorkerConfig
	nowFn     func() time.Time
}

type batchStats struct {
	published    int
	failed       int
	deadLettered int
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, cfg WorkerConfig) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxWorker{
		logger: logger.With(
			"module", "events.outbox_worker",
			"layer", "adapter",
		),
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// Run processes batches until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch and relays it. It returns the number of
// records that reached the broker.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.cfg.BatchSize, claimToken, w.nowFn().Add(w.cfg.ClaimTTL))
	if err != nil {
		return 0, err
	}

	var stats batchStats
	for _, rec := range records {
		w.relay(ctx, rec, claimToken, &stats)
	}
	if len(records) > 0 {
		w.logger.InfoContext(ctx, "outbox batch processed",
			"operation", "outbox_process_once",
			"outcome", "success",
			"batch_size", len(records),
			"published_count", stats.published,
			"failed_count", stats.failed,
			"dead_lettered_count", stats.deadLettered,
		)
	}
	return stats.published, nil
}

func (w *OutboxWorker) relay(ctx context.Context, rec ports.OutboxRecord, claimToken string, stats *batchStats) {
	now := w.nowFn()
	if rec.RetryCount >= w.cfg.MaxRetries {
		stats.deadLettered++
		w.mark(ctx, rec, "mark_dead_lettered", w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, "retry threshold reached before publish", now))
		return
	}

	err := w.publisher.Publish(ctx, rec.EventType, rec.PartitionKey, rec.Payload)
	if err == nil {
		stats.published++
		w.mark(ctx, rec, "mark_published", w.outbox.MarkPublished(ctx, rec.OutboxID, claimToken, now))
		return
	}

	stats.failed++
	retries := rec.RetryCount + 1
	fields := []any{
		"operation", "publish_event",
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"payload_bytes", len(rec.Payload),
		"retry_count", retries,
		"error", err,
	}
	if retries >= w.cfg.MaxRetries {
		stats.deadLettered++
		w.logger.ErrorContext(ctx, "outbox message moved to dlq", fields...)
		w.mark(ctx, rec, "mark_dead_lettered", w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, err.Error(), now))
		return
	}
	w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled", fields...)
	w.mark(ctx, rec, "mark_failed", w.outbox.MarkFailed(ctx, rec.OutboxID, claimToken, err.Error(), now))
}

// mark logs bookkeeping failures. The claim expires on its own, so the
// record is picked up again by a later batch.
func (w *OutboxWorker) mark(ctx context.Context, rec ports.OutboxRecord, operation string, err error) {
	if err == nil {
		return
	}
	w.logger.WarnContext(ctx, "outbox bookkeeping failed",
		"operation", operation,
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"error", err,
	)
}
