package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
	"golang.org/x/sync/errgroup"
)

// Dispatcher fans a newsletter issue out to every confirmed subscriber.
// Rows with invalid stored addresses are skipped; the first transport failure
// stops the run.
type Dispatcher struct {
	catalog     ports.SubscriberCatalog
	sender      ports.EmailSender
	metrics     ports.DeliveryMetrics
	logger      *slog.Logger
	concurrency int
}

// NewDispatcher builds a dispatcher. A concurrency of 1 or less sends sequentially in catalog order.
func NewDispatcher(catalog ports.SubscriberCatalog, sender ports.EmailSender, metrics ports.DeliveryMetrics, logger *slog.Logger, concurrency int) *Dispatcher {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		catalog:     catalog,
		sender:      sender,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Run delivers issue and reports the outcome. It never returns an error;
// failures are folded into an aborted outcome.
func (d *Dispatcher) Run(ctx context.Context, issue domain.NewsletterIssue) domain.DeliveryOutcome {
	entries, err := d.loadEntries(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "subscriber catalog fetch failed",
			"module", "application.dispatcher",
			"layer", "application",
			"operation", "list_confirmed_subscribers",
			"outcome", "failure",
			"error", err,
		)
		return d.finish(domain.DeliveryOutcome{Status: domain.DeliveryAborted, Reason: fmt.Errorf("fetch confirmed subscribers: %w", err)})
	}

	outcome := domain.DeliveryOutcome{Status: domain.DeliverySuccess}
	valid := make([]domain.ConfirmedSubscriber, 0, len(entries))
	for _, entry := range entries {
		if !entry.Valid() {
			d.logger.WarnContext(ctx, "skipping a confirmed subscriber with invalid stored contact details",
				"module", "application.dispatcher",
				"layer", "application",
				"operation", "parse_subscriber",
				"outcome", "skipped",
				"subscriber_id", entry.RowID,
				"error", entry.Err,
			)
			d.metrics.ObserveSkipped()
			outcome.Skipped = append(outcome.Skipped, domain.SkippedSubscriber{RowID: entry.RowID, Reason: entry.Err.Error()})
			continue
		}
		valid = append(valid, entry.Subscriber)
	}

	var sent int
	if d.concurrency == 1 {
		sent, err = d.sendSequential(ctx, issue, valid)
	} else {
		sent, err = d.sendBounded(ctx, issue, valid)
	}
	outcome.Sent = sent
	if err != nil {
		outcome.Status = domain.DeliveryAborted
		outcome.Reason = err
	}
	return d.finish(outcome)
}

func (d *Dispatcher) loadEntries(ctx context.Context) ([]domain.SubscriberEntry, error) {
	rows, err := d.catalog.ListConfirmed(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.SubscriberEntry, 0, len(rows))
	for _, row := range rows {
		email, parseErr := domain.ParseSubscriberEmail(row.Email)
		entries = append(entries, domain.SubscriberEntry{
			RowID:      row.ID,
			Subscriber: domain.ConfirmedSubscriber{Email: email},
			Err:        parseErr,
		})
	}
	return entries, nil
}

func (d *Dispatcher) sendSequential(ctx context.Context, issue domain.NewsletterIssue, subscribers []domain.ConfirmedSubscriber) (int, error) {
	sent := 0
	for _, sub := range subscribers {
		if err := d.send(ctx, issue, sub); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// sendBounded runs up to concurrency sends at once. After the first failure no
// new sends start; sends already in flight are allowed to finish.
func (d *Dispatcher) sendBounded(ctx context.Context, issue domain.NewsletterIssue, subscribers []domain.ConfirmedSubscriber) (int, error) {
	var (
		g       errgroup.Group
		stopped atomic.Bool
		sent    atomic.Int64
	)
	g.SetLimit(d.concurrency)
	for _, sub := range subscribers {
		if stopped.Load() {
			break
		}
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			if err := d.send(ctx, issue, sub); err != nil {
				stopped.Store(true)
				return err
			}
			sent.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(sent.Load()), err
}

func (d *Dispatcher) send(ctx context.Context, issue domain.NewsletterIssue, sub domain.ConfirmedSubscriber) error {
	err := d.sender.Send(ctx, ports.EmailMessage{
		Recipient:   sub.Email,
		Subject:     issue.Title,
		HTMLContent: issue.HTMLContent,
		TextContent: issue.TextContent,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "newsletter send failed",
			"module", "application.dispatcher",
			"layer", "application",
			"operation", "send_newsletter_email",
			"outcome", "failure",
			"recipient", sub.Email.String(),
			"error", err,
		)
		return fmt.Errorf("failed to send newsletter issue to %s: %w", sub.Email, err)
	}
	d.metrics.ObserveSent()
	return nil
}

func (d *Dispatcher) finish(outcome domain.DeliveryOutcome) domain.DeliveryOutcome {
	d.metrics.ObserveDelivery(outcome.Status)
	return outcome
}
