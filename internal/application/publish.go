package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
)

const (
	EventIssuePublished = "newsletter.issue.published"

	publishedMessage = "The newsletter issue has been published!"
)

// PublishCommand is one operator request to publish an issue.
type PublishCommand struct {
	Operator       domain.Operator
	IdempotencyKey string
	Issue          domain.NewsletterIssue
}

// PublishResult is the response to hand back to the caller.
// Replayed is true when Response came from a previous completed attempt.
type PublishResult struct {
	Response domain.SavedResponse
	Replayed bool
	Outcome  *domain.DeliveryOutcome
}

type publishResponse struct {
	Status string              `json:"status"`
	Data   publishResponseData `json:"data"`
}

type publishResponseData struct {
	Title   string `json:"title"`
	Sent    int    `json:"sent"`
	Skipped int    `json:"skipped"`
	Message string `json:"message"`
}

type issuePublishedPayload struct {
	OwnerID        string `json:"owner_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Title          string `json:"title"`
	Sent           int    `json:"sent"`
	Skipped        int    `json:"skipped"`
	PublishedAt    string `json:"published_at"`
}

// PublishNewsletter delivers an issue at most once per (operator, key).
// Delivery runs detached from ctx cancellation so a disconnecting client cannot
// leave the fan-out half done without its record being resolved.
func (s *Service) PublishNewsletter(ctx context.Context, cmd PublishCommand) (PublishResult, error) {
	if cmd.Operator.UserID == uuid.Nil {
		return PublishResult{}, domain.ErrUnauthorized
	}
	key, err := domain.NewIdempotencyKey(cmd.IdempotencyKey)
	if err != nil {
		return PublishResult{}, err
	}
	if err := s.validateIssue(cmd.Issue); err != nil {
		return PublishResult{}, err
	}

	decision, err := s.gate.Begin(ctx, cmd.Operator.UserID, key)
	if err != nil {
		s.logFailure(ctx, "idempotency_begin", cmd, err)
		return PublishResult{}, err
	}
	s.metrics.ObserveGate(decision.Outcome)
	switch decision.Outcome {
	case domain.GateReplay:
		s.logger.InfoContext(ctx, "publish replayed from saved response",
			"module", "application",
			"layer", "application",
			"operation", "publish_newsletter",
			"outcome", "replay",
			"user_id", cmd.Operator.UserID,
			"idempotency_key", key.String(),
		)
		return PublishResult{Response: *decision.Saved, Replayed: true}, nil
	case domain.GateConflict:
		return PublishResult{}, domain.ErrIdempotencyInProgress
	}

	workCtx := context.WithoutCancel(ctx)
	outcome := s.dispatcher.Run(workCtx, cmd.Issue)
	if !outcome.Succeeded() {
		if releaseErr := s.gate.Release(workCtx, cmd.Operator.UserID, key); releaseErr != nil {
			s.logFailure(workCtx, "idempotency_release", cmd, releaseErr)
		}
		s.logFailure(workCtx, "publish_newsletter", cmd, outcome.Reason)
		return PublishResult{Outcome: &outcome}, fmt.Errorf("%w: %w", domain.ErrDeliveryAborted, outcome.Reason)
	}

	response, err := s.buildResponse(cmd.Issue, outcome)
	if err != nil {
		return PublishResult{}, err
	}
	if err := s.gate.Complete(workCtx, cmd.Operator.UserID, key, response); err != nil {
		s.logFailure(workCtx, "idempotency_complete", cmd, err)
		return PublishResult{Outcome: &outcome}, err
	}
	s.enqueuePublished(workCtx, cmd, key, outcome)

	s.logger.InfoContext(ctx, "newsletter issue published",
		"module", "application",
		"layer", "application",
		"operation", "publish_newsletter",
		"outcome", "success",
		"user_id", cmd.Operator.UserID,
		"idempotency_key", key.String(),
		"sent_count", outcome.Sent,
		"skipped_count", len(outcome.Skipped),
	)
	return PublishResult{Response: response, Outcome: &outcome}, nil
}

func (s *Service) validateIssue(issue domain.NewsletterIssue) error {
	if err := s.validate.Struct(issue); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, verrs[0].Field())
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
	}
	return nil
}

func (s *Service) buildResponse(issue domain.NewsletterIssue, outcome domain.DeliveryOutcome) (domain.SavedResponse, error) {
	body, err := json.Marshal(publishResponse{
		Status: "success",
		Data: publishResponseData{
			Title:   issue.Title,
			Sent:    outcome.Sent,
			Skipped: len(outcome.Skipped),
			Message: publishedMessage,
		},
	})
	if err != nil {
		return domain.SavedResponse{}, fmt.Errorf("encode publish response: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return domain.SavedResponse{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       body,
	}, nil
}

// enqueuePublished records the integration event. The publish has already
// completed, so failures are logged and not returned.
func (s *Service) enqueuePublished(ctx context.Context, cmd PublishCommand, key domain.IdempotencyKey, outcome domain.DeliveryOutcome) {
	if s.outbox == nil {
		return
	}
	now := s.nowFn()
	payload, err := json.Marshal(issuePublishedPayload{
		OwnerID:        cmd.Operator.UserID.String(),
		IdempotencyKey: key.String(),
		Title:          cmd.Issue.Title,
		Sent:           outcome.Sent,
		Skipped:        len(outcome.Skipped),
		PublishedAt:    now.Format(time.RFC3339),
	})
	if err == nil {
		err = s.outbox.Enqueue(ctx, ports.OutboxEvent{
			EventID:      uuid.New(),
			EventType:    EventIssuePublished,
			PartitionKey: cmd.Operator.UserID.String(),
			Payload:      payload,
			OccurredAt:   now,
		})
	}
	if err != nil {
		s.logFailure(ctx, "outbox_enqueue", cmd, err)
	}
}

func (s *Service) logFailure(ctx context.Context, operation string, cmd PublishCommand, err error) {
	s.logger.ErrorContext(ctx, "publish step failed",
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", "failure",
		"user_id", cmd.Operator.UserID,
		"idempotency_key", cmd.IdempotencyKey,
		"error", err,
	)
}
