package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
)

// IdempotencyGate admits at most one attempt per (owner, key) and replays completed ones.
type IdempotencyGate struct {
	store ports.IdempotencyRepository
	nowFn func() time.Time
}

func NewIdempotencyGate(store ports.IdempotencyRepository, nowFn func() time.Time) *IdempotencyGate {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &IdempotencyGate{store: store, nowFn: nowFn}
}

// Begin reserves the key with a single insert. When the key already exists the
// stored record decides between replay and conflict; a record that vanished
// between the insert and the read is treated as a conflict.
func (g *IdempotencyGate) Begin(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) (domain.GateDecision, error) {
	err := g.store.Reserve(ctx, ownerID, key, g.nowFn())
	if err == nil {
		return domain.GateDecision{Outcome: domain.GateAdmitted}, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return domain.GateDecision{}, fmt.Errorf("reserve idempotency key: %w", err)
	}

	rec, err := g.store.Get(ctx, ownerID, key)
	if err != nil {
		return domain.GateDecision{}, fmt.Errorf("load idempotency record: %w", err)
	}
	if rec == nil || rec.State != domain.IdempotencyCompleted || rec.Response == nil {
		return domain.GateDecision{Outcome: domain.GateConflict}, nil
	}
	saved := *rec.Response
	return domain.GateDecision{Outcome: domain.GateReplay, Saved: &saved}, nil
}

// Complete stores the final response. It fails if the record is not in progress.
func (g *IdempotencyGate) Complete(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, response domain.SavedResponse) error {
	if err := g.store.Complete(ctx, ownerID, key, response, g.nowFn()); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

// Release drops an in-progress reservation so a later retry is admitted again.
func (g *IdempotencyGate) Release(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) error {
	if err := g.store.Release(ctx, ownerID, key); err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	return nil
}
