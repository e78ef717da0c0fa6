package application

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
)

type idemKey struct {
	owner uuid.UUID
	key   domain.IdempotencyKey
}

type fakeIdempotency struct {
	mu       sync.Mutex
	records  map[idemKey]*domain.IdempotencyRecord
	reserves int
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{records: map[idemKey]*domain.IdempotencyRecord{}}
}

func (f *fakeIdempotency) Get(_ context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[idemKey{ownerID, key}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeIdempotency) Reserve(_ context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	k := idemKey{ownerID, key}
	if _, exists := f.records[k]; exists {
		return domain.ErrConflict
	}
	f.records[k] = &domain.IdempotencyRecord{
		OwnerID:   ownerID,
		Key:       key,
		State:     domain.IdempotencyInProgress,
		CreatedAt: at,
		UpdatedAt: at,
	}
	return nil
}

func (f *fakeIdempotency) Complete(_ context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, response domain.SavedResponse, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[idemKey{ownerID, key}]
	if !ok || rec.State != domain.IdempotencyInProgress {
		return domain.ErrIdempotencyStateInvalid
	}
	rec.State = domain.IdempotencyCompleted
	rec.Response = &response
	rec.UpdatedAt = at
	return nil
}

func (f *fakeIdempotency) Release(_ context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := idemKey{ownerID, key}
	if rec, ok := f.records[k]; ok && rec.State == domain.IdempotencyInProgress {
		delete(f.records, k)
	}
	return nil
}

func (f *fakeIdempotency) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeCatalog struct {
	rows  []ports.SubscriberRecord
	err   error
	calls atomic.Int32
}

func (f *fakeCatalog) ListConfirmed(context.Context) ([]ports.SubscriberRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ports.SubscriberRecord, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func confirmedRows(emails ...string) []ports.SubscriberRecord {
	rows := make([]ports.SubscriberRecord, 0, len(emails))
	for i, e := range emails {
		rows = append(rows, ports.SubscriberRecord{
			ID:           uuid.New(),
			Email:        e,
			Name:         fmt.Sprintf("subscriber-%d", i),
			Status:       "confirmed",
			SubscribedAt: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		})
	}
	return rows
}

type fakeSender struct {
	mu       sync.Mutex
	messages []ports.EmailMessage
	ctxErrs  []error
	// failAt maps a 1-based call number to the error that call returns.
	failAt      map[int]error
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	call := len(f.messages)
	err := f.failAt[call]
	f.mu.Unlock()

	if f.delay > 0 && err == nil {
		time.Sleep(f.delay)
	}
	return err
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Recipient.String())
	}
	return out
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []ports.OutboxEvent
	err    error
}

func (f *fakeOutbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) ClaimUnpublished(context.Context, int, string, time.Time) ([]ports.OutboxRecord, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (f *fakeOutbox) MarkFailed(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

func (f *fakeOutbox) MarkDeadLettered(context.Context, uuid.UUID, string, string, time.Time) error {
	return nil
}

type fixture struct {
	service *Service
	store   *fakeIdempotency
	catalog *fakeCatalog
	sender  *fakeSender
	outbox  *fakeOutbox
	logs    *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFixture(concurrency int, emails ...string) *fixture {
	f := &fixture{
		store:   newFakeIdempotency(),
		catalog: &fakeCatalog{rows: confirmedRows(emails...)},
		sender:  &fakeSender{failAt: map[int]error{}},
		outbox:  &fakeOutbox{},
		logs:    &syncBuffer{},
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.service = NewService(Dependencies{
		Idempotency:         f.store,
		Catalog:             f.catalog,
		Sender:              f.sender,
		Outbox:              f.outbox,
		Logger:              logger,
		DispatchConcurrency: concurrency,
	})
	return f
}

func testOperator() domain.Operator {
	return domain.Operator{UserID: uuid.MustParse("4f1c2d7e-9a4b-4c1e-8f0a-3b2d1c0e9f8a"), Username: "U1"}
}

func testIssue() domain.NewsletterIssue {
	return domain.NewsletterIssue{
		Title:       "Issue #1",
		HTMLContent: "<p>Hello subscribers</p>",
		TextContent: "Hello subscribers",
	}
}
