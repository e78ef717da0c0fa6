package postgres

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&userModel{},
		&subscriptionModel{},
		&newsletterIdempotencyModel{},
		&newsletterOutboxModel{},
	))
	return db
}

func TestIdempotencyRepositoryLifecycle(t *testing.T) {
	t.Parallel()

	repo := NewRepositories(newTestDB(t)).Idempotency
	ctx := context.Background()
	owner := uuid.New()
	now := time.Now().UTC()

	rec, err := repo.Get(ctx, owner, "abc")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, repo.Reserve(ctx, owner, "abc", now))
	assert.ErrorIs(t, repo.Reserve(ctx, owner, "abc", now), domain.ErrConflict)
	require.NoError(t, repo.Reserve(ctx, uuid.New(), "abc", now), "same key for another owner is independent")

	rec, err = repo.Get(ctx, owner, "abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.IdempotencyInProgress, rec.State)
	assert.Nil(t, rec.Response)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Add("X-Trace", "a")
	headers.Add("X-Trace", "b")
	saved := domain.SavedResponse{StatusCode: 200, Headers: headers, Body: []byte(`{"status":"success"}`)}
	require.NoError(t, repo.Complete(ctx, owner, "abc", saved, now.Add(time.Second)))
	assert.ErrorIs(t, repo.Complete(ctx, owner, "abc", saved, now), domain.ErrIdempotencyStateInvalid)

	rec, err = repo.Get(ctx, owner, "abc")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.IdempotencyCompleted, rec.State)
	require.NotNil(t, rec.Response)
	assert.Equal(t, 200, rec.Response.StatusCode)
	assert.Equal(t, saved.Body, rec.Response.Body)
	assert.Equal(t, []string{"a", "b"}, rec.Response.Headers.Values("X-Trace"))
	assert.Equal(t, "application/json", rec.Response.Headers.Get("Content-Type"))

	require.NoError(t, repo.Release(ctx, owner, "abc"))
	rec, err = repo.Get(ctx, owner, "abc")
	require.NoError(t, err)
	assert.NotNil(t, rec, "completed records survive release")
}

func TestIdempotencyRepositoryReleaseInProgress(t *testing.T) {
	t.Parallel()

	repo := NewRepositories(newTestDB(t)).Idempotency
	ctx := context.Background()
	owner := uuid.New()

	require.NoError(t, repo.Reserve(ctx, owner, "k", time.Now().UTC()))
	require.NoError(t, repo.Release(ctx, owner, "k"))
	rec, err := repo.Get(ctx, owner, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, repo.Reserve(ctx, owner, "k", time.Now().UTC()))
}

func TestIdempotencyRepositoryConcurrentReserve(t *testing.T) {
	t.Parallel()

	repo := NewRepositories(newTestDB(t)).Idempotency
	owner := uuid.New()

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		admitted  int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Reserve(context.Background(), owner, "race", time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case assert.ErrorIs(t, err, domain.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
	assert.Equal(t, attempts-1, conflicts)
}

func TestSubscriberRepositoryListsConfirmedInOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := []subscriptionModel{
		{ID: uuid.New(), Email: "late@example.com", Name: "Late", Status: "confirmed", SubscribedAt: base.Add(2 * time.Hour)},
		{ID: uuid.New(), Email: "pending@example.com", Name: "Pending", Status: "pending_confirmation", SubscribedAt: base},
		{ID: uuid.New(), Email: "early@example.com", Name: "Early", Status: "confirmed", SubscribedAt: base},
		{ID: uuid.New(), Email: "broken-address", Name: "Broken", Status: "confirmed", SubscribedAt: base.Add(time.Hour)},
	}
	require.NoError(t, db.Create(&rows).Error)

	got, err := NewRepositories(db).Subscribers.ListConfirmed(context.Background())
	require.NoError(t, err)
	emails := make([]string, 0, len(got))
	for _, r := range got {
		emails = append(emails, r.Email)
		assert.Equal(t, "confirmed", r.Status)
	}
	assert.Equal(t, []string{"early@example.com", "broken-address", "late@example.com"}, emails)
}

func TestUserRepositoryGetByUsername(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	id := uuid.New()
	require.NoError(t, db.Create(&userModel{UserID: id, Username: "U1", PasswordHash: "$2a$hash", CreatedAt: time.Now().UTC()}).Error)
	repo := NewRepositories(db).Users

	user, err := repo.GetByUsername(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, id, user.UserID)
	assert.Equal(t, "$2a$hash", user.PasswordHash)

	_, err = repo.GetByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOutboxRepositoryClaimAndMark(t *testing.T) {
	t.Parallel()

	repo := NewRepositories(newTestDB(t)).Outbox
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Enqueue(ctx, ports.OutboxEvent{
			EventType:    "newsletter.issue.published",
			PartitionKey: "owner-1",
			Payload:      []byte(`{"sent":1}`),
			OccurredAt:   now.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	claimed, err := repo.ClaimUnpublished(ctx, 2, "token-a", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "newsletter.issue.published", claimed[0].EventType)
	assert.JSONEq(t, `{"sent":1}`, string(claimed[0].Payload))

	require.NoError(t, repo.MarkPublished(ctx, claimed[0].OutboxID, "token-a", now))
	require.NoError(t, repo.MarkFailed(ctx, claimed[1].OutboxID, "token-a", "broker down", now))

	again, err := repo.ClaimUnpublished(ctx, 10, "token-b", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, again, 2, "failed and never-claimed events are claimable, published ones are not")
	for _, rec := range again {
		if rec.OutboxID == claimed[1].OutboxID {
			assert.Equal(t, 1, rec.RetryCount)
			require.NotNil(t, rec.LastError)
			assert.Equal(t, "broker down", *rec.LastError)
		}
	}

	_, err = repo.ClaimUnpublished(ctx, 1, "", now)
	assert.Error(t, err)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_newsletter_schema.sql"}, names)
}

func TestSplitStatementsSeparatesEmbeddedSchema(t *testing.T) {
	t.Parallel()

	raw, err := migrationFS.ReadFile("migrations/0001_newsletter_schema.sql")
	require.NoError(t, err)

	stmts := splitStatements(string(raw))
	require.Len(t, stmts, 7)
	for _, stmt := range stmts {
		assert.True(t, strings.HasPrefix(stmt, "CREATE "), stmt)
		assert.NotContains(t, stmt, ";")
		assert.NotContains(t, stmt, "--")
	}
}

func TestRunMigrationsAppliesEmbeddedSchema(t *testing.T) {
	t.Parallel()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, RunMigrations(ctx, db), "migrations must be re-runnable")

	for _, table := range []string{"users", "subscriptions", "newsletter_idempotency", "newsletter_outbox"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	// Bearer-token operators have no users row; reserving for them must work.
	repos := NewRepositories(db)
	owner := uuid.New()
	require.NoError(t, repos.Idempotency.Reserve(ctx, owner, "abc", time.Now().UTC()))
	assert.ErrorIs(t, repos.Idempotency.Reserve(ctx, owner, "abc", time.Now().UTC()), domain.ErrConflict)
}
