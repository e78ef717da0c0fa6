package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/viralforge/newsletter-service/internal/domain"
)

const idempotencyKeyPrefix = "newsletter:idempotency:"

// reserve inserts the hash only if the key is absent. Returns 1 when reserved.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'in_progress', 'created_at', ARGV[1], 'updated_at', ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// complete stores the response only while the record is in progress and drops
// any lease expiry. Returns 1 when updated.
var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'in_progress' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'completed', 'status', ARGV[1], 'headers', ARGV[2], 'body', ARGV[3], 'updated_at', ARGV[4])
redis.call('PERSIST', KEYS[1])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'in_progress' then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisIdempotencyStore keeps idempotency records as Redis hashes.
// Completed records never expire. A positive leaseTTL expires in-progress
// records left behind by a crashed process; it must exceed the longest fan-out.
type RedisIdempotencyStore struct {
	client   redis.UniversalClient
	leaseTTL time.Duration
}

func NewRedisIdempotencyStore(client redis.UniversalClient, leaseTTL time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, leaseTTL: leaseTTL}
}

func idempotencyRedisKey(ownerID uuid.UUID, key domain.IdempotencyKey) string {
	return idempotencyKeyPrefix + ownerID.String() + ":" + key.String()
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error) {
	data, err := s.client.HGetAll(ctx, idempotencyRedisKey(ownerID, key)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	rec := &domain.IdempotencyRecord{
		OwnerID:   ownerID,
		Key:       key,
		State:     domain.IdempotencyState(data["state"]),
		CreatedAt: parseUnixMilli(data["created_at"]),
		UpdatedAt: parseUnixMilli(data["updated_at"]),
	}
	if rec.State == domain.IdempotencyCompleted {
		status, convErr := strconv.Atoi(data["status"])
		if convErr != nil {
			return nil, fmt.Errorf("decode saved response status: %w", convErr)
		}
		headers := http.Header{}
		if raw := data["headers"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &headers); err != nil {
				return nil, fmt.Errorf("decode saved response headers: %w", err)
			}
		}
		rec.Response = &domain.SavedResponse{
			StatusCode: status,
			Headers:    headers,
			Body:       []byte(data["body"]),
		}
	}
	return rec, nil
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, at time.Time) error {
	reserved, err := reserveScript.Run(ctx, s.client,
		[]string{idempotencyRedisKey(ownerID, key)},
		at.UnixMilli(), s.leaseTTL.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if reserved == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, response domain.SavedResponse, at time.Time) error {
	headers, err := json.Marshal(response.Headers)
	if err != nil {
		return fmt.Errorf("encode saved response headers: %w", err)
	}
	updated, err := completeScript.Run(ctx, s.client,
		[]string{idempotencyRedisKey(ownerID, key)},
		response.StatusCode, string(headers), string(response.Body), at.UnixMilli(), s.leaseTTL.Milliseconds(),
	).Int()
	if err != nil {
		return err
	}
	if updated == 0 {
		return domain.ErrIdempotencyStateInvalid
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) error {
	return releaseScript.Run(ctx, s.client, []string{idempotencyRedisKey(ownerID, key)}).Err()
}

func parseUnixMilli(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
