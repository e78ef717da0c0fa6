package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/newsletter-service/internal/domain"
	"gorm.io/gorm"
)

type idempotencyRepository struct {
	db *gorm.DB
}

func (r *idempotencyRepository) Get(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) (*domain.IdempotencyRecord, error) {
	var rec newsletterIdempotencyModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key.String()).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	out := domain.IdempotencyRecord{
		OwnerID:   rec.OwnerID,
		Key:       domain.IdempotencyKey(rec.IdempotencyKey),
		State:     domain.IdempotencyState(rec.State),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.ResponseStatus != nil {
		headers := http.Header{}
		if rec.ResponseHeaders != nil && *rec.ResponseHeaders != "" {
			if err := json.Unmarshal([]byte(*rec.ResponseHeaders), &headers); err != nil {
				return nil, fmt.Errorf("decode saved response headers: %w", err)
			}
		}
		out.Response = &domain.SavedResponse{
			StatusCode: *rec.ResponseStatus,
			Headers:    headers,
			Body:       rec.ResponseBody,
		}
	}
	return &out, nil
}

func (r *idempotencyRepository) Reserve(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, at time.Time) error {
	rec := newsletterIdempotencyModel{
		OwnerID:        ownerID,
		IdempotencyKey: key.String(),
		State:          string(domain.IdempotencyInProgress),
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey, response domain.SavedResponse, at time.Time) error {
	headers, err := json.Marshal(response.Headers)
	if err != nil {
		return fmt.Errorf("encode saved response headers: %w", err)
	}
	rawHeaders := string(headers)
	body := response.Body
	if body == nil {
		body = []byte{}
	}

	res := r.db.WithContext(ctx).
		Model(&newsletterIdempotencyModel{}).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key.String()).
		Where("state = ?", string(domain.IdempotencyInProgress)).
		Updates(map[string]any{
			"state":            string(domain.IdempotencyCompleted),
			"response_status":  response.StatusCode,
			"response_headers": rawHeaders,
			"response_body":    body,
			"updated_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrIdempotencyStateInvalid
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, ownerID uuid.UUID, key domain.IdempotencyKey) error {
	return r.db.WithContext(ctx).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key.String()).
		Where("state = ?", string(domain.IdempotencyInProgress)).
		Delete(&newsletterIdempotencyModel{}).Error
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
