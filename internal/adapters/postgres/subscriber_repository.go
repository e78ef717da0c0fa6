package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/viralforge/newsletter-service/internal/domain"
	"github.com/viralforge/newsletter-service/internal/ports"
	"gorm.io/gorm"
)

const subscriptionStatusConfirmed = "confirmed"

type subscriberRepository struct {
	db *gorm.DB
}

// ListConfirmed returns confirmed rows in subscription order. Addresses are
// returned as stored; validation happens in the dispatcher.
func (r *subscriberRepository) ListConfirmed(ctx context.Context) ([]ports.SubscriberRecord, error) {
	var rows []subscriptionModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", subscriptionStatusConfirmed).
		Order("subscribed_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ports.SubscriberRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, ports.SubscriberRecord{
			ID:           row.ID,
			Email:        row.Email,
			Name:         row.Name,
			Status:       row.Status,
			SubscribedAt: row.SubscribedAt,
		})
	}
	return out, nil
}

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (ports.UserRecord, error) {
	var row userModel
	if err := r.db.WithContext(ctx).
		Where("username = ?", strings.TrimSpace(username)).
		Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.UserRecord{}, domain.ErrNotFound
		}
		return ports.UserRecord{}, err
	}
	return ports.UserRecord{
		UserID:       row.UserID,
		Username:     row.Username,
		PasswordHash: row.PasswordHash,
	}, nil
}
