package postgres

import (
	"github.com/viralforge/newsletter-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Idempotency ports.IdempotencyRepository
	Subscribers ports.SubscriberCatalog
	Users       ports.UserRepository
	Outbox      ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Idempotency: &idempotencyRepository{db: db},
		Subscribers: &subscriberRepository{db: db},
		Users:       &userRepository{db: db},
		Outbox:      &outboxRepository{db: db},
	}
}
