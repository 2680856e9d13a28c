package repository

import (
	"github.com/dotabod/billing/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByTwitchID(twitchID string) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// SubscriptionRepository defines the read side used by dashboard endpoints.
// Webhook mutations go through the billing package's own repository.
type SubscriptionRepository interface {
	GetByUserID(userID uint) (*models.Subscription, error)
	GetByUsername(username string) (*models.Subscription, error)
}

// Repositories aggregates all repository implementations
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
}
