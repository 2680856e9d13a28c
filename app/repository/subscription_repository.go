package repository

import (
	"github.com/dotabod/billing/app/models"
	"gorm.io/gorm"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a subscription read repository backed by GORM.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByUsername(username string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Joins("JOIN users ON users.id = subscriptions.user_id").
		Where("users.username = ?", username).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
