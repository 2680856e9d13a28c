package billing

import (
	"time"

	"github.com/dotabod/billing/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing services. Transaction
// yields a Repository bound to the transaction handle; nested calls join the
// surrounding transaction.
type Repository interface {
	Transaction(fn func(Repository) error) error

	GetUserByID(id uint) (*models.User, error)
	GetUserByUsername(username string) (*models.User, error)
	ListUserIDs(offset, limit int) ([]uint, error)

	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	GetSubscriptionByCustomerID(customerID string) (*models.Subscription, error)
	GetSubscriptionByProviderSubID(subscriptionID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	ListExpiredGraceSubscriptions(cutoff time.Time) ([]models.Subscription, error)

	GetWebhookEvent(provider, eventID string) (*models.WebhookEvent, error)
	CreateWebhookEvent(event *models.WebhookEvent) error
	DeleteWebhookEvent(provider, eventID string) error

	CreateGiftTransaction(gift *models.GiftTransaction) error
	GetGiftTransactionBySession(sessionID string) (*models.GiftTransaction, error)
	SaveGiftTransaction(gift *models.GiftTransaction) error

	GetOpenNodeCharge(chargeID string) (*models.OpenNodeCharge, error)
	GetOpenNodeChargeByInvoice(invoiceID string) (*models.OpenNodeCharge, error)
	UpsertOpenNodeCharge(charge *models.OpenNodeCharge) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByUsername(username string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) ListUserIDs(offset, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.User{}).
		Order("id").Offset(offset).Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByCustomerID(customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProviderSubID(subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_subscription_id = ?", subscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier",
			"status",
			"transaction_type",
			"stripe_customer_id",
			"stripe_subscription_id",
			"stripe_price_id",
			"current_period_end",
			"cancel_at_period_end",
			"gifter_name",
			"gift_message",
			"gift_quantity",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *gormRepository) ListExpiredGraceSubscriptions(cutoff time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("tier = ?", models.TierPro).
		Where("transaction_type <> ?", models.TransactionTypeLifetime).
		Where("stripe_subscription_id = ?", "").
		Where("current_period_end IS NOT NULL AND current_period_end < ?", cutoff).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetWebhookEvent(provider, eventID string) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", provider, eventID).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) CreateWebhookEvent(event *models.WebhookEvent) error {
	return r.db.Create(event).Error
}

func (r *gormRepository) DeleteWebhookEvent(provider, eventID string) error {
	return r.db.Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Delete(&models.WebhookEvent{}).Error
}

func (r *gormRepository) CreateGiftTransaction(gift *models.GiftTransaction) error {
	return r.db.Create(gift).Error
}

func (r *gormRepository) GetGiftTransactionBySession(sessionID string) (*models.GiftTransaction, error) {
	var gift models.GiftTransaction
	if err := r.db.Where("checkout_session_id = ?", sessionID).First(&gift).Error; err != nil {
		return nil, err
	}
	return &gift, nil
}

func (r *gormRepository) SaveGiftTransaction(gift *models.GiftTransaction) error {
	return r.db.Save(gift).Error
}

func (r *gormRepository) GetOpenNodeCharge(chargeID string) (*models.OpenNodeCharge, error) {
	var charge models.OpenNodeCharge
	if err := r.db.Where("charge_id = ?", chargeID).First(&charge).Error; err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *gormRepository) GetOpenNodeChargeByInvoice(invoiceID string) (*models.OpenNodeCharge, error) {
	var charge models.OpenNodeCharge
	if err := r.db.Where("stripe_invoice_id = ?", invoiceID).Order("id DESC").First(&charge).Error; err != nil {
		return nil, err
	}
	return &charge, nil
}

func (r *gormRepository) UpsertOpenNodeCharge(charge *models.OpenNodeCharge) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "charge_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_invoice_id",
			"user_id",
			"status",
			"amount_cents",
			"currency",
			"hosted_checkout",
			"last_webhook_at",
			"updated_at",
		}),
	}).Create(charge).Error; err != nil {
		return err
	}

	return r.db.Where("charge_id = ?", charge.ChargeID).First(charge).Error
}
