package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe   = "stripe"
	BillingProviderOpenNode = "opennode"
)

const (
	TierFree = "free"
	TierPro  = "pro"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

const (
	TransactionTypeRecurring = "recurring"
	TransactionTypeLifetime  = "lifetime"
	TransactionTypeGift      = "gift"
)

// Subscription holds the single billing record for a user. Empty Stripe
// identifiers mean there is no paid relationship; cancellation is a status
// change, never a row deletion.
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Tier                 string     `gorm:"type:varchar(20);not null;default:'free';index" json:"tier"`
	Status               string     `gorm:"type:varchar(32);not null;default:'canceled';index" json:"status"`
	TransactionType      string     `gorm:"type:varchar(20);not null;default:'recurring'" json:"transaction_type"`
	StripeCustomerID     string     `gorm:"type:varchar(191);default:'';index" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);default:'';index" json:"stripe_subscription_id"`
	StripePriceID        string     `gorm:"type:varchar(191);default:''" json:"stripe_price_id"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	GifterName           string     `gorm:"type:varchar(150);default:''" json:"gifter_name,omitempty"`
	GiftMessage          string     `gorm:"type:varchar(500);default:''" json:"gift_message,omitempty"`
	GiftQuantity         int        `gorm:"default:0" json:"gift_quantity,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsLifetime reports whether the row carries a lifetime grant. Lifetime rows
// are never auto-downgraded by batch jobs.
func (s *Subscription) IsLifetime() bool {
	return s != nil && s.TransactionType == TransactionTypeLifetime
}

// HasPaidLink reports whether the row is tied to a live provider subscription.
func (s *Subscription) HasPaidLink() bool {
	return s != nil && s.StripeSubscriptionID != ""
}

// IsEntitled reports whether the row currently grants PRO access.
func (s *Subscription) IsEntitled(now time.Time) bool {
	if s == nil || s.Tier != TierPro {
		return false
	}
	if s.IsLifetime() {
		return true
	}
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
	default:
		return false
	}
	if s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(now) {
		return false
	}
	return true
}
