package models

import "time"

const (
	OpenNodeChargeProcessing = "processing"
	OpenNodeChargePaid       = "paid"
	OpenNodeChargeUnderpaid  = "underpaid"
	OpenNodeChargeRefunded   = "refunded"
	OpenNodeChargeExpired    = "expired"
)

// OpenNodeCharge maps a cryptocurrency charge to the Stripe invoice it pays,
// bridging the two billing providers.
type OpenNodeCharge struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ChargeID        string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"charge_id"`
	StripeInvoiceID string     `gorm:"type:varchar(191);not null;index" json:"stripe_invoice_id"`
	UserID          uint       `gorm:"index" json:"user_id"`
	Status          string     `gorm:"type:varchar(32);not null;default:'processing';index" json:"status"`
	AmountCents     int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency        string     `gorm:"type:varchar(8);default:'usd'" json:"currency"`
	HostedCheckout  string     `gorm:"type:varchar(500);default:''" json:"hosted_checkout"`
	LastWebhookAt   *time.Time `gorm:"type:timestamp;default:null" json:"last_webhook_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
