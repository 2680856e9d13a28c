package models

import "time"

const (
	GiftDurationMonth    = "month"
	GiftDurationYear     = "year"
	GiftDurationLifetime = "lifetime"
)

// GiftTransaction records a single gift grant. Rows are immutable once
// created except for RefundedAt, which is the idempotency latch for refund
// reversal: a refund is applied at most once per transaction.
type GiftTransaction struct {
	ID                string     `gorm:"type:char(36);primaryKey" json:"id"`
	CheckoutSessionID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"checkout_session_id"`
	GifterUserID      *uint      `gorm:"index" json:"gifter_user_id,omitempty"`
	GifterName        string     `gorm:"type:varchar(150);default:''" json:"gifter_name"`
	RecipientUserID   uint       `gorm:"not null;index" json:"recipient_user_id"`
	Quantity          int        `gorm:"not null;default:1" json:"quantity"`
	DurationUnit      string     `gorm:"type:varchar(16);not null;default:'month'" json:"duration_unit"`
	Message           string     `gorm:"type:varchar(500);default:''" json:"message"`
	AmountCents       int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency          string     `gorm:"type:varchar(8);default:'usd'" json:"currency"`
	RefundedAt        *time.Time `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// GrantedDuration returns the wall-clock length of the grant. Lifetime gifts
// return 0; they are represented by the transaction type, not a period.
func (g *GiftTransaction) GrantedDuration() time.Duration {
	qty := g.Quantity
	if qty < 1 {
		qty = 1
	}
	switch g.DurationUnit {
	case GiftDurationYear:
		return time.Duration(qty) * 365 * 24 * time.Hour
	case GiftDurationLifetime:
		return 0
	default:
		return time.Duration(qty) * 30 * 24 * time.Hour
	}
}
