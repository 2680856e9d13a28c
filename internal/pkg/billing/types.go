package billing

import "time"

// NormalizedSubscription is the provider-agnostic shape used by the billing
// service when syncing external subscription state into local tables.
type NormalizedSubscription struct {
	UserID               uint
	StripeCustomerID     string
	StripeSubscriptionID string
	StripePriceID        string
	ProviderStatus       string
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
}

// GiftInput describes a single gift grant from a completed checkout session.
type GiftInput struct {
	CheckoutSessionID string
	GifterUserID      *uint
	GifterName        string
	Message           string
	RecipientUserID   uint
	Quantity          int
	DurationUnit      string
	AmountCents       int64
	Currency          string
}
