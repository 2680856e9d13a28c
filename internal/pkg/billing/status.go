package billing

import (
	"strings"

	"github.com/dotabod/billing/app/models"
)

// MapStripeStatus maps a provider subscription status string to the internal
// status enum. Anything unrecognized maps to canceled: an unknown provider
// status must never be treated as an active entitlement.
func MapStripeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due":
		return models.SubscriptionStatusPastDue
	default:
		return models.SubscriptionStatusCanceled
	}
}

func isEntitlingStatus(status string) bool {
	switch status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// PriceTierMap maps Stripe price IDs to internal tiers. Unknown prices map to
// free so a mispriced webhook can never grant PRO.
type PriceTierMap map[string]string

// TierForPrice resolves a price ID against the map.
func (m PriceTierMap) TierForPrice(priceID string) string {
	if tier, ok := m[strings.TrimSpace(priceID)]; ok {
		switch tier {
		case models.TierPro:
			return models.TierPro
		}
	}
	return models.TierFree
}

// NewPriceTierMap builds a map marking the given price IDs as PRO.
func NewPriceTierMap(proPriceIDs ...string) PriceTierMap {
	m := make(PriceTierMap, len(proPriceIDs))
	for _, id := range proPriceIDs {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = models.TierPro
		}
	}
	return m
}
