package entitlements

import (
	"strings"
	"time"

	"github.com/dotabod/billing/app/models"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Normalize coerces arbitrary tier strings to a known tier, defaulting to free.
func Normalize(tier string) Tier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(TierPro):
		return TierPro
	default:
		return TierFree
	}
}

// Rank orders tiers for best-of comparisons.
func Rank(tier Tier) int {
	if tier == TierPro {
		return 1
	}
	return 0
}

// Features returns the overlay/bot capabilities enabled for a tier.
func Features(tier Tier) (managedBot, advancedOverlays, autoInstallers bool) {
	switch tier {
	case TierPro:
		return true, true, true
	default:
		return true, false, false
	}
}

// EffectiveTier computes the tier a subscription row currently grants.
func EffectiveTier(sub *models.Subscription, now time.Time) Tier {
	if sub != nil && sub.IsEntitled(now) {
		return Normalize(sub.Tier)
	}
	return TierFree
}
