package entitlements

import (
	"testing"
	"time"

	"github.com/dotabod/billing/app/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{in: "pro", want: TierPro},
		{in: " PRO ", want: TierPro},
		{in: "free", want: TierFree},
		{in: "", want: TierFree},
		{in: "platinum", want: TierFree},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEffectiveTier(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	if got := EffectiveTier(nil, now); got != TierFree {
		t.Fatalf("nil subscription = %q, want free", got)
	}

	active := &models.Subscription{Tier: models.TierPro, Status: models.SubscriptionStatusActive, CurrentPeriodEnd: &future}
	if got := EffectiveTier(active, now); got != TierPro {
		t.Fatalf("active pro = %q, want pro", got)
	}

	expired := &models.Subscription{Tier: models.TierPro, Status: models.SubscriptionStatusActive, CurrentPeriodEnd: &past}
	if got := EffectiveTier(expired, now); got != TierFree {
		t.Fatalf("expired pro = %q, want free", got)
	}

	lifetime := &models.Subscription{Tier: models.TierPro, Status: models.SubscriptionStatusCanceled, TransactionType: models.TransactionTypeLifetime}
	if got := EffectiveTier(lifetime, now); got != TierPro {
		t.Fatalf("lifetime = %q, want pro", got)
	}
}

func TestFeatures(t *testing.T) {
	bot, overlays, installers := Features(TierPro)
	if !bot || !overlays || !installers {
		t.Fatalf("pro tier must enable everything")
	}

	bot, overlays, installers = Features(TierFree)
	if !bot {
		t.Fatalf("free tier keeps the managed bot")
	}
	if overlays || installers {
		t.Fatalf("free tier must not enable pro features")
	}
}
