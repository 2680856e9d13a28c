package controllers

import (
	"strconv"
	"strings"

	"github.com/dotabod/billing/internal/pkg/billing"
	"github.com/dotabod/billing/internal/pkg/env"
)

func stripeClientFromEnv() billing.StripeClient {
	return billing.NewStripeClient(env.GetEnv("STRIPE_SECRET_KEY", ""))
}

func priceTierMapFromEnv() billing.PriceTierMap {
	raw := env.GetEnv("STRIPE_PRO_PRICE_IDS", "")
	return billing.NewPriceTierMap(strings.Split(raw, ",")...)
}

func parseUintField(raw string) uint {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func parseIntField(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}
