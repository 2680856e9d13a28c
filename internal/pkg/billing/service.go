package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/dotabod/billing/app/models"
	"gorm.io/gorm"
)

// Service provides subscription synchronization between provider webhook
// state and the local Subscription table.
type Service struct {
	repo   Repository
	prices PriceTierMap
}

// NewService creates a billing service from an injected repository and price
// mapping.
func NewService(repo Repository, prices PriceTierMap) *Service {
	return &Service{repo: repo, prices: prices}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, prices PriceTierMap) *Service {
	return NewService(NewRepository(db), prices)
}

// Repo exposes the underlying repository for handler composition.
func (s *Service) Repo() Repository {
	return s.repo
}

// WithRepo returns a service bound to a different repository, typically one
// scoped to an open transaction.
func (s *Service) WithRepo(repo Repository) *Service {
	return &Service{repo: repo, prices: s.prices}
}

// ResolveUserID finds the local user for a provider subscription, preferring
// explicit metadata and falling back to the stored customer linkage.
func (s *Service) ResolveUserID(ctx context.Context, metadataUserID uint, customerID string) (uint, error) {
	_ = ctx
	if metadataUserID != 0 {
		return metadataUserID, nil
	}
	if strings.TrimSpace(customerID) == "" {
		return 0, gorm.ErrRecordNotFound
	}
	sub, err := s.repo.GetSubscriptionByCustomerID(customerID)
	if err != nil {
		return 0, err
	}
	return sub.UserID, nil
}

// SyncSubscription upserts provider subscription state onto the user's single
// Subscription row. Lifetime rows keep their transaction type and tier.
func (s *Service) SyncSubscription(ctx context.Context, in NormalizedSubscription) (*models.Subscription, error) {
	_ = ctx
	if in.UserID == 0 || strings.TrimSpace(in.StripeSubscriptionID) == "" {
		return nil, errors.New("user_id and stripe_subscription_id are required")
	}

	status := MapStripeStatus(in.ProviderStatus)
	tier := s.prices.TierForPrice(in.StripePriceID)
	if !isEntitlingStatus(status) {
		tier = models.TierFree
	}

	sub := &models.Subscription{
		UserID:               in.UserID,
		Tier:                 tier,
		Status:               status,
		TransactionType:      models.TransactionTypeRecurring,
		StripeCustomerID:     strings.TrimSpace(in.StripeCustomerID),
		StripeSubscriptionID: strings.TrimSpace(in.StripeSubscriptionID),
		StripePriceID:        strings.TrimSpace(in.StripePriceID),
		CurrentPeriodEnd:     in.CurrentPeriodEnd,
		CancelAtPeriodEnd:    in.CancelAtPeriodEnd,
	}

	existing, err := s.repo.GetSubscriptionByUserID(in.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		sub.GifterName = existing.GifterName
		sub.GiftMessage = existing.GiftMessage
		sub.GiftQuantity = existing.GiftQuantity
		if existing.IsLifetime() {
			sub.TransactionType = models.TransactionTypeLifetime
			sub.Tier = models.TierPro
			sub.Status = models.SubscriptionStatusActive
			sub.CurrentPeriodEnd = nil
		}
	}

	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// HandleSubscriptionDeleted marks the linked subscription canceled and drops
// the tier to free. The row is preserved; only a lifetime grant survives a
// provider-side deletion untouched.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	_ = ctx
	id := strings.TrimSpace(stripeSubscriptionID)
	if id == "" {
		return nil, errors.New("stripe_subscription_id is required")
	}

	sub, err := s.repo.GetSubscriptionByProviderSubID(id)
	if err != nil {
		return nil, err
	}
	if sub.IsLifetime() {
		return sub, nil
	}

	sub.Status = models.SubscriptionStatusCanceled
	sub.Tier = models.TierFree
	sub.StripeSubscriptionID = ""
	sub.StripePriceID = ""
	sub.CancelAtPeriodEnd = false
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}
