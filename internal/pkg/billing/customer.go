package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dotabod/billing/app/models"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/gorm"
)

// CustomerService resolves users to billing-provider customer records.
type CustomerService struct {
	repo   Repository
	stripe StripeClient
}

// NewCustomerService creates a customer service from injected dependencies.
func NewCustomerService(repo Repository, sc StripeClient) *CustomerService {
	return &CustomerService{repo: repo, stripe: sc}
}

// EnsureCustomer returns the Stripe customer ID for a user, creating the
// provider-side customer if none exists. The ID is not persisted here;
// callers upsert it into the Subscription row within their own transaction.
func (s *CustomerService) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user == nil || user.ID == 0 {
		return "", errors.New("user is required")
	}

	sub, err := s.repo.GetSubscriptionByUserID(user.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	if sub != nil && sub.StripeCustomerID != "" {
		return sub.StripeCustomerID, nil
	}

	email := strings.TrimSpace(user.Email)

	// Reuse an existing provider customer before creating a duplicate. With
	// no email there is nothing to search by.
	if email != "" {
		customers, err := s.stripe.ListCustomersByEmail(ctx, email)
		if err != nil {
			return "", fmt.Errorf("list customers by email: %w", err)
		}
		if len(customers) > 0 {
			return customers[0].ID, nil
		}
	}

	params := &stripe.CustomerParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name := strings.TrimSpace(user.DisplayName); name != "" {
		params.Name = stripe.String(name)
	}
	// Provider metadata must be flat string key/value pairs; absent values
	// are coerced to empty strings.
	params.AddMetadata("userId", fmt.Sprintf("%d", user.ID))
	params.AddMetadata("email", email)
	params.AddMetadata("name", user.DisplayName)
	params.AddMetadata("image", user.Image)
	params.AddMetadata("locale", user.Locale)

	customer, err := s.stripe.CreateCustomer(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return customer.ID, nil
}
