package billing

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/dotabod/billing/app/models"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/gorm"
)

// GiftService applies gift-subscription grants and reverses them on refund.
type GiftService struct {
	repo   Repository
	stripe StripeClient

	now func() time.Time
}

// NewGiftService creates a gift service from injected dependencies.
func NewGiftService(repo Repository, sc StripeClient) *GiftService {
	return &GiftService{repo: repo, stripe: sc, now: time.Now}
}

// WithRepo returns a gift service bound to a different repository, typically
// one scoped to an open transaction.
func (s *GiftService) WithRepo(repo Repository) *GiftService {
	return &GiftService{repo: repo, stripe: s.stripe, now: s.now}
}

// ApplyGift records a gift transaction and extends the recipient's
// subscription. A checkout session that was already credited is a no-op, so
// re-delivered checkout events cannot double-grant.
func (s *GiftService) ApplyGift(ctx context.Context, in GiftInput) (*models.GiftTransaction, error) {
	_ = ctx
	sessionID := strings.TrimSpace(in.CheckoutSessionID)
	if sessionID == "" || in.RecipientUserID == 0 {
		return nil, errors.New("checkout_session_id and recipient_user_id are required")
	}
	if in.Quantity < 1 {
		in.Quantity = 1
	}

	var gift *models.GiftTransaction
	err := s.repo.Transaction(func(tx Repository) error {
		if existing, err := tx.GetGiftTransactionBySession(sessionID); err == nil {
			gift = existing
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		gift = &models.GiftTransaction{
			ID:                uuid.NewString(),
			CheckoutSessionID: sessionID,
			GifterUserID:      in.GifterUserID,
			GifterName:        strings.TrimSpace(in.GifterName),
			RecipientUserID:   in.RecipientUserID,
			Quantity:          in.Quantity,
			DurationUnit:      normalizeDurationUnit(in.DurationUnit),
			Message:           strings.TrimSpace(in.Message),
			AmountCents:       in.AmountCents,
			Currency:          strings.ToLower(strings.TrimSpace(in.Currency)),
		}
		if err := tx.CreateGiftTransaction(gift); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A concurrent delivery won the insert race; hand back its
				// row, not the local one with an unpersisted ID.
				existing, readErr := tx.GetGiftTransactionBySession(sessionID)
				if readErr != nil {
					return readErr
				}
				gift = existing
				return nil
			}
			return err
		}

		sub, err := tx.GetSubscriptionByUserID(in.RecipientUserID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			sub = &models.Subscription{UserID: in.RecipientUserID}
		}
		if sub.IsLifetime() {
			// Already permanent; only the transaction record matters.
			return nil
		}

		now := s.now()
		if gift.DurationUnit == models.GiftDurationLifetime {
			sub.TransactionType = models.TransactionTypeLifetime
			sub.CurrentPeriodEnd = nil
		} else {
			base := now
			if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
				base = *sub.CurrentPeriodEnd
			}
			end := base.Add(gift.GrantedDuration())
			sub.CurrentPeriodEnd = &end
			if !sub.HasPaidLink() {
				sub.TransactionType = models.TransactionTypeGift
			}
		}
		sub.Tier = models.TierPro
		sub.Status = models.SubscriptionStatusActive
		sub.GifterName = gift.GifterName
		sub.GiftMessage = gift.Message
		sub.GiftQuantity += gift.Quantity

		return tx.UpsertSubscription(sub)
	})
	if err != nil {
		return nil, err
	}
	return gift, nil
}

// ProcessGiftRefund reverses a previously applied gift grant for a refunded
// charge. Zero refunded amount is an immediate no-op; a charge with no
// matching gift transaction is logged and ignored (it may be a non-gift
// charge). Reversal is idempotent via the transaction's refund marker.
func (s *GiftService) ProcessGiftRefund(ctx context.Context, charge *stripe.Charge) error {
	if charge == nil || charge.AmountRefunded == 0 {
		return nil
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		log.Printf("gift refund: charge %s has no payment intent, skipping", charge.ID)
		return nil
	}

	sessions, err := s.stripe.ListCheckoutSessionsByPaymentIntent(ctx, charge.PaymentIntent.ID)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		reversed, err := s.reverseGiftBySession(session.ID)
		if err != nil {
			return err
		}
		if reversed {
			return nil
		}
	}

	log.Printf("gift refund: no gift transaction for charge %s, treating as non-gift refund", charge.ID)
	return nil
}

func (s *GiftService) reverseGiftBySession(sessionID string) (bool, error) {
	found := false
	err := s.repo.Transaction(func(tx Repository) error {
		gift, err := tx.GetGiftTransactionBySession(sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		if gift.RefundedAt != nil {
			// Already reversed by an earlier delivery.
			return nil
		}

		now := s.now()
		gift.RefundedAt = &now
		if err := tx.SaveGiftTransaction(gift); err != nil {
			return err
		}

		sub, err := tx.GetSubscriptionByUserID(gift.RecipientUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if gift.DurationUnit == models.GiftDurationLifetime {
			if sub.IsLifetime() && !sub.HasPaidLink() {
				sub.TransactionType = models.TransactionTypeGift
				sub.Tier = models.TierFree
				sub.Status = models.SubscriptionStatusCanceled
				sub.CurrentPeriodEnd = &now
			}
		} else if sub.CurrentPeriodEnd != nil && !sub.IsLifetime() {
			end := sub.CurrentPeriodEnd.Add(-gift.GrantedDuration())
			sub.CurrentPeriodEnd = &end
			if !sub.HasPaidLink() && !end.After(now) {
				sub.Tier = models.TierFree
				sub.Status = models.SubscriptionStatusCanceled
			}
		}

		if sub.GiftQuantity >= gift.Quantity {
			sub.GiftQuantity -= gift.Quantity
		} else {
			sub.GiftQuantity = 0
		}

		return tx.UpsertSubscription(sub)
	})
	return found, err
}

func normalizeDurationUnit(unit string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case models.GiftDurationYear:
		return models.GiftDurationYear
	case models.GiftDurationLifetime:
		return models.GiftDurationLifetime
	default:
		return models.GiftDurationMonth
	}
}
