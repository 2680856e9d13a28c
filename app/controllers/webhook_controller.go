package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"gorm.io/gorm"

	"github.com/dotabod/billing/app/models"
	"github.com/dotabod/billing/internal/pkg/billing"
	"github.com/dotabod/billing/internal/pkg/database"
	"github.com/dotabod/billing/internal/pkg/env"
)

// WebhookController handles inbound billing-provider webhooks. Signature
// verification is mandatory in production; non-production deliveries with bad
// signatures are logged and processed anyway to support webhook simulators.
type WebhookController struct {
	stripe billing.StripeClient
	prices billing.PriceTierMap
	repo   billing.Repository
}

// NewWebhookController creates a webhook controller with injected provider
// dependencies. A nil repo falls back to the global database handle per
// request.
func NewWebhookController(sc billing.StripeClient, prices billing.PriceTierMap, repo billing.Repository) *WebhookController {
	return &WebhookController{stripe: sc, prices: prices, repo: repo}
}

// NewWebhookControllerFromEnv wires the controller from environment config.
func NewWebhookControllerFromEnv() *WebhookController {
	return NewWebhookController(stripeClientFromEnv(), priceTierMapFromEnv(), nil)
}

func (wc *WebhookController) repository() billing.Repository {
	if wc.repo != nil {
		return wc.repo
	}
	return billing.NewRepository(database.GetDB())
}

func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	event, err := webhook.ConstructEvent(rawBody, c.Get("Stripe-Signature"), secret)
	if err != nil {
		if !env.IsDev() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		log.Printf("stripe webhook: signature verification failed (%v), processing anyway in dev", err)
		if jsonErr := json.Unmarshal(rawBody, &event); jsonErr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
	}
	if event.ID == "" {
		// Nothing to key idempotency on; acknowledge and move on.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := billing.NewService(wc.repository(), wc.prices)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return wc.handleSubscriptionEvent(ctx, c, svc, &event)
	case "customer.subscription.deleted":
		return wc.handleSubscriptionDeleted(ctx, c, svc, &event)
	case "checkout.session.completed":
		return wc.handleCheckoutCompleted(ctx, c, svc, &event)
	case "invoice.paid":
		return wc.handleInvoicePaid(ctx, c, svc, &event)
	case "charge.refunded":
		return wc.handleChargeRefunded(ctx, c, svc, &event)
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
}

func (wc *WebhookController) handleSubscriptionEvent(ctx context.Context, c *fiber.Ctx, svc *billing.Service, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if sub.ID == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	userID, err := svc.ResolveUserID(ctx, parseUintField(sub.Metadata["userId"]), customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("stripe webhook: no local user for subscription %s, ignoring", sub.ID)
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user_lookup_failed"})
	}

	in := billing.NormalizedSubscription{
		UserID:               userID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		ProviderStatus:       string(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		in.StripePriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0)
		in.CurrentPeriodEnd = &end
	}

	_, err = billing.ProcessEventIdempotently(ctx, svc.Repo(), models.BillingProviderStripe, event.ID, event.Type, func(tx billing.Repository) error {
		_, syncErr := svc.WithRepo(tx).SyncSubscription(ctx, in)
		return syncErr
	})
	if err != nil {
		log.Printf("stripe webhook: subscription sync failed for event %s: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_sync_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (wc *WebhookController) handleSubscriptionDeleted(ctx context.Context, c *fiber.Ctx, svc *billing.Service, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if sub.ID == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	_, err := billing.ProcessEventIdempotently(ctx, svc.Repo(), models.BillingProviderStripe, event.ID, event.Type, func(tx billing.Repository) error {
		_, delErr := svc.WithRepo(tx).HandleSubscriptionDeleted(ctx, sub.ID)
		if errors.Is(delErr, gorm.ErrRecordNotFound) {
			log.Printf("stripe webhook: no local row for deleted subscription %s", sub.ID)
			return nil
		}
		return delErr
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_cancel_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (wc *WebhookController) handleCheckoutCompleted(ctx context.Context, c *fiber.Ctx, svc *billing.Service, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if session.ID == "" || session.Metadata["isGift"] != "true" {
		// Non-gift checkouts are reconciled by their subscription events.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	recipientID := parseUintField(session.Metadata["recipientUserId"])
	if recipientID == 0 {
		log.Printf("stripe webhook: gift checkout %s missing recipient, ignoring", session.ID)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	in := billing.GiftInput{
		CheckoutSessionID: session.ID,
		GifterName:        session.Metadata["gifterName"],
		Message:           session.Metadata["giftMessage"],
		RecipientUserID:   recipientID,
		Quantity:          parseIntField(session.Metadata["giftQuantity"], 1),
		DurationUnit:      session.Metadata["giftDuration"],
		AmountCents:       session.AmountTotal,
		Currency:          string(session.Currency),
	}
	if gifterID := parseUintField(session.Metadata["gifterUserId"]); gifterID != 0 {
		in.GifterUserID = &gifterID
	}

	gifts := billing.NewGiftService(svc.Repo(), wc.stripe)
	_, err := billing.ProcessEventIdempotently(ctx, svc.Repo(), models.BillingProviderStripe, event.ID, event.Type, func(tx billing.Repository) error {
		_, giftErr := gifts.WithRepo(tx).ApplyGift(ctx, in)
		return giftErr
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "gift_apply_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (wc *WebhookController) handleInvoicePaid(ctx context.Context, c *fiber.Ctx, svc *billing.Service, event *stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if invoice.ID == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	_, err := billing.ProcessEventIdempotently(ctx, svc.Repo(), models.BillingProviderStripe, event.ID, event.Type, func(tx billing.Repository) error {
		charge, chErr := tx.GetOpenNodeChargeByInvoice(invoice.ID)
		if chErr != nil {
			if errors.Is(chErr, gorm.ErrRecordNotFound) {
				// Card-paid invoice; the subscription events carry the state.
				return nil
			}
			return chErr
		}
		now := time.Now()
		charge.Status = models.OpenNodeChargePaid
		charge.LastWebhookAt = &now
		return tx.UpsertOpenNodeCharge(charge)
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "invoice_sync_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (wc *WebhookController) handleChargeRefunded(ctx context.Context, c *fiber.Ctx, svc *billing.Service, event *stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if charge.ID == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	gifts := billing.NewGiftService(svc.Repo(), wc.stripe)
	_, err := billing.ProcessEventIdempotently(ctx, svc.Repo(), models.BillingProviderStripe, event.ID, event.Type, func(tx billing.Repository) error {
		return gifts.WithRepo(tx).ProcessGiftRefund(ctx, &charge)
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "refund_processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleOpenNodeWebhook processes cryptocurrency charge status callbacks. The
// charge status is recorded locally first; marking the Stripe invoice paid is
// an out-of-band call whose failure must not fail the webhook response.
func (wc *WebhookController) HandleOpenNodeWebhook(c *fiber.Ctx) error {
	chargeID := strings.TrimSpace(c.FormValue("id"))
	if chargeID == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	apiKey := env.GetEnv("OPENNODE_API_KEY", "")
	if !billing.VerifyOpenNodeSignature(chargeID, c.FormValue("hashed_order"), apiKey) {
		if !env.IsDev() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		log.Printf("opennode webhook: signature verification failed for charge %s, processing anyway in dev", chargeID)
	}

	invoiceID := strings.TrimSpace(c.FormValue("order_id"))
	if invoiceID == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	status := normalizeOpenNodeStatus(c.FormValue("status"))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo := wc.repository()
	// OpenNode sends no event ID; each charge/status transition is keyed
	// synthetically.
	eventID := chargeID + ":" + status
	_, err := billing.ProcessEventIdempotently(ctx, repo, models.BillingProviderOpenNode, eventID, "charge."+status, func(tx billing.Repository) error {
		now := time.Now()
		charge, chErr := tx.GetOpenNodeCharge(chargeID)
		if chErr != nil {
			if !errors.Is(chErr, gorm.ErrRecordNotFound) {
				return chErr
			}
			charge = &models.OpenNodeCharge{ChargeID: chargeID, StripeInvoiceID: invoiceID}
		}
		charge.Status = status
		charge.LastWebhookAt = &now
		return tx.UpsertOpenNodeCharge(charge)
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "charge_sync_failed"})
	}

	if status == models.OpenNodeChargePaid {
		if _, payErr := wc.stripe.PayInvoiceOutOfBand(ctx, invoiceID, "opennode:"+chargeID); payErr != nil {
			log.Printf("opennode webhook: failed to mark invoice %s paid: %v", invoiceID, payErr)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func normalizeOpenNodeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.OpenNodeChargePaid:
		return models.OpenNodeChargePaid
	case models.OpenNodeChargeUnderpaid:
		return models.OpenNodeChargeUnderpaid
	case models.OpenNodeChargeRefunded:
		return models.OpenNodeChargeRefunded
	case models.OpenNodeChargeExpired:
		return models.OpenNodeChargeExpired
	default:
		return models.OpenNodeChargeProcessing
	}
}
