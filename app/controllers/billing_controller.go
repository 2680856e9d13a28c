package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/gorm"

	"github.com/dotabod/billing/app/models"
	"github.com/dotabod/billing/app/repository"
	"github.com/dotabod/billing/internal/pkg/billing"
	"github.com/dotabod/billing/internal/pkg/cache"
	"github.com/dotabod/billing/internal/pkg/database"
	"github.com/dotabod/billing/internal/pkg/entitlements"
	"github.com/dotabod/billing/internal/pkg/env"
	"github.com/dotabod/billing/internal/pkg/usercontext"
)

const subscriptionCacheTTL = 30 * time.Second

var requestValidator = validator.New()

// BillingController serves the dashboard billing endpoints and the
// cryptocurrency paylink redirect.
type BillingController struct {
	cache    cache.Cache
	stripe   billing.StripeClient
	opennode *billing.OpenNodeClient
	prices   billing.PriceTierMap
}

// NewBillingController creates a billing controller with injected
// dependencies.
func NewBillingController(cc cache.Cache, sc billing.StripeClient, on *billing.OpenNodeClient, prices billing.PriceTierMap) *BillingController {
	return &BillingController{cache: cc, stripe: sc, opennode: on, prices: prices}
}

// NewBillingControllerFromEnv wires the controller from environment config.
func NewBillingControllerFromEnv(cc cache.Cache) *BillingController {
	return NewBillingController(cc, stripeClientFromEnv(), billing.NewOpenNodeClientFromEnv(), priceTierMapFromEnv())
}

type checkoutSessionRequest struct {
	PriceID           string `json:"price_id" validate:"required"`
	Gift              bool   `json:"gift"`
	RecipientUsername string `json:"recipient_username" validate:"required_if=Gift true"`
	GiftQuantity      int    `json:"gift_quantity" validate:"omitempty,min=1,max=120"`
	GiftDuration      string `json:"gift_duration" validate:"omitempty,oneof=month year lifetime"`
	GiftMessage       string `json:"gift_message" validate:"max=500"`
}

// HandleCreateCheckoutSession creates a Stripe checkout session for the
// authenticated user, in subscription mode for self-purchases and payment
// mode for gifts.
func (bc *BillingController) HandleCreateCheckoutSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req checkoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := requestValidator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := database.GetDB()
	repo := billing.NewRepository(db)
	user, err := repo.GetUserByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user_lookup_failed"})
	}

	customers := billing.NewCustomerService(repo, bc.stripe)
	customerID, err := customers.EnsureCustomer(ctx, user)
	if err != nil {
		log.Printf("checkout: ensure customer failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "customer_setup_failed"})
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(base + "/dashboard/billing?paid=true"),
		CancelURL:  stripe.String(base + "/dashboard/billing"),
	}

	if req.Gift {
		recipient, err := repo.GetUserByUsername(strings.TrimSpace(req.RecipientUsername))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Recipient not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "recipient_lookup_failed"})
		}
		qty := req.GiftQuantity
		if qty < 1 {
			qty = 1
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems[0].Quantity = stripe.Int64(int64(qty))
		params.AddMetadata("isGift", "true")
		params.AddMetadata("recipientUserId", fmt.Sprintf("%d", recipient.ID))
		params.AddMetadata("gifterUserId", fmt.Sprintf("%d", user.ID))
		params.AddMetadata("gifterName", user.DisplayName)
		params.AddMetadata("giftQuantity", fmt.Sprintf("%d", qty))
		params.AddMetadata("giftDuration", req.GiftDuration)
		params.AddMetadata("giftMessage", req.GiftMessage)
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"userId": fmt.Sprintf("%d", user.ID)},
		}
		params.AddMetadata("userId", fmt.Sprintf("%d", user.ID))
	}

	session, err := bc.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		log.Printf("checkout: session creation failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_session_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"id": session.ID, "url": session.URL})
}

// HandleCreatePortalSession creates a Stripe billing-portal session for the
// authenticated user.
func (bc *BillingController) HandleCreatePortalSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo := billing.NewRepository(database.GetDB())
	user, err := repo.GetUserByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user_lookup_failed"})
	}

	customers := billing.NewCustomerService(repo, bc.stripe)
	customerID, err := customers.EnsureCustomer(ctx, user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "customer_setup_failed"})
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	session, err := bc.stripe.CreatePortalSession(ctx, &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(base + "/dashboard/billing"),
	})
	if err != nil {
		log.Printf("portal: session creation failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "portal_session_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": session.URL})
}

type subscriptionResponse struct {
	UserID            uint       `json:"user_id"`
	Tier              string     `json:"tier"`
	Status            string     `json:"status"`
	TransactionType   string     `json:"transaction_type"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// HandleGetSubscription returns subscription state for the authenticated user
// or, with ?username=, for another user (overlay status checks). Responses
// are cached briefly to absorb overlay polling.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	username := strings.TrimSpace(c.Query("username"))
	cacheKey := "sub:user:" + fmt.Sprint(userCtx.UserID)
	if username != "" {
		cacheKey = "sub:name:" + strings.ToLower(username)
	}

	if cached, err := bc.cache.Get(ctx, cacheKey); err == nil {
		var resp subscriptionResponse
		if json.Unmarshal([]byte(cached), &resp) == nil {
			return c.Status(fiber.StatusOK).JSON(resp)
		}
	}

	repos := repository.GetGlobalFactory()
	var (
		sub *models.Subscription
		err error
	)
	if username != "" {
		sub, err = repos.GetSubscriptionRepository().GetByUsername(username)
	} else {
		sub, err = repos.GetSubscriptionRepository().GetByUserID(userCtx.UserID)
	}
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_lookup_failed"})
		}
		sub = nil
	}

	resp := subscriptionResponse{
		UserID: userCtx.UserID,
		Tier:   string(entitlements.EffectiveTier(sub, time.Now())),
		Status: models.SubscriptionStatusCanceled,
	}
	if sub != nil {
		resp.UserID = sub.UserID
		resp.Status = sub.Status
		resp.TransactionType = sub.TransactionType
		resp.CurrentPeriodEnd = sub.CurrentPeriodEnd
		resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}

	if encoded, err := json.Marshal(resp); err == nil {
		_ = bc.cache.Set(ctx, cacheKey, string(encoded), subscriptionCacheTTL)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleGetCredits returns the user's Stripe credit balance in cents. Stripe
// represents credit as a negative customer balance.
func (bc *BillingController) HandleGetCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo := billing.NewRepository(database.GetDB())
	sub, err := repo.GetSubscriptionByUserID(userCtx.UserID)
	if err != nil || sub.StripeCustomerID == "" {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_lookup_failed"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"credit_cents": 0})
	}

	customer, err := bc.stripe.GetCustomer(ctx, sub.StripeCustomerID)
	if err != nil {
		log.Printf("credits: customer fetch failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "balance_lookup_failed"})
	}

	credit := int64(0)
	if customer.Balance < 0 {
		credit = -customer.Balance
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"credit_cents": credit})
}

// HandlePaylinkRedirect verifies a signed paylink token, creates (or reuses)
// an OpenNode charge for the scoped invoice, and redirects to the hosted
// cryptocurrency checkout.
func (bc *BillingController) HandlePaylinkRedirect(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	secret := env.GetEnv("PAYLINK_SECRET", "")

	claims, err := billing.VerifyPaylinkToken(token, secret)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_token"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := billing.NewRepository(database.GetDB())
	if existing, err := repo.GetOpenNodeChargeByInvoice(claims.InvoiceID); err == nil &&
		existing.Status == models.OpenNodeChargeProcessing && existing.HostedCheckout != "" {
		return c.Redirect(existing.HostedCheckout, fiber.StatusSeeOther)
	}

	invoice, err := bc.stripe.GetInvoice(ctx, claims.InvoiceID)
	if err != nil {
		log.Printf("paylink: invoice fetch failed for %s: %v", claims.InvoiceID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "invoice_lookup_failed"})
	}
	if invoice.AmountDue <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invoice_not_payable"})
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
	charge, err := bc.opennode.CreateCharge(ctx, billing.OpenNodeChargeRequest{
		Amount:      float64(invoice.AmountDue) / 100,
		Currency:    strings.ToUpper(string(invoice.Currency)),
		Description: "Dotabod Pro subscription invoice",
		OrderID:     invoice.ID,
		CallbackURL: base + "/webhooks/opennode",
		SuccessURL:  base + "/dashboard/billing?crypto=pending",
	})
	if err != nil {
		log.Printf("paylink: charge creation failed for invoice %s: %v", claims.InvoiceID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "charge_creation_failed"})
	}

	record := &models.OpenNodeCharge{
		ChargeID:        charge.ID,
		StripeInvoiceID: invoice.ID,
		Status:          models.OpenNodeChargeProcessing,
		AmountCents:     invoice.AmountDue,
		Currency:        string(invoice.Currency),
		HostedCheckout:  charge.HostedCheckoutURL,
	}
	if err := repo.UpsertOpenNodeCharge(record); err != nil {
		log.Printf("paylink: failed to persist charge %s: %v", charge.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "charge_persist_failed"})
	}

	return c.Redirect(charge.HostedCheckoutURL, fiber.StatusSeeOther)
}
