package controllers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/gorm"

	"github.com/dotabod/billing/app/models"
	"github.com/dotabod/billing/internal/pkg/billing"
	"github.com/dotabod/billing/internal/pkg/env"
)

// webhookRepo is an in-memory billing.Repository covering the paths the
// webhook handlers touch.
type webhookRepo struct {
	billing.Repository

	subs      map[uint]*models.Subscription
	events    map[string]*models.WebhookEvent
	gifts     map[string]*models.GiftTransaction
	charges   map[string]*models.OpenNodeCharge
	upsertErr error
}

func newWebhookRepo() *webhookRepo {
	return &webhookRepo{
		subs:    map[uint]*models.Subscription{},
		events:  map[string]*models.WebhookEvent{},
		gifts:   map[string]*models.GiftTransaction{},
		charges: map[string]*models.OpenNodeCharge{},
	}
}

func (r *webhookRepo) Transaction(fn func(billing.Repository) error) error {
	return fn(r)
}

func (r *webhookRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	if s, ok := r.subs[userID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookRepo) GetSubscriptionByCustomerID(customerID string) (*models.Subscription, error) {
	for _, s := range r.subs {
		if s.StripeCustomerID == customerID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookRepo) GetSubscriptionByProviderSubID(subscriptionID string) (*models.Subscription, error) {
	for _, s := range r.subs {
		if s.StripeSubscriptionID == subscriptionID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookRepo) UpsertSubscription(sub *models.Subscription) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	copied := *sub
	r.subs[sub.UserID] = &copied
	return nil
}

func (r *webhookRepo) GetWebhookEvent(provider, eventID string) (*models.WebhookEvent, error) {
	if e, ok := r.events[provider+"|"+eventID]; ok {
		return e, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookRepo) CreateWebhookEvent(event *models.WebhookEvent) error {
	key := event.Provider + "|" + event.ProviderEventID
	if _, ok := r.events[key]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.events[key] = event
	return nil
}

func (r *webhookRepo) DeleteWebhookEvent(provider, eventID string) error {
	delete(r.events, provider+"|"+eventID)
	return nil
}

func (r *webhookRepo) CreateGiftTransaction(gift *models.GiftTransaction) error {
	if _, ok := r.gifts[gift.CheckoutSessionID]; ok {
		return gorm.ErrDuplicatedKey
	}
	copied := *gift
	r.gifts[gift.CheckoutSessionID] = &copied
	return nil
}

func (r *webhookRepo) GetGiftTransactionBySession(sessionID string) (*models.GiftTransaction, error) {
	if g, ok := r.gifts[sessionID]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookRepo) SaveGiftTransaction(gift *models.GiftTransaction) error {
	copied := *gift
	r.gifts[gift.CheckoutSessionID] = &copied
	return nil
}

func (r *webhookRepo) GetOpenNodeCharge(chargeID string) (*models.OpenNodeCharge, error) {
	if c, ok := r.charges[chargeID]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookRepo) GetOpenNodeChargeByInvoice(invoiceID string) (*models.OpenNodeCharge, error) {
	for _, c := range r.charges {
		if c.StripeInvoiceID == invoiceID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *webhookRepo) UpsertOpenNodeCharge(charge *models.OpenNodeCharge) error {
	copied := *charge
	r.charges[charge.ChargeID] = &copied
	return nil
}

// stubStripe satisfies billing.StripeClient for webhook tests.
type stubStripe struct {
	sessions []*stripe.CheckoutSession
	payCalls []string
}

func (s *stubStripe) CreateCustomer(context.Context, *stripe.CustomerParams) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_stub"}, nil
}

func (s *stubStripe) GetCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: id}, nil
}

func (s *stubStripe) ListCustomersByEmail(context.Context, string) ([]*stripe.Customer, error) {
	return nil, nil
}

func (s *stubStripe) CreateCheckoutSession(context.Context, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_stub"}, nil
}

func (s *stubStripe) ListCheckoutSessionsByPaymentIntent(context.Context, string) ([]*stripe.CheckoutSession, error) {
	return s.sessions, nil
}

func (s *stubStripe) CreatePortalSession(context.Context, *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/stub"}, nil
}

func (s *stubStripe) GetInvoice(_ context.Context, id string) (*stripe.Invoice, error) {
	return &stripe.Invoice{ID: id}, nil
}

func (s *stubStripe) PayInvoiceOutOfBand(_ context.Context, id, _ string) (*stripe.Invoice, error) {
	s.payCalls = append(s.payCalls, id)
	return &stripe.Invoice{ID: id, Paid: true}, nil
}

func setTestEnv(t *testing.T, appEnv string) {
	t.Helper()
	old := env.Env
	env.Env = map[string]string{
		"APP_ENV":          appEnv,
		"OPENNODE_API_KEY": "on-test-key",
	}
	t.Cleanup(func() { env.Env = old })
}

func newStripeWebhookApp(repo *webhookRepo, sc billing.StripeClient) *fiber.App {
	wc := NewWebhookController(sc, billing.NewPriceTierMap("price_pro"), repo)
	app := fiber.New()
	app.Post("/webhooks/stripe", wc.HandleStripeWebhook)
	app.Post("/webhooks/opennode", wc.HandleOpenNodeWebhook)
	return app
}

func postStripeEvent(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestHandleStripeWebhook_ProductionRejectsBadSignature(t *testing.T) {
	setTestEnv(t, "prod")
	repo := newWebhookRepo()
	app := newStripeWebhookApp(repo, &stubStripe{})

	status := postStripeEvent(t, app, `{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`)

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Empty(t, repo.events, "a rejected delivery must not touch the ledger")
}

func TestHandleStripeWebhook_DevRelaxedProcessesDeletedSubscription(t *testing.T) {
	setTestEnv(t, "dev")
	repo := newWebhookRepo()
	end := time.Now().Add(10 * 24 * time.Hour)
	repo.subs[1] = &models.Subscription{
		UserID:               1,
		Tier:                 models.TierPro,
		Status:               models.SubscriptionStatusActive,
		StripeSubscriptionID: "sub_1",
		CurrentPeriodEnd:     &end,
	}
	app := newStripeWebhookApp(repo, &stubStripe{})

	status := postStripeEvent(t, app, `{"id":"evt_del","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)

	require.Equal(t, fiber.StatusOK, status)
	sub := repo.subs[1]
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, models.TierFree, sub.Tier)
	assert.Equal(t, "", sub.StripeSubscriptionID)

	_, err := repo.GetWebhookEvent(models.BillingProviderStripe, "evt_del")
	assert.NoError(t, err, "successful delivery must leave a ledger marker")
}

func TestHandleStripeWebhook_MissingEventIDIgnored(t *testing.T) {
	setTestEnv(t, "dev")
	repo := newWebhookRepo()
	app := newStripeWebhookApp(repo, &stubStripe{})

	status := postStripeEvent(t, app, `{"type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, repo.events)
}

func TestHandleStripeWebhook_UnknownEventTypeIgnored(t *testing.T) {
	setTestEnv(t, "dev")
	repo := newWebhookRepo()
	app := newStripeWebhookApp(repo, &stubStripe{})

	status := postStripeEvent(t, app, `{"id":"evt_x","type":"customer.created","data":{"object":{}}}`)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, repo.events)
}

func TestHandleStripeWebhook_MissingSubscriptionIDIgnored(t *testing.T) {
	setTestEnv(t, "dev")
	repo := newWebhookRepo()
	app := newStripeWebhookApp(repo, &stubStripe{})

	status := postStripeEvent(t, app, `{"id":"evt_y","type":"customer.subscription.updated","data":{"object":{}}}`)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, repo.events)
	assert.Empty(t, repo.subs)
}

func TestHandleStripeWebhook_HandlerFailureReturns500AndClearsMarker(t *testing.T) {
	setTestEnv(t, "dev")
	repo := newWebhookRepo()
	repo.subs[1] = &models.Subscription{
		UserID:               1,
		Tier:                 models.TierPro,
		Status:               models.SubscriptionStatusActive,
		StripeSubscriptionID: "sub_1",
	}
	repo.upsertErr = gorm.ErrInvalidTransaction
	app := newStripeWebhookApp(repo, &stubStripe{})

	status := postStripeEvent(t, app, `{"id":"evt_fail","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)

	assert.Equal(t, fiber.StatusInternalServerError, status)
	_, err := repo.GetWebhookEvent(models.BillingProviderStripe, "evt_fail")
	assert.Error(t, err, "failed delivery must not leave a ledger marker")
}

func postOpenNodeForm(t *testing.T, app *fiber.App, form url.Values) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/opennode", strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func openNodeSignature(chargeID, apiKey string) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write([]byte(chargeID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleOpenNodeWebhook_PaidMarksChargeAndPaysInvoice(t *testing.T) {
	setTestEnv(t, "prod")
	repo := newWebhookRepo()
	sc := &stubStripe{}
	app := newStripeWebhookApp(repo, sc)

	status := postOpenNodeForm(t, app, url.Values{
		"id":           {"charge_1"},
		"hashed_order": {openNodeSignature("charge_1", "on-test-key")},
		"order_id":     {"in_1"},
		"status":       {"paid"},
	})

	require.Equal(t, fiber.StatusOK, status)
	charge, err := repo.GetOpenNodeCharge("charge_1")
	require.NoError(t, err)
	assert.Equal(t, models.OpenNodeChargePaid, charge.Status)
	assert.Equal(t, "in_1", charge.StripeInvoiceID)
	assert.Equal(t, []string{"in_1"}, sc.payCalls)
}

func TestHandleOpenNodeWebhook_ProductionRejectsBadSignature(t *testing.T) {
	setTestEnv(t, "prod")
	repo := newWebhookRepo()
	app := newStripeWebhookApp(repo, &stubStripe{})

	status := postOpenNodeForm(t, app, url.Values{
		"id":           {"charge_1"},
		"hashed_order": {"deadbeef"},
		"order_id":     {"in_1"},
		"status":       {"paid"},
	})

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Empty(t, repo.charges)
}

func TestHandleOpenNodeWebhook_MissingOrderIDIsNoOp(t *testing.T) {
	setTestEnv(t, "prod")
	repo := newWebhookRepo()
	sc := &stubStripe{}
	app := newStripeWebhookApp(repo, sc)

	status := postOpenNodeForm(t, app, url.Values{
		"id":           {"charge_1"},
		"hashed_order": {openNodeSignature("charge_1", "on-test-key")},
		"status":       {"paid"},
	})

	assert.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, repo.charges)
	assert.Empty(t, sc.payCalls)
}

func TestHandleOpenNodeWebhook_DuplicateStatusProcessedOnce(t *testing.T) {
	setTestEnv(t, "prod")
	repo := newWebhookRepo()
	sc := &stubStripe{}
	app := newStripeWebhookApp(repo, sc)

	form := url.Values{
		"id":           {"charge_1"},
		"hashed_order": {openNodeSignature("charge_1", "on-test-key")},
		"order_id":     {"in_1"},
		"status":       {"paid"},
	}
	require.Equal(t, fiber.StatusOK, postOpenNodeForm(t, app, form))
	require.Equal(t, fiber.StatusOK, postOpenNodeForm(t, app, form))

	assert.Len(t, repo.events, 1, "the same charge/status transition must be ledgered once")
}