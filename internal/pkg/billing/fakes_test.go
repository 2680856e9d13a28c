package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v72"
	"gorm.io/gorm"

	"github.com/dotabod/billing/app/models"
)

// fakeRepo is an in-memory Repository. Transaction runs the callback against
// the same store; tests that need rollback semantics assert on the
// compensating delete instead.
type fakeRepo struct {
	users          map[uint]*models.User
	usersByName    map[string]*models.User
	subs           map[uint]*models.Subscription
	events         map[string]*models.WebhookEvent
	gifts          map[string]*models.GiftTransaction
	charges        map[string]*models.OpenNodeCharge
	createEventErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:       map[uint]*models.User{},
		usersByName: map[string]*models.User{},
		subs:        map[uint]*models.Subscription{},
		events:      map[string]*models.WebhookEvent{},
		gifts:       map[string]*models.GiftTransaction{},
		charges:     map[string]*models.OpenNodeCharge{},
	}
}

func (f *fakeRepo) Transaction(fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeRepo) addUser(u *models.User) {
	f.users[u.ID] = u
	f.usersByName[u.Username] = u
}

func (f *fakeRepo) GetUserByID(id uint) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetUserByUsername(username string) (*models.User, error) {
	if u, ok := f.usersByName[username]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) ListUserIDs(offset, limit int) ([]uint, error) {
	var ids []uint
	for id := range f.users {
		ids = append(ids, id)
	}
	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nil
}

func (f *fakeRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	if s, ok := f.subs[userID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetSubscriptionByCustomerID(customerID string) (*models.Subscription, error) {
	for _, s := range f.subs {
		if s.StripeCustomerID == customerID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetSubscriptionByProviderSubID(subscriptionID string) (*models.Subscription, error) {
	for _, s := range f.subs {
		if s.StripeSubscriptionID == subscriptionID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	copied := *sub
	f.subs[sub.UserID] = &copied
	return nil
}

func (f *fakeRepo) ListExpiredGraceSubscriptions(cutoff time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range f.subs {
		if s.Tier != models.TierPro || s.IsLifetime() || s.HasPaidLink() {
			continue
		}
		if s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.Before(cutoff) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func eventKey(provider, eventID string) string {
	return provider + "|" + eventID
}

func (f *fakeRepo) GetWebhookEvent(provider, eventID string) (*models.WebhookEvent, error) {
	if e, ok := f.events[eventKey(provider, eventID)]; ok {
		return e, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) CreateWebhookEvent(event *models.WebhookEvent) error {
	if f.createEventErr != nil {
		return f.createEventErr
	}
	key := eventKey(event.Provider, event.ProviderEventID)
	if _, ok := f.events[key]; ok {
		return gorm.ErrDuplicatedKey
	}
	f.events[key] = event
	return nil
}

func (f *fakeRepo) DeleteWebhookEvent(provider, eventID string) error {
	delete(f.events, eventKey(provider, eventID))
	return nil
}

func (f *fakeRepo) CreateGiftTransaction(gift *models.GiftTransaction) error {
	if _, ok := f.gifts[gift.CheckoutSessionID]; ok {
		return gorm.ErrDuplicatedKey
	}
	copied := *gift
	f.gifts[gift.CheckoutSessionID] = &copied
	return nil
}

func (f *fakeRepo) GetGiftTransactionBySession(sessionID string) (*models.GiftTransaction, error) {
	if g, ok := f.gifts[sessionID]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) SaveGiftTransaction(gift *models.GiftTransaction) error {
	copied := *gift
	f.gifts[gift.CheckoutSessionID] = &copied
	return nil
}

func (f *fakeRepo) GetOpenNodeCharge(chargeID string) (*models.OpenNodeCharge, error) {
	if c, ok := f.charges[chargeID]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetOpenNodeChargeByInvoice(invoiceID string) (*models.OpenNodeCharge, error) {
	for _, c := range f.charges {
		if c.StripeInvoiceID == invoiceID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) UpsertOpenNodeCharge(charge *models.OpenNodeCharge) error {
	copied := *charge
	f.charges[charge.ChargeID] = &copied
	return nil
}

// fakeStripe records calls and serves canned responses.
type fakeStripe struct {
	customers        []*stripe.Customer
	createdCustomer  *stripe.Customer
	sessions         []*stripe.CheckoutSession
	listEmailCalls   int
	createCalls      int
	listSessionCalls int
	payCalls         []string
}

func (f *fakeStripe) CreateCustomer(_ context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.createCalls++
	if f.createdCustomer != nil {
		f.createdCustomer.Metadata = params.Metadata
		return f.createdCustomer, nil
	}
	return &stripe.Customer{ID: "cus_new", Metadata: params.Metadata}, nil
}

func (f *fakeStripe) GetCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	for _, c := range f.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.New("no such customer")
}

func (f *fakeStripe) ListCustomersByEmail(_ context.Context, _ string) ([]*stripe.Customer, error) {
	f.listEmailCalls++
	return f.customers, nil
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/cs_test"}, nil
}

func (f *fakeStripe) ListCheckoutSessionsByPaymentIntent(_ context.Context, _ string) ([]*stripe.CheckoutSession, error) {
	f.listSessionCalls++
	return f.sessions, nil
}

func (f *fakeStripe) CreatePortalSession(_ context.Context, _ *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/session"}, nil
}

func (f *fakeStripe) GetInvoice(_ context.Context, id string) (*stripe.Invoice, error) {
	return &stripe.Invoice{ID: id, AmountDue: 1000, Currency: stripe.CurrencyUSD}, nil
}

func (f *fakeStripe) PayInvoiceOutOfBand(_ context.Context, id, _ string) (*stripe.Invoice, error) {
	f.payCalls = append(f.payCalls, id)
	return &stripe.Invoice{ID: id, Paid: true}, nil
}
