package billing

import (
	"context"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// StripeClient is the narrow Stripe surface the billing services depend on.
// Tests inject fakes; production wires the stripe-go client.
type StripeClient interface {
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	ListCustomersByEmail(ctx context.Context, email string) ([]*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	ListCheckoutSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error)
	PayInvoiceOutOfBand(ctx context.Context, id, idempotencyKey string) (*stripe.Invoice, error)
}

type stripeClient struct {
	api *client.API
}

// NewStripeClient creates a StripeClient from an API secret key.
func NewStripeClient(secretKey string) StripeClient {
	return &stripeClient{api: client.New(secretKey, nil)}
}

func (c *stripeClient) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	params.Context = ctx
	return c.api.Customers.New(params)
}

func (c *stripeClient) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return c.api.Customers.Get(id, params)
}

func (c *stripeClient) ListCustomersByEmail(ctx context.Context, email string) ([]*stripe.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx

	var customers []*stripe.Customer
	it := c.api.Customers.List(params)
	for it.Next() {
		customers = append(customers, it.Customer())
	}
	return customers, it.Err()
}

func (c *stripeClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return c.api.CheckoutSessions.New(params)
}

func (c *stripeClient) ListCheckoutSessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx

	var sessions []*stripe.CheckoutSession
	it := c.api.CheckoutSessions.List(params)
	for it.Next() {
		sessions = append(sessions, it.CheckoutSession())
	}
	return sessions, it.Err()
}

func (c *stripeClient) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	params.Context = ctx
	return c.api.BillingPortalSessions.New(params)
}

func (c *stripeClient) GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx
	return c.api.Invoices.Get(id, params)
}

func (c *stripeClient) PayInvoiceOutOfBand(ctx context.Context, id, idempotencyKey string) (*stripe.Invoice, error) {
	params := &stripe.InvoicePayParams{PaidOutOfBand: stripe.Bool(true)}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(idempotencyKey)
	return c.api.Invoices.Pay(id, params)
}
