package billing

import (
	"context"
	"testing"

	"github.com/stripe/stripe-go/v72"

	"github.com/dotabod/billing/app/models"
)

func TestEnsureCustomer_StoredIDFastPath(t *testing.T) {
	repo := newFakeRepo()
	repo.addUser(&models.User{ID: 7, Username: "streamer", Email: "s@example.com"})
	repo.subs[7] = &models.Subscription{UserID: 7, StripeCustomerID: "cus_stored"}
	sc := &fakeStripe{}

	id, err := NewCustomerService(repo, sc).EnsureCustomer(context.Background(), repo.users[7])
	if err != nil {
		t.Fatal(err)
	}
	if id != "cus_stored" {
		t.Fatalf("got %q, want stored customer ID", id)
	}
	if sc.listEmailCalls != 0 || sc.createCalls != 0 {
		t.Fatalf("fast path must not call the provider: list=%d create=%d", sc.listEmailCalls, sc.createCalls)
	}
}

func TestEnsureCustomer_ReusesCustomerByEmail(t *testing.T) {
	repo := newFakeRepo()
	user := &models.User{ID: 8, Username: "streamer", Email: "s@example.com"}
	repo.addUser(user)
	sc := &fakeStripe{customers: []*stripe.Customer{{ID: "cus_existing"}}}

	id, err := NewCustomerService(repo, sc).EnsureCustomer(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if id != "cus_existing" {
		t.Fatalf("got %q, want matched customer", id)
	}
	if sc.createCalls != 0 {
		t.Fatalf("must not create when an email match exists")
	}
}

func TestEnsureCustomer_NoEmailSkipsLookup(t *testing.T) {
	repo := newFakeRepo()
	user := &models.User{ID: 9, Username: "anon", Email: "   "}
	repo.addUser(user)
	sc := &fakeStripe{createdCustomer: &stripe.Customer{ID: "cus_created"}}

	id, err := NewCustomerService(repo, sc).EnsureCustomer(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if id != "cus_created" {
		t.Fatalf("got %q, want created customer", id)
	}
	if sc.listEmailCalls != 0 {
		t.Fatalf("email lookup must be skipped when the user has no email")
	}
	if sc.createCalls != 1 {
		t.Fatalf("expected exactly one create call, got %d", sc.createCalls)
	}

	// Metadata values must all be present as strings, empty rather than
	// missing.
	md := sc.createdCustomer.Metadata
	for _, key := range []string{"userId", "email", "name", "image", "locale"} {
		if _, ok := md[key]; !ok {
			t.Fatalf("metadata missing key %q", key)
		}
	}
	if md["userId"] != "9" {
		t.Fatalf("metadata userId = %q, want 9", md["userId"])
	}
	if md["email"] != "" {
		t.Fatalf("metadata email = %q, want empty string", md["email"])
	}
}

func TestEnsureCustomer_NilUser(t *testing.T) {
	repo := newFakeRepo()
	if _, err := NewCustomerService(repo, &fakeStripe{}).EnsureCustomer(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil user")
	}
}
