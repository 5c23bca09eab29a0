package payments

import (
	"context"
	"time"
)

// Provider names stored on links.
const (
	ProviderStripe = "stripe"
	ProviderFake   = "fake"
)

// CheckoutParams describes the payment a checkout provider should collect.
type CheckoutParams struct {
	OrgID           string
	ContactID       string
	ConversationID  string
	LinkID          string
	PhoneNumber     string
	AmountCents     int
	Description     string
	BookingIDs      []string
	ExpiresAt       time.Time
	SuccessURL      string
	CancelURL       string
	StripeAccountID string
}

// CheckoutResponse is the hosted checkout page created for a link.
type CheckoutResponse struct {
	URL        string
	ProviderID string
	Provider   string
}

// CheckoutProvider creates payment links for a specific provider.
type CheckoutProvider interface {
	CreatePaymentLink(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error)
}

// StatusPoller reads the provider-side status of a link. Implementations
// return StatusPending when the provider has nothing final yet.
type StatusPoller interface {
	FetchStatus(ctx context.Context, link *Link) (Status, error)
}
