package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

var stripeTracer = otel.Tracer("booking-engine/payments/stripe")

// Stripe only accepts a session expiry between 30 minutes and 24 hours out.
const (
	stripeMinExpiry = 30 * time.Minute
	stripeMaxExpiry = 24 * time.Hour
)

const defaultLineItem = "Appointment payment"

// StripeAccountResolver returns the connected Stripe account ID for an org.
type StripeAccountResolver interface {
	GetStripeAccountID(ctx context.Context, orgID string) (string, error)
}

// StripeCheckoutService creates Checkout Sessions that pay out to the
// clinic's connected account as destination charges.
type StripeCheckoutService struct {
	secretKey  string
	successURL string
	cancelURL  string
	api        *client.API
	accounts   StripeAccountResolver
	logger     *logging.Logger
	dryRun     bool
	now        func() time.Time
}

func NewStripeCheckoutService(secretKey, successURL, cancelURL string, logger *logging.Logger) *StripeCheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	s := &StripeCheckoutService{
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
		now:        time.Now,
	}
	s.api = newStripeAPI(secretKey, "", logger)
	return s
}

func newStripeAPI(secretKey, baseURL string, logger *logging.Logger) *client.API {
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		LeveledLogger:     stripeLogger{logger},
		MaxNetworkRetries: stripe.Int64(1),
	}
	if baseURL != "" {
		cfg.URL = stripe.String(strings.TrimRight(baseURL, "/"))
	}
	return client.New(secretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})
}

// WithBaseURL points the client at another API host, such as a test server.
func (s *StripeCheckoutService) WithBaseURL(baseURL string) *StripeCheckoutService {
	if baseURL != "" {
		s.api = newStripeAPI(s.secretKey, baseURL, s.logger)
	}
	return s
}

// WithDryRun returns placeholder sessions without calling Stripe.
func (s *StripeCheckoutService) WithDryRun(enabled bool) *StripeCheckoutService {
	s.dryRun = enabled
	return s
}

func (s *StripeCheckoutService) WithAccountResolver(resolver StripeAccountResolver) *StripeCheckoutService {
	s.accounts = resolver
	return s
}

// CreatePaymentLink opens a Checkout Session for the link. The link ID is
// both the client reference and the idempotency key, so a retried create
// returns the same session.
func (s *StripeCheckoutService) CreatePaymentLink(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.checkout_sessions.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.org_id", params.OrgID),
		attribute.String("booking.link_id", params.LinkID),
		attribute.Int("booking.amount_cents", params.AmountCents),
	)

	if strings.TrimSpace(params.LinkID) == "" {
		return nil, errors.New("payments: stripe checkout requires link id")
	}
	if params.AmountCents <= 0 {
		return nil, errors.New("payments: stripe checkout requires a positive amount")
	}
	if s.dryRun {
		id := "cs_dryrun_" + uuid.NewString()[:8]
		s.logger.Info("stripe dry run: checkout session not created",
			"org_id", params.OrgID, "link_id", params.LinkID, "amount_cents", params.AmountCents)
		return &CheckoutResponse{URL: "https://checkout.stripe.com/dry-run/" + id, ProviderID: id, Provider: ProviderStripe}, nil
	}

	account := params.StripeAccountID
	if account == "" && s.accounts != nil && params.OrgID != "" {
		id, err := s.accounts.GetStripeAccountID(ctx, params.OrgID)
		if err != nil {
			return nil, fmt.Errorf("payments: stripe account lookup for org %s: %w", params.OrgID, err)
		}
		account = id
	}

	session, err := s.api.CheckoutSessions.New(s.sessionParams(ctx, params, account))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session")
		return nil, stripeAPIError(err)
	}
	if session.URL == "" {
		return nil, errors.New("payments: stripe response missing checkout url")
	}
	return &CheckoutResponse{URL: session.URL, ProviderID: session.ID, Provider: ProviderStripe}, nil
}

func (s *StripeCheckoutService) sessionParams(ctx context.Context, p CheckoutParams, account string) *stripe.CheckoutSessionParams {
	description := strings.TrimSpace(p.Description)
	if description == "" {
		description = defaultLineItem
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(p.LinkID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount:  stripe.Int64(int64(p.AmountCents)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(description)},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"org_id": p.OrgID, "link_id": p.LinkID},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("link-" + p.LinkID)

	if url := firstNonEmpty(p.SuccessURL, s.successURL); url != "" {
		params.SuccessURL = stripe.String(url)
	}
	if url := firstNonEmpty(p.CancelURL, s.cancelURL); url != "" {
		params.CancelURL = stripe.String(url)
	}
	if !p.ExpiresAt.IsZero() {
		if ttl := p.ExpiresAt.Sub(s.now()); ttl >= stripeMinExpiry && ttl <= stripeMaxExpiry {
			params.ExpiresAt = stripe.Int64(p.ExpiresAt.Unix())
		}
	}

	params.AddMetadata("org_id", p.OrgID)
	params.AddMetadata("link_id", p.LinkID)
	params.AddMetadata("contact_id", p.ContactID)
	if p.ConversationID != "" {
		params.AddMetadata("conversation_id", p.ConversationID)
	}
	if len(p.BookingIDs) > 0 {
		params.AddMetadata("booking_ids", strings.Join(p.BookingIDs, ","))
	}
	if account != "" {
		params.PaymentIntentData.TransferData = &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
			Destination: stripe.String(account),
		}
	}
	return params
}

// FetchStatus retrieves the session behind link and maps it onto a link
// status. Used by the expiry sweeper when a webhook never arrived.
func (s *StripeCheckoutService) FetchStatus(ctx context.Context, link *Link) (Status, error) {
	if link == nil || link.ProviderRef == "" || s.dryRun {
		return StatusPending, nil
	}
	ctx, span := stripeTracer.Start(ctx, "stripe.checkout_sessions.get")
	defer span.End()
	span.SetAttributes(attribute.String("booking.link_id", link.ID))

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := s.api.CheckoutSessions.Get(link.ProviderRef, params)
	if err != nil {
		span.RecordError(err)
		return StatusPending, stripeAPIError(err)
	}
	return sessionLinkStatus(session), nil
}

func sessionLinkStatus(session *stripe.CheckoutSession) Status {
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return StatusPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		return StatusExpired
	default:
		return StatusPending
	}
}

func stripeAPIError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return fmt.Errorf("payments: stripe api status %d: %s", se.HTTPStatusCode, se.Msg)
	}
	return fmt.Errorf("payments: stripe: %w", err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stripeLogger routes stripe-go's own logging through ours.
type stripeLogger struct {
	l *logging.Logger
}

func (s stripeLogger) Debugf(format string, v ...interface{}) { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s stripeLogger) Infof(format string, v ...interface{})  { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s stripeLogger) Warnf(format string, v ...interface{})  { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s stripeLogger) Errorf(format string, v ...interface{}) { s.l.Error(fmt.Sprintf(format, v...)) }
