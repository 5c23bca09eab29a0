package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// maxStripePayload matches the size Stripe documents for webhook bodies.
const maxStripePayload = 65536

// LinkResolver settles a link once its final status is known.
type LinkResolver interface {
	Resolve(ctx context.Context, linkID string, status Status) (*Link, error)
}

// StripeWebhookHandler maps Stripe Checkout events onto payment link statuses.
type StripeWebhookHandler struct {
	secret    string
	resolver  LinkResolver
	processed events.Deduper
	logger    *logging.Logger
}

// NewStripeWebhookHandler verifies payloads against secret. An empty secret
// skips verification and is only meant for local development.
func NewStripeWebhookHandler(secret string, resolver LinkResolver, processed events.Deduper, logger *logging.Logger) *StripeWebhookHandler {
	if resolver == nil {
		panic("payments: link resolver required")
	}
	if processed == nil {
		panic("payments: processed store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{secret: secret, resolver: resolver, processed: processed, logger: logger}
}

var stripeEventStatus = map[stripe.EventType]Status{
	stripe.EventTypeCheckoutSessionCompleted:             StatusPaid,
	stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: StatusPaid,
	stripe.EventTypeCheckoutSessionExpired:               StatusExpired,
	stripe.EventTypeCheckoutSessionAsyncPaymentFailed:    StatusFailed,
}

func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxStripePayload))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	evt, err := h.parseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, errBadStripeBody) {
			h.logger.Error("failed to decode stripe event", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		h.logger.Warn("stripe signature rejected", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	status, handled := stripeEventStatus[evt.Type]
	if !handled || evt.Data == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		h.logger.Error("failed to decode checkout session", "error", err, "event_id", evt.ID)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	// Delayed payment methods complete the session before the money moves.
	if evt.Type == stripe.EventTypeCheckoutSessionCompleted && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	done, err := h.processed.AlreadyProcessed(ctx, ProviderStripe, evt.ID)
	if err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if done {
		w.WriteHeader(http.StatusOK)
		return
	}

	linkID := sessionLinkID(&session)
	if linkID == "" {
		h.logger.Warn("stripe webhook missing link id", "event_id", evt.ID, "type", evt.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	link, err := h.resolver.Resolve(ctx, linkID, status)
	switch {
	case errors.Is(err, ErrLinkNotFound):
		h.logger.Warn("stripe webhook for unknown link", "event_id", evt.ID, "link_id", linkID)
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		h.logger.Error("stripe webhook settle failed", "error", err, "event_id", evt.ID, "link_id", linkID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.processed.MarkProcessed(ctx, ProviderStripe, evt.ID); err != nil {
		h.logger.Error("failed to record processed event", "error", err)
	}
	h.logger.Info("stripe webhook applied",
		"event_id", evt.ID,
		"type", evt.Type,
		"link_id", linkID,
		"org_id", link.OrgID,
		"status", string(link.Status),
	)
	w.WriteHeader(http.StatusOK)
}

var errBadStripeBody = errors.New("payments: malformed stripe event")

func (h *StripeWebhookHandler) parseEvent(payload []byte, signature string) (stripe.Event, error) {
	var evt stripe.Event
	if h.secret == "" {
		if err := json.Unmarshal(payload, &evt); err != nil {
			return evt, errors.Join(errBadStripeBody, err)
		}
		return evt, nil
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil && !isStripeSignatureError(err) {
		return evt, errors.Join(errBadStripeBody, err)
	}
	return evt, err
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

// sessionLinkID prefers the metadata written at creation and falls back to
// the client reference.
func sessionLinkID(session *stripe.CheckoutSession) string {
	if id := strings.TrimSpace(session.Metadata["link_id"]); id != "" {
		return id
	}
	return strings.TrimSpace(session.ClientReferenceID)
}
