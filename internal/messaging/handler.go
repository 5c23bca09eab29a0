package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	"github.com/wolfman30/medspa-booking-engine/internal/conversation"
	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

var errBadTwilioSignature = errors.New("messaging: invalid twilio signature")

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// ContactResolver finds or registers the customer behind a phone number.
type ContactResolver interface {
	FindOrCreate(ctx context.Context, orgID, phone, name string) (*contacts.Contact, error)
}

// Handler receives inbound SMS webhooks and queues them as turns. Replies
// are texted back by the worker once the turn is processed.
type Handler struct {
	authToken     string
	publicBaseURL string
	publisher     conversation.TurnEnqueuer
	orgResolver   OrgResolver
	contacts      ContactResolver
	metrics       *metrics.MessagingMetrics
	logger        *logging.Logger
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithPublicBaseURL sets the externally visible base URL used to validate
// Twilio signatures behind a proxy.
func WithPublicBaseURL(base string) HandlerOption {
	return func(h *Handler) { h.publicBaseURL = base }
}

// WithHandlerMetrics records inbound webhook outcomes.
func WithHandlerMetrics(m *metrics.MessagingMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a webhook handler. An empty authToken disables
// signature validation.
func NewHandler(authToken string, publisher conversation.TurnEnqueuer, resolver OrgResolver, contactResolver ContactResolver, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	if resolver == nil {
		panic("messaging: org resolver cannot be nil")
	}
	if contactResolver == nil {
		panic("messaging: contact resolver cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		authToken:   authToken,
		publisher:   publisher,
		orgResolver: resolver,
		contacts:    contactResolver,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TwilioWebhook accepts an inbound SMS and queues it as a turn. Twilio gets
// an empty TwiML document back; the reply is texted by the worker.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveWebhookLatency("twilio", time.Since(start).Seconds()) }()

	ctx, span := messagingTracer.Start(r.Context(), "messaging.twilio.webhook")
	defer span.End()
	reject := func(outcome string, status int, text string, err error, args ...any) {
		h.logger.Warn("twilio webhook rejected", append([]any{"outcome", outcome, "error", err}, args...)...)
		h.metrics.ObserveInbound("twilio", outcome)
		span.RecordError(err)
		http.Error(w, text, status)
	}

	if h.authToken != "" && !ValidateTwilioSignature(r, h.authToken, RequestURL(r, h.publicBaseURL)) {
		reject("unauthorized", http.StatusUnauthorized, "Unauthorized", errBadTwilioSignature)
		return
	}
	msg, err := ParseInboundSMS(r)
	if err != nil {
		reject("invalid", http.StatusBadRequest, "Bad Request", err)
		return
	}
	span.SetAttributes(attribute.String("message_sid", msg.MessageSID), attribute.String("to", msg.To))

	orgID, err := h.orgResolver.ResolveOrgID(ctx, msg.To)
	if err != nil {
		reject("unknown_number", http.StatusBadRequest, "Unknown destination number", err, "to", msg.To)
		return
	}
	span.SetAttributes(attribute.String("org_id", orgID))

	contact, err := h.contacts.FindOrCreate(ctx, orgID, msg.From, "")
	if err != nil {
		reject("error", http.StatusInternalServerError, "Failed to resolve contact", err, "org_id", orgID)
		return
	}

	turn := conversation.Turn{
		ConversationID: ConversationID(orgID, msg.From),
		OrgID:          orgID,
		ContactID:      contact.ID,
		PhoneNumber:    msg.From,
		Message:        msg.Body,
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	// Twilio retries carry the same MessageSid, which doubles as the dedup id.
	err = h.publisher.EnqueueTurn(enqueueCtx, msg.MessageSID, turn, conversation.WithoutJobTracking(), conversation.WithSMSReply())
	if err != nil {
		reject("error", http.StatusInternalServerError, "Failed to schedule reply", err, "org_id", orgID, "message_sid", msg.MessageSID)
		return
	}

	h.metrics.ObserveInbound("twilio", "accepted")
	h.logger.Info("twilio webhook accepted", "org_id", orgID, "conversation_id", turn.ConversationID, "message_sid", msg.MessageSID)
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, emptyTwiML)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
