package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/internal/rebooking"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

var routerTracer = otel.Tracer("booking-engine/conversation")

// Catalog is the clinic data the booking flows read.
type Catalog interface {
	PolicySource
	ActiveServices(ctx context.Context, orgID string) ([]clinic.Service, error)
	Service(ctx context.Context, orgID, serviceID string) (clinic.Service, error)
	Location(ctx context.Context, orgID string) (*time.Location, error)
}

// Recommender supplies availability context for single-session bookings.
type Recommender interface {
	Recommend(ctx context.Context, orgID, serviceID string, now time.Time) (string, error)
}

// PaymentGate is the subset of payments.Gate used by the flows.
type PaymentGate interface {
	RequiresPayment(ctx context.Context, orgID, serviceID string) (payments.Requirement, error)
	CreateAndSendLink(ctx context.Context, req payments.LinkRequest) (*payments.Link, string, error)
	ApplyLinkFailure(ctx context.Context, req payments.LinkRequest, cause error) (payments.Fallback, error)
	CheckStatus(ctx context.Context, linkID string) (payments.Status, error)
	SettleOnce(ctx context.Context, linkID string) (*payments.Link, bool, error)
}

// Turn is one inbound customer message.
type Turn struct {
	ConversationID string  `json:"conversation_id"`
	OrgID          string  `json:"org_id"`
	ContactID      string  `json:"contact_id"`
	PhoneNumber    string  `json:"phone_number"`
	Message        string  `json:"message"`
	DetectedIntent *Intent `json:"detected_intent,omitempty"`
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeContinued Outcome = "continued"
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Reply is the customer-facing answer to a turn. Cleared reports whether the
// conversation's context was removed.
type Reply struct {
	Text    string  `json:"text" dynamodbav:"text"`
	Outcome Outcome `json:"outcome" dynamodbav:"outcome"`
	Cleared bool    `json:"cleared" dynamodbav:"cleared"`
}

func continueWith(text string) Reply { return Reply{Text: text, Outcome: OutcomeContinued} }
func complete(text string) Reply     { return Reply{Text: text, Outcome: OutcomeCompleted, Cleared: true} }
func reject(text string) Reply       { return Reply{Text: text, Outcome: OutcomeRejected, Cleared: true} }
func fail() Reply                    { return Reply{Text: msgApology, Outcome: OutcomeFailed, Cleared: true} }

// Router hands each turn to the flow that owns the conversation.
type Router struct {
	store       ContextStore
	catalog     Catalog
	bookings    bookings.Repository
	contacts    ContactStore
	payments    PaymentGate
	extractor   Extractor
	intents     IntentDetector
	recommender Recommender
	suggester   *rebooking.Suggester
	guard       *EmailGuard
	tasks       *TaskRunner
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// RouterOption configures optional collaborators.
type RouterOption func(*Router)

func WithContacts(c ContactStore) RouterOption {
	return func(r *Router) { r.contacts = c }
}

// WithPaymentGate enables payment-gated confirmation. Without a gate every
// batch is confirmed directly.
func WithPaymentGate(g PaymentGate) RouterOption {
	return func(r *Router) { r.payments = g }
}

func WithExtractor(e Extractor) RouterOption {
	return func(r *Router) {
		if e != nil {
			r.extractor = e
		}
	}
}

func WithIntentDetector(d IntentDetector) RouterOption {
	return func(r *Router) {
		if d != nil {
			r.intents = d
		}
	}
}

func WithRecommender(rec Recommender) RouterOption {
	return func(r *Router) { r.recommender = rec }
}

func WithSuggester(s *rebooking.Suggester) RouterOption {
	return func(r *Router) {
		if s != nil {
			r.suggester = s
		}
	}
}

// WithTaskRunner routes events and archives through a side channel.
func WithTaskRunner(t *TaskRunner) RouterOption {
	return func(r *Router) { r.tasks = t }
}

func WithRouterMetrics(m *metrics.BookingMetrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithRouterClock overrides the time source.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter wires a router.
func NewRouter(store ContextStore, catalog Catalog, bookingRepo bookings.Repository, logger *logging.Logger, opts ...RouterOption) *Router {
	if store == nil {
		panic("conversation: context store required")
	}
	if catalog == nil {
		panic("conversation: catalog required")
	}
	if bookingRepo == nil {
		panic("conversation: booking repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Router{
		store:     store,
		catalog:   catalog,
		bookings:  bookingRepo,
		extractor: NewPatternExtractor(),
		intents:   PatternIntentDetector{},
		suggester: rebooking.NewSuggester(0),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recommender == nil {
		if rec, ok := catalog.(Recommender); ok {
			r.recommender = rec
		}
	}
	r.guard = NewEmailGuard(r.contacts, catalog, logger)
	if r.tasks == nil {
		r.tasks = NewTaskRunner(nil, nil, r.metrics, logger)
	}
	return r
}

// Route processes one turn. An existing context always decides the flow; a
// fresh conversation is classified by turn.DetectedIntent or the intent
// detector. The reply is never empty.
func (r *Router) Route(ctx context.Context, turn Turn) Reply {
	started := time.Now()
	ctx, span := routerTracer.Start(ctx, "conversation.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("org_id", turn.OrgID),
		attribute.String("conversation_id", turn.ConversationID),
	)
	logger := r.logger.WithConversation(turn.ConversationID, turn.OrgID)

	c, err := r.store.Get(ctx, turn.ConversationID)
	if err != nil && !errors.Is(err, ErrContextNotFound) {
		span.RecordError(err)
		logger.Error("conversation: load context failed", "error", err)
		reply := Reply{Text: msgApology, Outcome: OutcomeFailed}
		r.metrics.ObserveTurn("unknown", string(reply.Outcome), time.Since(started).Seconds())
		return reply
	}

	if c == nil {
		intent, ok := r.resolveIntent(ctx, turn)
		if !ok {
			text := msgHelp
			if isFlowAnswer(turn.Message) {
				text = msgStartOver
			}
			r.metrics.ObserveTurn("none", string(OutcomeContinued), time.Since(started).Seconds())
			return continueWith(text)
		}
		c = NewContext(turn.ConversationID, turn.OrgID, turn.ContactID, turn.PhoneNumber, intent, r.now())
		logger.Info("conversation: context created", "intent", string(intent))
	}
	span.SetAttributes(attribute.String("intent", string(c.Intent)))

	reply := r.dispatch(ctx, c, strings.TrimSpace(turn.Message))
	if reply.Text == "" {
		reply.Text = msgApology
	}

	if reply.Cleared {
		if err := r.store.Delete(ctx, c.ConversationID); err != nil {
			logger.Error("conversation: delete context failed", "error", err)
		}
		r.tasks.Archive(ctx, c, reply.Outcome, r.now())
	} else {
		c.UpdatedAt = r.now()
		if err := r.store.Save(ctx, c); err != nil {
			span.RecordError(err)
			logger.Error("conversation: save context failed", "error", err)
			_ = r.store.Delete(ctx, c.ConversationID)
			reply = fail()
		}
	}

	logger.Info("conversation: turn handled",
		"intent", string(c.Intent),
		"outcome", string(reply.Outcome),
		"cleared", reply.Cleared,
	)
	r.metrics.ObserveTurn(string(c.Intent), string(reply.Outcome), time.Since(started).Seconds())
	return reply
}

func (r *Router) resolveIntent(ctx context.Context, turn Turn) (Intent, bool) {
	if turn.DetectedIntent != nil && turn.DetectedIntent.Valid() {
		return *turn.DetectedIntent, true
	}
	intent, ok := r.intents.DetectIntent(ctx, turn.Message)
	if !ok || !intent.Valid() {
		return "", false
	}
	return intent, true
}

// dispatch checks a pending payment before anything else, then hands the
// message to the context's flow.
func (r *Router) dispatch(ctx context.Context, c *Context, message string) Reply {
	if c.AwaitingPayment() {
		return r.checkPayment(ctx, c)
	}
	switch c.Intent {
	case IntentCancel:
		return r.handleCancel(ctx, c, message)
	case IntentReschedule:
		return r.handleReschedule(ctx, c, message)
	case IntentNew:
		return r.handleNewBooking(ctx, c, message)
	default:
		return reject(msgStartOver)
	}
}

func (r *Router) location(ctx context.Context, orgID string) *time.Location {
	loc, err := r.catalog.Location(ctx, orgID)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func (r *Router) log(c *Context) *logging.Logger {
	return r.logger.WithConversation(c.ConversationID, c.OrgID)
}
