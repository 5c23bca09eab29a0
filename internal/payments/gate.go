package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// DefaultLinkTTL applies when the clinic policy has no payment link TTL.
const DefaultLinkTTL = 30 * time.Minute

// Catalog is the clinic data the gate needs.
type Catalog interface {
	Service(ctx context.Context, orgID, serviceID string) (clinic.Service, error)
	Policy(ctx context.Context, orgID string) (clinic.Policy, error)
}

// BookingBatches confirms or releases the provisional bookings behind a link.
type BookingBatches interface {
	ConfirmBatch(ctx context.Context, orgID string, ids []string) error
	DeleteBatch(ctx context.Context, orgID string, ids []string) (int64, error)
}

// SettlementHook is told when a link settled outside a conversation turn
// (webhook, fake checkout, expiry sweep).
type SettlementHook interface {
	LinkSettled(ctx context.Context, link Link) error
}

// Requirement says whether a service must be paid for before it is confirmed.
type Requirement struct {
	Required     bool
	AmountCents  int
	DepositCents int
}

// LinkRequest asks the gate to hold bookings behind a new payment link.
type LinkRequest struct {
	OrgID          string
	ConversationID string
	ContactID      string
	PhoneNumber    string
	BookingIDs     []string
	Description    string
	AmountCents    int
}

// Fallback is the decision taken when a payment link cannot be created.
type Fallback string

const (
	FallbackReleased        Fallback = "released"
	FallbackConfirmedUnpaid Fallback = "confirmed_unpaid"
)

// Gate holds provisional bookings until their payment link reaches a
// terminal status, then confirms or releases all of them.
type Gate struct {
	links    LinkStore
	checkout CheckoutProvider
	poller   StatusPoller
	bookings BookingBatches
	catalog  Catalog
	hook     SettlementHook
	velocity *VelocityChecker
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// GateOption configures optional gate collaborators.
type GateOption func(*Gate)

// WithStatusPoller lets CheckStatus ask the provider for a final status.
func WithStatusPoller(p StatusPoller) GateOption {
	return func(g *Gate) { g.poller = p }
}

// WithSettlementHook registers the hook fired by Resolve.
func WithSettlementHook(h SettlementHook) GateOption {
	return func(g *Gate) { g.hook = h }
}

// WithVelocityChecker limits link creation per phone.
func WithVelocityChecker(v *VelocityChecker) GateOption {
	return func(g *Gate) { g.velocity = v }
}

func WithGateMetrics(m *metrics.BookingMetrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithClock overrides the gate's time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate wires a payment gate.
func NewGate(links LinkStore, checkout CheckoutProvider, bookings BookingBatches, catalog Catalog, logger *logging.Logger, opts ...GateOption) *Gate {
	if links == nil {
		panic("payments: link store required")
	}
	if checkout == nil {
		panic("payments: checkout provider required")
	}
	if bookings == nil {
		panic("payments: booking batches required")
	}
	if catalog == nil {
		panic("payments: catalog required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	g := &Gate{
		links:    links,
		checkout: checkout,
		bookings: bookings,
		catalog:  catalog,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetSettlementHook registers the hook after construction. The conversation
// worker needs the gate before it can build its hook.
func (g *Gate) SetSettlementHook(h SettlementHook) {
	g.hook = h
}

// RequiresPayment reports whether serviceID must be paid up front and how much.
// The deposit is charged when configured, the full price otherwise.
func (g *Gate) RequiresPayment(ctx context.Context, orgID, serviceID string) (Requirement, error) {
	svc, err := g.catalog.Service(ctx, orgID, serviceID)
	if err != nil {
		return Requirement{}, fmt.Errorf("payments: requirement lookup: %w", err)
	}
	req := Requirement{Required: svc.RequiresPayment, DepositCents: svc.DepositCents}
	if !req.Required {
		return req, nil
	}
	req.AmountCents = svc.CostCents
	if svc.DepositCents > 0 {
		req.AmountCents = svc.DepositCents
	}
	if req.AmountCents <= 0 {
		// Nothing to collect.
		req.Required = false
	}
	return req, nil
}

// CreateAndSendLink records a pending link for the bookings and asks the
// checkout provider for a hosted page. The returned text is the customer reply.
func (g *Gate) CreateAndSendLink(ctx context.Context, req LinkRequest) (*Link, string, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.create_link")
	defer span.End()
	span.SetAttributes(
		attribute.String("org_id", req.OrgID),
		attribute.String("conversation_id", req.ConversationID),
		attribute.Int("amount_cents", req.AmountCents),
		attribute.Int("booking_count", len(req.BookingIDs)),
	)

	if len(req.BookingIDs) == 0 {
		return nil, "", fmt.Errorf("payments: link request has no bookings")
	}
	if req.AmountCents <= 0 {
		return nil, "", fmt.Errorf("payments: link request amount must be positive")
	}

	if g.velocity != nil {
		res, err := g.velocity.CheckLinkVelocity(ctx, req.OrgID, req.PhoneNumber)
		if err == nil && !res.Allowed {
			g.metrics.ObservePaymentLink("velocity_blocked")
			return nil, "", fmt.Errorf("%w: %s", ErrVelocityExceeded, res.Message)
		}
	}

	ttl := DefaultLinkTTL
	if policy, err := g.catalog.Policy(ctx, req.OrgID); err == nil && policy.PaymentLinkTTL > 0 {
		ttl = policy.PaymentLinkTTL
	}

	now := g.now()
	link := &Link{
		ID:             uuid.NewString(),
		OrgID:          req.OrgID,
		ConversationID: req.ConversationID,
		ContactID:      req.ContactID,
		PhoneNumber:    req.PhoneNumber,
		BookingIDs:     append([]string(nil), req.BookingIDs...),
		AmountCents:    req.AmountCents,
		Description:    req.Description,
		Status:         StatusPending,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
	span.SetAttributes(attribute.String("link_id", link.ID))

	if err := g.links.Create(ctx, link); err != nil {
		g.metrics.ObservePaymentLink("failed")
		return nil, "", err
	}

	resp, err := g.checkout.CreatePaymentLink(ctx, CheckoutParams{
		OrgID:          req.OrgID,
		ContactID:      req.ContactID,
		ConversationID: req.ConversationID,
		LinkID:         link.ID,
		PhoneNumber:    req.PhoneNumber,
		AmountCents:    req.AmountCents,
		Description:    req.Description,
		BookingIDs:     link.BookingIDs,
		ExpiresAt:      link.ExpiresAt,
	})
	if err != nil {
		g.abandon(ctx, link.ID)
		return nil, "", fmt.Errorf("payments: create checkout: %w", err)
	}

	link.URL = resp.URL
	link.ProviderRef = resp.ProviderID
	link.Provider = resp.Provider
	if err := g.links.AttachCheckout(ctx, link.ID, link.Provider, link.URL, link.ProviderRef); err != nil {
		g.abandon(ctx, link.ID)
		return nil, "", fmt.Errorf("payments: attach checkout: %w", err)
	}

	g.metrics.ObservePaymentLink("created")
	g.logger.Info("payment link created",
		"org_id", req.OrgID,
		"conversation_id", req.ConversationID,
		"link_id", link.ID,
		"booking_ids", link.BookingIDs,
		"amount_cents", link.AmountCents,
		"expires_at", link.ExpiresAt,
	)
	return link, confirmationText(link, ttl), nil
}

// abandon marks a link that never reached the customer as failed and settled,
// so the sweeper never resolves its bookings.
func (g *Gate) abandon(ctx context.Context, linkID string) {
	if _, err := g.links.Transition(ctx, linkID, StatusFailed); err != nil {
		g.logger.Warn("payments: failed to mark link failed", "link_id", linkID, "error", err)
	}
	if _, err := g.links.MarkSettled(ctx, linkID, g.now()); err != nil {
		g.logger.Warn("payments: failed to mark link settled", "link_id", linkID, "error", err)
	}
	g.metrics.ObservePaymentLink("failed")
}

// ApplyLinkFailure decides what happens to provisional bookings whose link
// could not be created. Strict enforcement releases them; lenient enforcement
// confirms them unpaid.
func (g *Gate) ApplyLinkFailure(ctx context.Context, req LinkRequest, cause error) (Fallback, error) {
	strict := true
	if policy, err := g.catalog.Policy(ctx, req.OrgID); err == nil {
		strict = policy.StrictPaymentEnforcement
	} else {
		g.logger.Warn("payments: policy lookup failed, enforcing payment", "org_id", req.OrgID, "error", err)
	}
	g.metrics.ObservePaymentFallback(strict)

	if strict || errors.Is(cause, ErrVelocityExceeded) {
		if _, err := g.bookings.DeleteBatch(ctx, req.OrgID, req.BookingIDs); err != nil {
			return FallbackReleased, fmt.Errorf("payments: release after link failure: %w", err)
		}
		g.logger.Warn("payment link unavailable; strict enforcement released provisional bookings",
			"org_id", req.OrgID,
			"conversation_id", req.ConversationID,
			"booking_ids", req.BookingIDs,
			"cause", cause,
		)
		return FallbackReleased, nil
	}

	if err := g.bookings.ConfirmBatch(ctx, req.OrgID, req.BookingIDs); err != nil {
		return FallbackConfirmedUnpaid, fmt.Errorf("payments: confirm after link failure: %w", err)
	}
	g.logger.Warn("payment link unavailable; lenient enforcement confirmed bookings without payment",
		"org_id", req.OrgID,
		"conversation_id", req.ConversationID,
		"booking_ids", req.BookingIDs,
		"cause", cause,
	)
	return FallbackConfirmedUnpaid, nil
}

// Link returns the stored link.
func (g *Gate) Link(ctx context.Context, linkID string) (*Link, error) {
	return g.links.Get(ctx, linkID)
}

// CheckStatus returns the link's status. A pending link is first checked with
// the provider, when a poller is configured, then expired if its TTL passed.
func (g *Gate) CheckStatus(ctx context.Context, linkID string) (Status, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.check_status")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", linkID))

	link, err := g.links.Get(ctx, linkID)
	if err != nil {
		return "", err
	}
	if link.Status.Terminal() {
		return link.Status, nil
	}

	if g.poller != nil && link.ProviderRef != "" {
		polled, err := g.poller.FetchStatus(ctx, link)
		if err != nil {
			g.logger.Warn("payments: provider status poll failed", "link_id", linkID, "error", err)
		} else if polled.Terminal() {
			return g.transition(ctx, link, polled)
		}
	}

	if link.Expired(g.now()) {
		return g.transition(ctx, link, StatusExpired)
	}
	return StatusPending, nil
}

func (g *Gate) transition(ctx context.Context, link *Link, to Status) (Status, error) {
	won, err := g.links.Transition(ctx, link.ID, to)
	if err != nil {
		return "", err
	}
	if won {
		g.metrics.ObservePaymentLink(string(to))
		return to, nil
	}
	// Someone else moved it first; report what they chose.
	current, err := g.links.Get(ctx, link.ID)
	if err != nil {
		return "", err
	}
	return current.Status, nil
}

// Settle applies the link's terminal status to its bookings: paid confirms
// all of them, anything else releases all of them. Settling twice is a no-op.
func (g *Gate) Settle(ctx context.Context, linkID string) error {
	_, _, err := g.settle(ctx, linkID)
	return err
}

// SettleOnce is Settle that also reports whether this call did the work.
func (g *Gate) SettleOnce(ctx context.Context, linkID string) (*Link, bool, error) {
	return g.settle(ctx, linkID)
}

func (g *Gate) settle(ctx context.Context, linkID string) (*Link, bool, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.settle")
	defer span.End()
	span.SetAttributes(attribute.String("link_id", linkID))

	link, err := g.links.Get(ctx, linkID)
	if err != nil {
		return nil, false, err
	}
	if !link.Status.Terminal() {
		return link, false, ErrLinkPending
	}
	if link.Settled() {
		return link, false, nil
	}

	if len(link.BookingIDs) > 0 {
		if link.Status == StatusPaid {
			if err := g.bookings.ConfirmBatch(ctx, link.OrgID, link.BookingIDs); err != nil {
				return link, false, fmt.Errorf("payments: settle paid link %s: %w", link.ID, err)
			}
		} else {
			if _, err := g.bookings.DeleteBatch(ctx, link.OrgID, link.BookingIDs); err != nil {
				return link, false, fmt.Errorf("payments: settle %s link %s: %w", link.Status, link.ID, err)
			}
		}
	}

	now := g.now()
	won, err := g.links.MarkSettled(ctx, link.ID, now)
	if err != nil {
		return link, false, err
	}
	if won {
		link.SettledAt = &now
		g.logger.Info("payment link settled",
			"org_id", link.OrgID,
			"conversation_id", link.ConversationID,
			"link_id", link.ID,
			"status", string(link.Status),
			"booking_ids", link.BookingIDs,
		)
	}
	return link, won, nil
}

// Resolve records an externally observed status for a link, settles it, and
// fires the settlement hook when this call performed the settlement.
func (g *Gate) Resolve(ctx context.Context, linkID string, status Status) (*Link, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("payments: resolve with non-terminal status %q", status)
	}
	won, err := g.links.Transition(ctx, linkID, status)
	if err != nil {
		return nil, err
	}
	if won {
		g.metrics.ObservePaymentLink(string(status))
	}
	link, settledNow, err := g.settle(ctx, linkID)
	if err != nil {
		return link, err
	}
	if settledNow && g.hook != nil {
		if err := g.hook.LinkSettled(ctx, *link); err != nil {
			g.logger.Error("payments: settlement hook failed", "link_id", linkID, "error", err)
		}
	}
	return link, nil
}

func confirmationText(link *Link, ttl time.Duration) string {
	what := strings.TrimSpace(link.Description)
	if what == "" {
		what = "your appointment"
	}
	return fmt.Sprintf("To hold %s, please complete the %s payment here: %s. The link expires in %s, and your booking is confirmed as soon as payment goes through.",
		what, FormatCents(link.AmountCents), link.URL, FormatDuration(ttl))
}

// FormatCents renders an amount in dollars, e.g. $50 or $49.99.
func FormatCents(cents int) string {
	if cents%100 == 0 {
		return fmt.Sprintf("$%d", cents/100)
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// FormatDuration renders a duration in whole minutes or hours for customers.
func FormatDuration(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	switch {
	case minutes <= 1:
		return "1 minute"
	case minutes < 120:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%d hours", minutes/60)
	}
}
