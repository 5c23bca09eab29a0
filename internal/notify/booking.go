package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// ClinicConfigStore retrieves clinic configuration.
type ClinicConfigStore interface {
	Get(ctx context.Context, orgID string) (*clinic.Config, error)
}

// ContactLookup loads a contact to find the address to write to.
type ContactLookup interface {
	GetByID(ctx context.Context, orgID, id string) (*contacts.Contact, error)
}

// dedupProvider namespaces notifier entries in the processed-events store.
const dedupProvider = "notify.email"

// BookingNotifier emails customers about their bookings. It is an outbox
// delivery handler for booking events.
type BookingNotifier struct {
	email       EmailSender
	contacts    ContactLookup
	clinicStore ClinicConfigStore
	deduper     events.Deduper
	logger      *logging.Logger
}

// NotifierOption customizes a BookingNotifier.
type NotifierOption func(*BookingNotifier)

// WithDeduper skips events whose email already went out, so a redelivered
// envelope does not mail the customer twice.
func WithDeduper(d events.Deduper) NotifierOption {
	return func(n *BookingNotifier) {
		n.deduper = d
	}
}

// NewBookingNotifier creates a notifier. contacts and clinicStore are optional.
func NewBookingNotifier(email EmailSender, contacts ContactLookup, clinicStore ClinicConfigStore, logger *logging.Logger, opts ...NotifierOption) *BookingNotifier {
	if email == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	n := &BookingNotifier{
		email:       email,
		contacts:    contacts,
		clinicStore: clinicStore,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handle dispatches on the envelope type. Unknown types are ignored.
func (n *BookingNotifier) Handle(ctx context.Context, env events.Envelope) error {
	ref := env.EventID.String()
	if n.deduper != nil {
		done, err := n.deduper.AlreadyProcessed(ctx, dedupProvider, ref)
		if err != nil {
			return fmt.Errorf("notify: check processed: %w", err)
		}
		if done {
			return nil
		}
	}

	var err error
	switch env.EventType {
	case events.BookingsConfirmedV1{}.EventType():
		evt, decodeErr := events.Decode[events.BookingsConfirmedV1](env)
		if decodeErr != nil {
			return fmt.Errorf("notify: %w", decodeErr)
		}
		err = n.notifyConfirmed(ctx, evt, ref)
	case events.BookingCancelledV1{}.EventType():
		evt, decodeErr := events.Decode[events.BookingCancelledV1](env)
		if decodeErr != nil {
			return fmt.Errorf("notify: %w", decodeErr)
		}
		err = n.notifyCancelled(ctx, evt, ref)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if n.deduper != nil {
		if _, err := n.deduper.MarkProcessed(ctx, dedupProvider, ref); err != nil {
			n.logger.Warn("notify: could not record sent email", "event_id", ref, "error", err)
		}
	}
	return nil
}

// NotifyConfirmed emails the booking confirmation when the customer gave an address.
func (n *BookingNotifier) NotifyConfirmed(ctx context.Context, evt events.BookingsConfirmedV1) error {
	return n.notifyConfirmed(ctx, evt, "")
}

// NotifyCancelled emails a cancellation receipt including any late fee.
func (n *BookingNotifier) NotifyCancelled(ctx context.Context, evt events.BookingCancelledV1) error {
	return n.notifyCancelled(ctx, evt, "")
}

func (n *BookingNotifier) notifyConfirmed(ctx context.Context, evt events.BookingsConfirmedV1, ref string) error {
	to, name := n.recipient(ctx, evt.OrgID, evt.ContactID, evt.ContactEmail)
	if to == "" {
		n.logger.Debug("notify: no email on file, skipping confirmation", "org_id", evt.OrgID, "contact_id", evt.ContactID)
		return nil
	}
	clinicName, loc := n.clinicInfo(ctx, evt.OrgID)

	subject := fmt.Sprintf("Your %s booking is confirmed", evt.ServiceName)
	var lines []string
	for _, s := range evt.Sessions {
		when := s.StartTime.In(loc).Format("Monday, January 2 at 3:04 PM")
		if len(evt.Sessions) > 1 {
			lines = append(lines, fmt.Sprintf("Session %d: %s", s.SessionNumber, when))
		} else {
			lines = append(lines, when)
		}
	}
	paid := ""
	if evt.Paid {
		paid = "\nWe received your payment, thank you."
	}
	body := fmt.Sprintf("Hi %s,\n\nYou're booked for %s:\n%s\n%s\nReply to our text if anything changes.\n\n%s",
		name, evt.ServiceName, strings.Join(lines, "\n"), paid, clinicName)

	var rows strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&rows, `<li style="padding: 4px 0;">%s</li>`, html.EscapeString(line))
	}
	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #10b981;">You're booked!</h2>
<p>Hi %s, here are your %s appointments:</p>
<ul>%s</ul>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">%s</p>
</div>`, html.EscapeString(name), html.EscapeString(evt.ServiceName), rows.String(), html.EscapeString(clinicName))

	msg := EmailMessage{
		To:       to,
		ToName:   name,
		FromName: clinicName,
		Subject:  subject,
		Text:     body,
		HTML:     htmlBody,
		Category: CategoryConfirmation,
		Ref:      ref,
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: confirmation email: %w", err)
	}
	n.logger.Info("notify: confirmation email sent", "org_id", evt.OrgID, "contact_id", evt.ContactID, "sessions", len(evt.Sessions))
	return nil
}

func (n *BookingNotifier) notifyCancelled(ctx context.Context, evt events.BookingCancelledV1, ref string) error {
	to, name := n.recipient(ctx, evt.OrgID, evt.ContactID, "")
	if to == "" {
		return nil
	}
	clinicName, loc := n.clinicInfo(ctx, evt.OrgID)

	fee := ""
	if evt.FeeCents > 0 {
		fee = fmt.Sprintf("\nA late cancellation fee of $%d.%02d applies.", evt.FeeCents/100, evt.FeeCents%100)
	}
	body := fmt.Sprintf("Hi %s,\n\nYour %s appointment on %s has been cancelled.%s\n\nWe hope to see you again soon.\n\n%s",
		name, evt.ServiceName, evt.StartTime.In(loc).Format("Monday, January 2 at 3:04 PM"), fee, clinicName)

	msg := EmailMessage{
		To:       to,
		ToName:   name,
		FromName: clinicName,
		Subject:  "Your appointment was cancelled",
		Text:     body,
		Category: CategoryCancellation,
		Ref:      ref,
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: cancellation email: %w", err)
	}
	return nil
}

func (n *BookingNotifier) recipient(ctx context.Context, orgID, contactID, email string) (string, string) {
	name := "there"
	if n.contacts != nil && contactID != "" {
		c, err := n.contacts.GetByID(ctx, orgID, contactID)
		if err != nil {
			n.logger.Warn("notify: contact lookup failed", "org_id", orgID, "contact_id", contactID, "error", err)
		} else if c != nil {
			if email == "" {
				email = c.Email
			}
			if strings.TrimSpace(c.Name) != "" {
				name = strings.Fields(c.Name)[0]
			}
		}
	}
	return strings.TrimSpace(email), name
}

func (n *BookingNotifier) clinicInfo(ctx context.Context, orgID string) (string, *time.Location) {
	if n.clinicStore == nil {
		return "", time.UTC
	}
	cfg, err := n.clinicStore.Get(ctx, orgID)
	if err != nil || cfg == nil {
		return "", time.UTC
	}
	return cfg.Name, cfg.Location()
}
