package rebooking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// ContactLookup resolves the phone number a reminder is texted to.
type ContactLookup interface {
	GetByID(ctx context.Context, orgID, id string) (*contacts.Contact, error)
}

// Scheduler turns booking events from the outbox into reminders.
type Scheduler struct {
	store    ReminderStore
	contacts ContactLookup
	logger   *logging.Logger
	now      func() time.Time
}

func NewScheduler(store ReminderStore, lookup ContactLookup, logger *logging.Logger) *Scheduler {
	if store == nil {
		panic("rebooking: reminder store required")
	}
	if lookup == nil {
		panic("rebooking: contact lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, contacts: lookup, logger: logger, now: time.Now}
}

// Handle implements events.DeliveryHandler. Unknown event types are ignored.
func (s *Scheduler) Handle(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.BookingsConfirmedV1{}.EventType():
		evt, err := events.Decode[events.BookingsConfirmedV1](env)
		if err != nil {
			s.logger.Error("rebooking: malformed confirmed event", "event_id", env.EventID, "error", err)
			return nil
		}
		return s.schedule(ctx, evt)
	case events.BookingCancelledV1{}.EventType():
		evt, err := events.Decode[events.BookingCancelledV1](env)
		if err != nil {
			s.logger.Error("rebooking: malformed cancelled event", "event_id", env.EventID, "error", err)
			return nil
		}
		n, err := s.store.DismissForBooking(ctx, evt.OrgID, evt.BookingID)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("rebooking: reminder dismissed", "org_id", evt.OrgID, "booking_id", evt.BookingID)
		}
		return nil
	}
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, evt events.BookingsConfirmedV1) error {
	interval, ok := LookupInterval(evt.ServiceName)
	if !ok || len(evt.Sessions) == 0 {
		return nil
	}
	last := evt.Sessions[0]
	for _, slot := range evt.Sessions[1:] {
		if slot.StartTime.After(last.StartTime) {
			last = slot
		}
	}

	contact, err := s.contacts.GetByID(ctx, evt.OrgID, evt.ContactID)
	if err != nil {
		if errors.Is(err, contacts.ErrContactNotFound) {
			s.logger.Warn("rebooking: contact missing; no reminder", "org_id", evt.OrgID, "contact_id", evt.ContactID)
			return nil
		}
		return fmt.Errorf("rebooking: load contact: %w", err)
	}

	r := &Reminder{
		OrgID:       evt.OrgID,
		ContactID:   contact.ID,
		Phone:       contact.Phone,
		Name:        contact.Name,
		Service:     evt.ServiceName,
		BookingID:   last.BookingID,
		LastVisit:   last.StartTime.UTC(),
		RebookAfter: last.StartTime.UTC().AddDate(0, 0, 7*interval.MinWeeks),
		CreatedAt:   s.now().UTC(),
	}
	created, err := s.store.Create(ctx, r)
	if err != nil {
		if errors.Is(err, ErrInvalidReminder) {
			s.logger.Warn("rebooking: skipping incomplete reminder", "org_id", evt.OrgID, "contact_id", evt.ContactID)
			return nil
		}
		return err
	}
	if created {
		s.logger.Info("rebooking: reminder scheduled",
			"org_id", r.OrgID, "booking_id", r.BookingID, "service", r.Service, "rebook_after", r.RebookAfter)
	}
	return nil
}
