// Package conversation turns a sequence of customer messages into booking
// changes. Each conversation carries at most one Context; the Router hands
// every inbound message to the sub-flow that owns it.
package conversation

import (
	"errors"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/internal/scheduling"
)

// ErrContextNotFound is returned by a ContextStore when the conversation has no context.
var ErrContextNotFound = errors.New("conversation: context not found")

// Intent is the top-level goal of a conversation context.
type Intent string

const (
	IntentCancel     Intent = "cancel"
	IntentReschedule Intent = "reschedule"
	IntentNew        Intent = "new"
)

// Valid reports whether i names a routable flow.
func (i Intent) Valid() bool {
	switch i {
	case IntentCancel, IntentReschedule, IntentNew:
		return true
	default:
		return false
	}
}

// CancelStep is the position of a cancellation flow.
type CancelStep string

const (
	CancelStepSelectBooking CancelStep = "select_booking"
	CancelStepCollectReason CancelStep = "collect_reason"
	CancelStepDone          CancelStep = "done"
)

// RescheduleStep is the position of a rescheduling flow.
type RescheduleStep string

const (
	RescheduleStepSelectBooking   RescheduleStep = "select_booking"
	RescheduleStepCollectDateTime RescheduleStep = "collect_datetime"
	RescheduleStepDone            RescheduleStep = "done"
)

// NewBookingStep is the position of a new-booking flow.
type NewBookingStep string

const (
	NewBookingStepChooseService NewBookingStep = "choose_service"
	NewBookingStepMultiSession  NewBookingStep = "multi_session"
	NewBookingStepDone          NewBookingStep = "done"
)

// MultiSessionStep is the position within a treatment plan booking.
type MultiSessionStep string

const (
	MultiSessionConfirmStrategy MultiSessionStep = "confirm_strategy"
	MultiSessionCollectDates    MultiSessionStep = "collect_dates"
	MultiSessionConfirmAll      MultiSessionStep = "confirm_all"
	MultiSessionAwaitingPayment MultiSessionStep = "awaiting_payment"
)

// MultiSessionState is the treatment plan being assembled. SessionsToBook is
// how many sessions this conversation books, numbered from FirstSessionNumber.
type MultiSessionState struct {
	ServiceID          string                            `json:"service_id"`
	ServiceName        string                            `json:"service_name"`
	Strategy           scheduling.Strategy               `json:"strategy"`
	Step               MultiSessionStep                  `json:"step"`
	TotalSessions      int                               `json:"total_sessions"`
	SessionsToBook     int                               `json:"sessions_to_book"`
	FirstSessionNumber int                               `json:"first_session_number"`
	CollectedDates     []time.Time                       `json:"collected_dates,omitempty"`
	Schedule           []scheduling.SessionScheduleEntry `json:"schedule,omitempty"`
}

// NextSessionNumber is the session whose date is being collected.
func (m *MultiSessionState) NextSessionNumber() int {
	return m.FirstSessionNumber + len(m.CollectedDates)
}

// PaymentState tracks the link holding the context's provisional bookings.
type PaymentState struct {
	LinkID            string          `json:"link_id"`
	LinkURL           string          `json:"link_url,omitempty"`
	Status            payments.Status `json:"status"`
	ExpiresAt         time.Time       `json:"expires_at"`
	PendingBookingIDs []string        `json:"pending_booking_ids"`
	Required          bool            `json:"required"`
	AmountCents       int             `json:"amount_cents"`
}

// Context is the mutable state of one conversation's active booking flow.
type Context struct {
	ConversationID string    `json:"conversation_id"`
	OrgID          string    `json:"org_id"`
	ContactID      string    `json:"contact_id"`
	PhoneNumber    string    `json:"phone_number"`
	Intent         Intent    `json:"intent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	CurrentBookings []bookings.Booking `json:"current_bookings,omitempty"`
	BookingsLoaded  bool               `json:"bookings_loaded"`

	SelectedBookingID  string     `json:"selected_booking_id,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	ProposedDateTime   *time.Time `json:"proposed_date_time,omitempty"`

	// PendingReason and PendingDateTime hold a slot given before a booking
	// was chosen. They move into the real slot once selection finishes.
	PendingReason   string     `json:"pending_reason,omitempty"`
	PendingDateTime *time.Time `json:"pending_date_time,omitempty"`

	// DeferredMessage is the message that was answered with an email prompt
	// instead of being processed.
	EmailCollectionAsked bool   `json:"email_collection_asked"`
	ContactEmail         string `json:"contact_email,omitempty"`
	DeferredMessage      string `json:"deferred_message,omitempty"`

	CancelStep     CancelStep     `json:"cancel_step,omitempty"`
	RescheduleStep RescheduleStep `json:"reschedule_step,omitempty"`
	NewBookingStep NewBookingStep `json:"new_booking_step,omitempty"`

	MultiSession *MultiSessionState `json:"multi_session,omitempty"`
	Payment      *PaymentState      `json:"payment,omitempty"`
}

// NewContext starts a context for intent.
func NewContext(conversationID, orgID, contactID, phone string, intent Intent, now time.Time) *Context {
	return &Context{
		ConversationID: conversationID,
		OrgID:          orgID,
		ContactID:      contactID,
		PhoneNumber:    phone,
		Intent:         intent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AwaitingPayment reports whether a payment link holds the context's bookings.
func (c *Context) AwaitingPayment() bool {
	return c != nil && c.Payment != nil && c.Payment.LinkID != ""
}

// SelectedBooking returns the selected booking from the snapshot.
func (c *Context) SelectedBooking() (bookings.Booking, bool) {
	if c == nil || c.SelectedBookingID == "" {
		return bookings.Booking{}, false
	}
	for _, b := range c.CurrentBookings {
		if b.ID == c.SelectedBookingID {
			return b, true
		}
	}
	return bookings.Booking{}, false
}

// Clone returns a deep copy so stores never share state with callers.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.CurrentBookings = append([]bookings.Booking(nil), c.CurrentBookings...)
	if c.ProposedDateTime != nil {
		t := *c.ProposedDateTime
		out.ProposedDateTime = &t
	}
	if c.PendingDateTime != nil {
		t := *c.PendingDateTime
		out.PendingDateTime = &t
	}
	if c.MultiSession != nil {
		ms := *c.MultiSession
		ms.CollectedDates = append([]time.Time(nil), c.MultiSession.CollectedDates...)
		ms.Schedule = append([]scheduling.SessionScheduleEntry(nil), c.MultiSession.Schedule...)
		out.MultiSession = &ms
	}
	if c.Payment != nil {
		p := *c.Payment
		p.PendingBookingIDs = append([]string(nil), c.Payment.PendingBookingIDs...)
		out.Payment = &p
	}
	return &out
}
