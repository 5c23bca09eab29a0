package events

import "time"

// BookingCancelledV1 is emitted when a customer cancels a confirmed booking.
type BookingCancelledV1 struct {
	OrgID          string    `json:"org_id"`
	ConversationID string    `json:"conversation_id"`
	ContactID      string    `json:"contact_id"`
	BookingID      string    `json:"booking_id"`
	ServiceName    string    `json:"service_name"`
	StartTime      time.Time `json:"start_time"`
	Reason         string    `json:"reason,omitempty"`
	FeeCents       int       `json:"fee_cents"`
	CancelledAt    time.Time `json:"cancelled_at"`
}

func (BookingCancelledV1) EventType() string { return "booking.cancelled.v1" }

// RescheduleRequestedV1 is emitted when a customer asks to move a booking.
type RescheduleRequestedV1 struct {
	OrgID          string    `json:"org_id"`
	ConversationID string    `json:"conversation_id"`
	ContactID      string    `json:"contact_id"`
	BookingID      string    `json:"booking_id"`
	CurrentStart   time.Time `json:"current_start"`
	RequestedStart time.Time `json:"requested_start"`
	RequestedAt    time.Time `json:"requested_at"`
}

func (RescheduleRequestedV1) EventType() string { return "booking.reschedule_requested.v1" }

// SessionSlot is one booking of a batch as reported in events.
type SessionSlot struct {
	BookingID     string    `json:"booking_id"`
	SessionNumber int       `json:"session_number"`
	StartTime     time.Time `json:"start_time"`
}

// ProvisionalBookingsCreatedV1 is emitted when a batch is held pending payment.
type ProvisionalBookingsCreatedV1 struct {
	OrgID          string        `json:"org_id"`
	ConversationID string        `json:"conversation_id"`
	ContactID      string        `json:"contact_id"`
	ServiceID      string        `json:"service_id"`
	GroupID        string        `json:"group_id"`
	Sessions       []SessionSlot `json:"sessions"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (ProvisionalBookingsCreatedV1) EventType() string { return "bookings.provisional_created.v1" }

// BookingsConfirmedV1 is emitted when a batch becomes confirmed, whether
// directly or after payment.
type BookingsConfirmedV1 struct {
	OrgID          string        `json:"org_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	ContactID      string        `json:"contact_id"`
	ContactEmail   string        `json:"contact_email,omitempty"`
	ServiceName    string        `json:"service_name"`
	Sessions       []SessionSlot `json:"sessions"`
	Paid           bool          `json:"paid"`
	PaymentLinkID  string        `json:"payment_link_id,omitempty"`
	ConfirmedAt    time.Time     `json:"confirmed_at"`
}

func (BookingsConfirmedV1) EventType() string { return "bookings.confirmed.v1" }

// BookingsRolledBackV1 is emitted when provisional bookings are discarded.
type BookingsRolledBackV1 struct {
	OrgID         string    `json:"org_id"`
	BookingIDs    []string  `json:"booking_ids"`
	PaymentLinkID string    `json:"payment_link_id,omitempty"`
	Reason        string    `json:"reason"`
	RolledBackAt  time.Time `json:"rolled_back_at"`
}

func (BookingsRolledBackV1) EventType() string { return "bookings.rolled_back.v1" }

// PaymentLinkCreatedV1 is emitted when a checkout link is sent to a customer.
type PaymentLinkCreatedV1 struct {
	OrgID          string    `json:"org_id"`
	ConversationID string    `json:"conversation_id"`
	LinkID         string    `json:"link_id"`
	Provider       string    `json:"provider"`
	AmountCents    int       `json:"amount_cents"`
	BookingIDs     []string  `json:"booking_ids"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (PaymentLinkCreatedV1) EventType() string { return "payment_link.created.v1" }
