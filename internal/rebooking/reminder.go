package rebooking

import (
	"errors"
	"time"
)

// ReminderStatus tracks a reminder through its lifecycle.
type ReminderStatus string

const (
	StatusPending   ReminderStatus = "pending"
	StatusSent      ReminderStatus = "sent"
	StatusDismissed ReminderStatus = "dismissed"
)

var (
	// ErrInvalidReminder is returned when a reminder is missing its org, booking or phone.
	ErrInvalidReminder = errors.New("rebooking: reminder requires org, booking and phone")
)

// Reminder is a follow-up text scheduled after a confirmed treatment.
// BookingID is the last session of the confirmed batch; a batch produces at
// most one reminder.
type Reminder struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	ContactID   string         `json:"contact_id"`
	Phone       string         `json:"phone"`
	Name        string         `json:"name,omitempty"`
	Service     string         `json:"service"`
	BookingID   string         `json:"booking_id"`
	LastVisit   time.Time      `json:"last_visit"`
	RebookAfter time.Time      `json:"rebook_after"`
	Status      ReminderStatus `json:"status"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (r *Reminder) validate() error {
	if r == nil || r.OrgID == "" || r.BookingID == "" || r.Phone == "" {
		return ErrInvalidReminder
	}
	return nil
}
