// Package bookings persists appointment records and applies the atomic
// confirm/rollback transitions for provisional batches.
package bookings

import (
	"errors"
	"time"
)

// Status is a booking lifecycle state.
type Status string

const (
	StatusProvisional Status = "provisional"
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
)

var (
	// ErrBookingNotFound is returned when no booking matches the id and org.
	ErrBookingNotFound = errors.New("bookings: booking not found")
	// ErrBatchMismatch is returned when a batch transition would touch fewer
	// rows than requested. Nothing is changed when it is returned.
	ErrBatchMismatch = errors.New("bookings: batch size mismatch")
	// ErrEmptyBatch is returned when a batch operation receives no bookings.
	ErrEmptyBatch = errors.New("bookings: empty batch")
	// ErrNotCancellable is returned when the booking is not confirmed.
	ErrNotCancellable = errors.New("bookings: booking not cancellable")
)

// Booking is one appointment. Sessions of a treatment plan share a GroupID.
type Booking struct {
	ID                   string     `json:"id"`
	OrgID                string     `json:"org_id"`
	ContactID            string     `json:"contact_id"`
	ServiceID            string     `json:"service_id"`
	ServiceName          string     `json:"service_name"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              time.Time  `json:"end_time"`
	Status               Status     `json:"status"`
	GroupID              string     `json:"group_id,omitempty"`
	SessionNumber        int        `json:"session_number,omitempty"`
	TotalSessions        int        `json:"total_sessions,omitempty"`
	CancellationReason   string     `json:"cancellation_reason,omitempty"`
	CancellationFeeCents int        `json:"cancellation_fee_cents,omitempty"`
	RequestedStartTime   *time.Time `json:"requested_start_time,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Draft describes a booking to be created as part of a batch.
type Draft struct {
	OrgID         string
	ContactID     string
	ServiceID     string
	ServiceName   string
	StartTime     time.Time
	EndTime       time.Time
	SessionNumber int
	TotalSessions int
}

// SessionProgress summarizes a contact's sessions of one treatment plan.
type SessionProgress struct {
	Booked    int `json:"booked"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// InProgress reports whether a booked session has not yet been completed.
func (p SessionProgress) InProgress() bool {
	return p.Booked > p.Completed
}

// Finished reports whether every session of the plan has been completed.
func (p SessionProgress) Finished() bool {
	return p.Total > 0 && p.Completed >= p.Total
}

// Remaining is the number of sessions not yet booked.
func (p SessionProgress) Remaining() int {
	if r := p.Total - p.Booked; r > 0 {
		return r
	}
	return 0
}

// IDs returns the booking identifiers in order.
func IDs(list []Booking) []string {
	ids := make([]string, 0, len(list))
	for _, b := range list {
		ids = append(ids, b.ID)
	}
	return ids
}
