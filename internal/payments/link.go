package payments

import (
	"errors"
	"time"
)

var (
	// ErrLinkNotFound is returned when a payment link ID is unknown.
	ErrLinkNotFound = errors.New("payments: link not found")
	// ErrLinkPending is returned when settling a link that has not reached a terminal status.
	ErrLinkPending = errors.New("payments: link still pending")
	// ErrVelocityExceeded is returned when a contact requested too many links in the window.
	ErrVelocityExceeded = errors.New("payments: link velocity exceeded")
)

// Status is the lifecycle state of a payment link.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusExpired, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Link is a checkout link holding a set of provisional bookings.
type Link struct {
	ID             string
	OrgID          string
	ConversationID string
	ContactID      string
	PhoneNumber    string
	BookingIDs     []string
	AmountCents    int
	Description    string
	URL            string
	Provider       string
	ProviderRef    string
	Status         Status
	ExpiresAt      time.Time
	CreatedAt      time.Time
	SettledAt      *time.Time
}

// Remaining returns how long the link stays payable, never negative.
func (l *Link) Remaining(now time.Time) time.Duration {
	if l == nil || !now.Before(l.ExpiresAt) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

// Expired reports whether a pending link has outlived its TTL.
func (l *Link) Expired(now time.Time) bool {
	return l != nil && l.Status == StatusPending && !now.Before(l.ExpiresAt)
}

// Settled reports whether the bookings behind the link were already confirmed or released.
func (l *Link) Settled() bool {
	return l != nil && l.SettledAt != nil
}

func cloneLink(l *Link) *Link {
	if l == nil {
		return nil
	}
	out := *l
	out.BookingIDs = append([]string(nil), l.BookingIDs...)
	if l.SettledAt != nil {
		t := *l.SettledAt
		out.SettledAt = &t
	}
	return &out
}
