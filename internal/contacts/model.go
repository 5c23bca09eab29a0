// Package contacts stores the customers who talk to the booking engine.
package contacts

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrContactNotFound is returned when a contact is not found.
	ErrContactNotFound = errors.New("contacts: contact not found")
	// ErrMissingOrgID is returned when a request has no org scope.
	ErrMissingOrgID = errors.New("contacts: org id is required")
	// ErrMissingPhone is returned when a contact has no phone number.
	ErrMissingPhone = errors.New("contacts: phone is required")
	// ErrDuplicatePhone is returned when the org already has a contact with the phone.
	ErrDuplicatePhone = errors.New("contacts: phone already registered")
)

// Contact is a customer of one org, addressed by phone number.
type Contact struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasEmail reports whether an email address is on file.
func (c *Contact) HasEmail() bool {
	return c != nil && strings.TrimSpace(c.Email) != ""
}

// NormalizePhone strips formatting and normalizes 10-digit US numbers to E.164.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case d == "":
		return ""
	case len(d) == 10:
		return "+1" + d
	default:
		return "+" + d
	}
}

func validate(orgID, phone string) error {
	if strings.TrimSpace(orgID) == "" {
		return ErrMissingOrgID
	}
	if NormalizePhone(phone) == "" {
		return ErrMissingPhone
	}
	return nil
}
