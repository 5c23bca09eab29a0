// Package clinic provides clinic-specific configuration: the service catalog,
// booking policies, and business hours.
package clinic

import (
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/scheduling"
)

// ErrServiceNotFound is returned when a service ID is not in the catalog.
var ErrServiceNotFound = errors.New("clinic: service not found")

// MultiSessionConfig describes a treatment plan spanning several appointments.
type MultiSessionConfig struct {
	TotalSessionsRequired int                     `json:"total_sessions_required"`
	Strategy              scheduling.Strategy     `json:"strategy"`
	Buffer                scheduling.BufferConfig `json:"buffer"`
}

// Service is one bookable catalog entry.
type Service struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Aliases         []string            `json:"aliases,omitempty"`
	Active          bool                `json:"active"`
	DurationMinutes int                 `json:"duration_minutes"`
	CostCents       int                 `json:"cost_cents"`
	DepositCents    int                 `json:"deposit_cents,omitempty"`
	RequiresPayment bool                `json:"requires_payment"`
	MultiSession    *MultiSessionConfig `json:"multi_session,omitempty"`
}

// IsMultiSession reports whether booking the service means booking a plan.
func (s Service) IsMultiSession() bool {
	return s.MultiSession != nil && s.MultiSession.TotalSessionsRequired > 1
}

// Duration returns the appointment length, defaulting to one hour.
func (s Service) Duration() time.Duration {
	if s.DurationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Names returns the service name followed by its aliases, lowercased.
func (s Service) Names() []string {
	names := make([]string, 0, len(s.Aliases)+1)
	if n := normalizeServiceKey(s.Name); n != "" {
		names = append(names, n)
	}
	for _, alias := range s.Aliases {
		if a := normalizeServiceKey(alias); a != "" {
			names = append(names, a)
		}
	}
	return names
}

// EmailCollectionMode controls how hard the engine pushes for an email address.
type EmailCollectionMode string

const (
	EmailMandatory EmailCollectionMode = "mandatory"
	EmailGentle    EmailCollectionMode = "gentle"
	EmailSkip      EmailCollectionMode = "skip"
)

// ParseEmailCollectionMode maps unknown values to gentle.
func ParseEmailCollectionMode(raw string) EmailCollectionMode {
	switch EmailCollectionMode(strings.ToLower(strings.TrimSpace(raw))) {
	case EmailMandatory:
		return EmailMandatory
	case EmailSkip:
		return EmailSkip
	default:
		return EmailGentle
	}
}

// CancellationPolicy charges FeeCents when a booking is cancelled less than
// WindowHours before it starts.
type CancellationPolicy struct {
	WindowHours int `json:"window_hours"`
	FeeCents    int `json:"fee_cents"`
}

// FeeFor returns the late-cancellation fee for a booking starting at start.
func (p CancellationPolicy) FeeFor(start, now time.Time) int {
	if p.WindowHours <= 0 || p.FeeCents <= 0 {
		return 0
	}
	if start.Sub(now) < time.Duration(p.WindowHours)*time.Hour {
		return p.FeeCents
	}
	return 0
}

// Policy is the effective set of booking rules for an org.
type Policy struct {
	EmailCollectionMode      EmailCollectionMode
	StrictPaymentEnforcement bool
	Cancellation             CancellationPolicy
	PaymentLinkTTL           time.Duration
}

// PolicyOverrides are per-clinic adjustments to the process-wide defaults.
// Nil fields keep the default.
type PolicyOverrides struct {
	EmailCollectionMode      string `json:"email_collection_mode,omitempty"`
	StrictPaymentEnforcement *bool  `json:"strict_payment_enforcement,omitempty"`
	CancellationWindowHours  *int   `json:"cancellation_window_hours,omitempty"`
	CancellationFeeCents     *int   `json:"cancellation_fee_cents,omitempty"`
	PaymentLinkTTLMinutes    *int   `json:"payment_link_ttl_minutes,omitempty"`
}

// Apply layers the overrides over defaults.
func (o PolicyOverrides) Apply(defaults Policy) Policy {
	p := defaults
	if strings.TrimSpace(o.EmailCollectionMode) != "" {
		p.EmailCollectionMode = ParseEmailCollectionMode(o.EmailCollectionMode)
	}
	if o.StrictPaymentEnforcement != nil {
		p.StrictPaymentEnforcement = *o.StrictPaymentEnforcement
	}
	if o.CancellationWindowHours != nil {
		p.Cancellation.WindowHours = *o.CancellationWindowHours
	}
	if o.CancellationFeeCents != nil {
		p.Cancellation.FeeCents = *o.CancellationFeeCents
	}
	if o.PaymentLinkTTLMinutes != nil && *o.PaymentLinkTTLMinutes > 0 {
		p.PaymentLinkTTL = time.Duration(*o.PaymentLinkTTLMinutes) * time.Minute
	}
	return p
}

// Config holds clinic-specific configuration.
type Config struct {
	OrgID           string          `json:"org_id"`
	Name            string          `json:"name"`
	Timezone        string          `json:"timezone"` // e.g., "America/New_York"
	BusinessHours   BusinessHours   `json:"business_hours"`
	Services        []Service       `json:"services"`
	PaymentProvider string          `json:"payment_provider,omitempty"`
	StripeAccountID string          `json:"stripe_account_id,omitempty"`
	Policy          PolicyOverrides `json:"policy"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(orgID string) *Config {
	return &Config{
		OrgID:    orgID,
		Name:     "MedSpa",
		Timezone: "America/New_York",
		BusinessHours: BusinessHours{
			Monday:    &DayHours{Open: "09:00", Close: "18:00"},
			Tuesday:   &DayHours{Open: "09:00", Close: "18:00"},
			Wednesday: &DayHours{Open: "09:00", Close: "18:00"},
			Thursday:  &DayHours{Open: "09:00", Close: "18:00"},
			Friday:    &DayHours{Open: "09:00", Close: "17:00"},
		},
		Services: []Service{
			{ID: "consultation", Name: "Consultation", Aliases: []string{"consult"}, Active: true, DurationMinutes: 30},
			{ID: "botox", Name: "Botox", Aliases: []string{"tox", "wrinkle relaxer"}, Active: true, DurationMinutes: 30, CostCents: 30000, DepositCents: 5000, RequiresPayment: true},
			{
				ID: "microneedling", Name: "Microneedling", Active: true, DurationMinutes: 60, CostCents: 35000, DepositCents: 5000, RequiresPayment: true,
				MultiSession: &MultiSessionConfig{
					TotalSessionsRequired: 3,
					Strategy:              scheduling.StrategyImmediate,
					Buffer: scheduling.BufferConfig{
						Default:     scheduling.Offset{Weeks: 4},
						Transitions: map[string]scheduling.Offset{"1-2": {Weeks: 4}, "2-3": {Weeks: 6}},
					},
				},
			},
			{
				ID: "laser-hair-removal", Name: "Laser Hair Removal", Aliases: []string{"laser"}, Active: true, DurationMinutes: 45, CostCents: 20000,
				MultiSession: &MultiSessionConfig{TotalSessionsRequired: 6, Strategy: scheduling.StrategySequential},
			},
			{
				ID: "chemical-peel", Name: "Chemical Peel", Aliases: []string{"peel"}, Active: true, DurationMinutes: 45, CostCents: 15000,
				MultiSession: &MultiSessionConfig{
					TotalSessionsRequired: 4,
					Strategy:              scheduling.StrategyFlexible,
					Buffer:                scheduling.BufferConfig{MinimumGap: scheduling.Offset{Weeks: 2}},
				},
			},
		},
	}
}

func normalizeServiceKey(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}

// ActiveServices returns the services currently offered.
func (c *Config) ActiveServices() []Service {
	if c == nil {
		return nil
	}
	out := make([]Service, 0, len(c.Services))
	for _, svc := range c.Services {
		if svc.Active {
			out = append(out, svc)
		}
	}
	return out
}

// ServiceByID looks up a service regardless of its active flag.
func (c *Config) ServiceByID(id string) (Service, error) {
	if c != nil {
		for _, svc := range c.Services {
			if svc.ID == id {
				return svc, nil
			}
		}
	}
	return Service{}, ErrServiceNotFound
}

// Location returns the clinic's time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
