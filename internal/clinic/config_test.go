package clinic

import (
	"testing"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/scheduling"
)

func TestIsOpenAt(t *testing.T) {
	cfg := DefaultConfig("test-org")
	loc, _ := time.LoadLocation("America/New_York")

	monday10am := time.Date(2025, 12, 8, 10, 0, 0, 0, loc)
	if !cfg.IsOpenAt(monday10am) {
		t.Error("expected clinic to be open Monday 10 AM")
	}
	saturday := time.Date(2025, 12, 13, 10, 0, 0, 0, loc)
	if cfg.IsOpenAt(saturday) {
		t.Error("expected clinic to be closed Saturday")
	}
	monday7am := time.Date(2025, 12, 8, 7, 0, 0, 0, loc)
	if cfg.IsOpenAt(monday7am) {
		t.Error("expected clinic to be closed at 7 AM")
	}
}

func TestIsOpenAtWithoutHours(t *testing.T) {
	cfg := &Config{Timezone: "UTC"}
	if !cfg.IsOpenAt(time.Date(2025, 12, 13, 3, 0, 0, 0, time.UTC)) {
		t.Error("appointment-only clinic should always be open")
	}
}

func TestNextOpenTime(t *testing.T) {
	cfg := DefaultConfig("test-org")
	loc, _ := time.LoadLocation("America/New_York")
	friday8pm := time.Date(2025, 12, 5, 20, 0, 0, 0, loc)

	next := cfg.NextOpenTime(friday8pm)
	if next.Weekday() != time.Monday {
		t.Errorf("expected next open to be Monday, got %s", next.Weekday())
	}
	if next.Hour() != 9 {
		t.Errorf("expected next open at 9 AM, got %d", next.Hour())
	}
}

func TestAvailabilityHint(t *testing.T) {
	cfg := DefaultConfig("test-org")
	loc, _ := time.LoadLocation("America/New_York")
	saturday := time.Date(2025, 12, 13, 10, 0, 0, 0, loc)
	svc, err := cfg.ServiceByID("botox")
	if err != nil {
		t.Fatalf("botox missing from defaults: %v", err)
	}

	hint := cfg.AvailabilityHint(svc, saturday)
	want := "Botox appointments take about 30 minutes. Our next opening is Monday at 9:00 AM (hours: Mon 09:00-18:00, Tue 09:00-18:00, Wed 09:00-18:00, Thu 09:00-18:00, Fri 09:00-17:00)."
	if hint != want {
		t.Fatalf("unexpected hint:\n got %q\nwant %q", hint, want)
	}
}

func TestActiveServicesSkipsInactive(t *testing.T) {
	cfg := &Config{Services: []Service{
		{ID: "a", Name: "A", Active: true},
		{ID: "b", Name: "B", Active: false},
	}}
	active := cfg.ActiveServices()
	if len(active) != 1 || active[0].ID != "a" {
		t.Fatalf("unexpected active services: %#v", active)
	}
	if _, err := cfg.ServiceByID("missing"); err != ErrServiceNotFound {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestServiceHelpers(t *testing.T) {
	svc := Service{Name: " Chemical Peel ", Aliases: []string{"Peel", ""}}
	names := svc.Names()
	if len(names) != 2 || names[0] != "chemical peel" || names[1] != "peel" {
		t.Fatalf("unexpected names: %v", names)
	}
	if svc.Duration() != time.Hour {
		t.Fatalf("expected default duration, got %s", svc.Duration())
	}
	if svc.IsMultiSession() {
		t.Fatal("service without plan should not be multi-session")
	}
	svc.MultiSession = &MultiSessionConfig{TotalSessionsRequired: 4, Strategy: scheduling.StrategyFlexible}
	if !svc.IsMultiSession() {
		t.Fatal("expected multi-session service")
	}
}

func TestCancellationPolicyFee(t *testing.T) {
	policy := CancellationPolicy{WindowHours: 24, FeeCents: 5000}
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	if fee := policy.FeeFor(now.Add(23*time.Hour), now); fee != 5000 {
		t.Fatalf("expected late fee, got %d", fee)
	}
	if fee := policy.FeeFor(now.Add(25*time.Hour), now); fee != 0 {
		t.Fatalf("expected no fee outside window, got %d", fee)
	}
	if fee := (CancellationPolicy{}).FeeFor(now, now); fee != 0 {
		t.Fatalf("expected no fee without policy, got %d", fee)
	}
}

func TestPolicyOverridesApply(t *testing.T) {
	defaults := Policy{
		EmailCollectionMode:      EmailGentle,
		StrictPaymentEnforcement: true,
		Cancellation:             CancellationPolicy{WindowHours: 24, FeeCents: 5000},
		PaymentLinkTTL:           30 * time.Minute,
	}
	lenient := false
	fee := 2500
	ttl := 15
	got := PolicyOverrides{
		EmailCollectionMode:      "MANDATORY",
		StrictPaymentEnforcement: &lenient,
		CancellationFeeCents:     &fee,
		PaymentLinkTTLMinutes:    &ttl,
	}.Apply(defaults)

	if got.EmailCollectionMode != EmailMandatory {
		t.Fatalf("expected mandatory, got %s", got.EmailCollectionMode)
	}
	if got.StrictPaymentEnforcement {
		t.Fatal("expected lenient override")
	}
	if got.Cancellation.FeeCents != 2500 || got.Cancellation.WindowHours != 24 {
		t.Fatalf("unexpected cancellation policy: %#v", got.Cancellation)
	}
	if got.PaymentLinkTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl: %s", got.PaymentLinkTTL)
	}
	if ParseEmailCollectionMode("whatever") != EmailGentle {
		t.Fatal("unknown modes should map to gentle")
	}
}

func TestBusinessHoursWeekLookup(t *testing.T) {
	hours := BusinessHours{Saturday: &DayHours{Open: "10:00", Close: "14:00"}}
	if !hours.Configured() {
		t.Fatal("expected configured hours")
	}
	if hours.On(time.Saturday) == nil || hours.On(time.Sunday) != nil {
		t.Fatal("unexpected weekday lookup")
	}
	if hours.On(time.Weekday(9)) != nil {
		t.Fatal("out of range weekday should be closed")
	}
	if (&BusinessHours{}).Configured() {
		t.Fatal("empty schedule should not be configured")
	}
}

func TestNextOpenTimeDuringHours(t *testing.T) {
	cfg := DefaultConfig("test-org")
	loc, _ := time.LoadLocation("America/New_York")
	mondayNoon := time.Date(2025, 12, 8, 12, 30, 0, 0, loc)
	if got := cfg.NextOpenTime(mondayNoon); !got.Equal(mondayNoon) {
		t.Fatalf("expected now while open, got %s", got)
	}
	monday7am := time.Date(2025, 12, 8, 7, 0, 0, 0, loc)
	if got := cfg.NextOpenTime(monday7am); got.Hour() != 9 || got.Day() != 8 {
		t.Fatalf("expected same-day opening, got %s", got)
	}
}

func TestIsOpenAtMalformedHours(t *testing.T) {
	cfg := &Config{Timezone: "UTC", BusinessHours: BusinessHours{Monday: &DayHours{Open: "nine", Close: "18:00"}}}
	if cfg.IsOpenAt(time.Date(2025, 12, 8, 10, 0, 0, 0, time.UTC)) {
		t.Fatal("unparseable hours should read as closed")
	}
}
