// Package rebooking holds treatment interval knowledge, the soft rebooking
// suggestions sent after a cancellation, and the follow-up reminders texted
// once a treatment is due again.
package rebooking

import (
	"strings"

	"github.com/wolfman30/medspa-booking-engine/internal/scheduling"
)

// TreatmentInterval describes how far apart treatments of a service usually are.
// IsSeries marks treatments performed as a multi-session plan.
type TreatmentInterval struct {
	Service  string
	MinWeeks int
	MaxWeeks int
	IsSeries bool
}

// DefaultTreatmentIntervals returns the standard intervals for common medspa services.
func DefaultTreatmentIntervals() []TreatmentInterval {
	return []TreatmentInterval{
		{Service: "botox", MinWeeks: 10, MaxWeeks: 14},
		{Service: "tox", MinWeeks: 10, MaxWeeks: 14},
		{Service: "dermal filler", MinWeeks: 26, MaxWeeks: 52},
		{Service: "lip filler", MinWeeks: 26, MaxWeeks: 52},
		{Service: "filler", MinWeeks: 26, MaxWeeks: 52},
		{Service: "microneedling", MinWeeks: 4, MaxWeeks: 6, IsSeries: true},
		{Service: "chemical peel", MinWeeks: 4, MaxWeeks: 6, IsSeries: true},
		{Service: "laser hair removal", MinWeeks: 4, MaxWeeks: 6, IsSeries: true},
		{Service: "hydrafacial", MinWeeks: 4, MaxWeeks: 6, IsSeries: true},
		{Service: "weight loss", MinWeeks: 4, MaxWeeks: 5},
	}
}

var treatmentIntervals map[string]TreatmentInterval

func init() {
	treatmentIntervals = make(map[string]TreatmentInterval)
	for _, ti := range DefaultTreatmentIntervals() {
		treatmentIntervals[ti.Service] = ti
	}
}

func normalizeService(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}

// LookupInterval finds the interval for a service: exact match first, then the
// longest known name contained in (or containing) the given one.
func LookupInterval(service string) (TreatmentInterval, bool) {
	key := normalizeService(service)
	if key == "" {
		return TreatmentInterval{}, false
	}
	if ti, ok := treatmentIntervals[key]; ok {
		return ti, true
	}
	var best TreatmentInterval
	bestLen := 0
	for svcKey, ti := range treatmentIntervals {
		if strings.Contains(key, svcKey) || strings.Contains(svcKey, key) {
			if len(svcKey) > bestLen {
				best = ti
				bestLen = len(svcKey)
			}
		}
	}
	if bestLen > 0 {
		return best, true
	}
	return TreatmentInterval{}, false
}

// SeriesBuffer returns default session spacing for a series treatment.
// Sessions are spaced MinWeeks apart and never closer than that.
func SeriesBuffer(service string) (scheduling.BufferConfig, bool) {
	ti, ok := LookupInterval(service)
	if !ok || !ti.IsSeries || ti.MinWeeks <= 0 {
		return scheduling.BufferConfig{}, false
	}
	gap := scheduling.Offset{Weeks: ti.MinWeeks}
	return scheduling.BufferConfig{Default: gap, MinimumGap: gap}, true
}
