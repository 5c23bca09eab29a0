package rebooking

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	seriesText   = "Hi %[1]s! It's been %[2]s since your last %[3]s session at %[4]s. Ready to continue your series? Reply BOOK to pick your next appointment."
	toxText      = "Hi %[1]s! It's been about %[2]s since your Botox at %[4]s. Ready to keep those results fresh? Reply BOOK and we'll find a time."
	followUpText = "Hi %[1]s! It's time for your weight loss follow-up at %[4]s. Reply BOOK to schedule your next visit."
	genericText  = "Hi %[1]s! It's been %[2]s since your %[3]s at %[4]s. Ready for your next one? Reply BOOK and we'll find a time."
)

// MessageTemplate renders the reminder text. A BOOK reply opens a fresh
// booking conversation.
func MessageTemplate(r *Reminder, clinicName string) string {
	name := orDefault(r.Name, "there")
	clinicName = orDefault(clinicName, "our clinic")
	service := r.Service

	format := genericText
	if ti, ok := LookupInterval(r.Service); ok && ti.IsSeries {
		format, service = seriesText, strings.ToLower(r.Service)
	} else {
		switch normalizeService(r.Service) {
		case "botox", "tox":
			format = toxText
		case "weight loss":
			format = followUpText
		}
	}
	return fmt.Sprintf(format, name, humanDuration(r.LastVisit, r.RebookAfter), service, clinicName)
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}

// humanDuration rounds to weeks, switching to months past twelve weeks.
func humanDuration(from, to time.Time) string {
	days := to.Sub(from).Hours() / 24
	switch weeks := int(math.Round(days / 7)); {
	case weeks <= 1:
		return "1 week"
	case weeks <= 12:
		return fmt.Sprintf("%d weeks", weeks)
	default:
		return fmt.Sprintf("%d months", int(math.Round(days/30.44)))
	}
}
