package clinic

import (
	"fmt"
	"strings"
	"time"
)

// DayHours is one day's opening window as 24-hour "HH:MM" clock strings.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// BusinessHours holds the weekly schedule. A nil day is closed.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// week is indexed by time.Weekday.
func (b *BusinessHours) week() [7]*DayHours {
	return [7]*DayHours{b.Sunday, b.Monday, b.Tuesday, b.Wednesday, b.Thursday, b.Friday, b.Saturday}
}

// On returns the hours for wd, nil when closed.
func (b *BusinessHours) On(wd time.Weekday) *DayHours {
	if wd < time.Sunday || wd > time.Saturday {
		return nil
	}
	return b.week()[wd]
}

// Configured reports whether any day has hours. Clinics without hours book
// by appointment only.
func (b *BusinessHours) Configured() bool {
	for _, h := range b.week() {
		if h != nil {
			return true
		}
	}
	return false
}

// window resolves the opening hours on the calendar day of t. ok is false
// when the clinic is closed that day or the hours do not parse.
func (b *BusinessHours) window(t time.Time) (open, closing time.Time, ok bool) {
	h := b.On(t.Weekday())
	if h == nil {
		return time.Time{}, time.Time{}, false
	}
	o, err := time.Parse("15:04", h.Open)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	c, err := time.Parse("15:04", h.Close)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := t.Date()
	open = time.Date(y, m, d, o.Hour(), o.Minute(), 0, 0, t.Location())
	closing = time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, t.Location())
	return open, closing, true
}

// IsOpenAt reports whether t falls inside the clinic's hours.
func (c *Config) IsOpenAt(t time.Time) bool {
	if !c.BusinessHours.Configured() {
		return true
	}
	local := t.In(c.Location())
	open, closing, ok := c.BusinessHours.window(local)
	return ok && !local.Before(open) && local.Before(closing)
}

// NextOpenTime returns t when the clinic is open, otherwise the next opening
// within a week. It falls back to 09:00 tomorrow.
func (c *Config) NextOpenTime(t time.Time) time.Time {
	local := t.In(c.Location())
	for offset := 0; offset < 7; offset++ {
		open, closing, ok := c.BusinessHours.window(local.AddDate(0, 0, offset))
		if !ok {
			continue
		}
		if offset > 0 || local.Before(open) {
			return open
		}
		if local.Before(closing) {
			return local
		}
	}
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 9, 0, 0, 0, local.Location())
}

// OpenDays renders the schedule Monday first, e.g. "Mon 09:00-18:00".
func (c *Config) OpenDays() []string {
	var days []string
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		if h := c.BusinessHours.On(wd); h != nil {
			days = append(days, fmt.Sprintf("%.3s %s-%s", wd, h.Open, h.Close))
		}
	}
	return days
}

// AvailabilityHint is the context shown to the customer alongside the
// request for a preferred date and time.
func (c *Config) AvailabilityHint(service Service, now time.Time) string {
	var parts []string
	if service.Name != "" {
		parts = append(parts, fmt.Sprintf("%s appointments take about %d minutes.", service.Name, int(service.Duration().Minutes())))
	}
	if !c.BusinessHours.Configured() {
		return strings.Join(append(parts, "We book by appointment, so most days and times can work."), " ")
	}

	status := "We're open now"
	if !c.IsOpenAt(now) {
		status = "Our next opening is " + c.NextOpenTime(now).Format("Monday at 3:04 PM")
	}
	if days := c.OpenDays(); len(days) > 0 {
		status += " (hours: " + strings.Join(days, ", ") + ")"
	}
	return strings.Join(append(parts, status+"."), " ")
}
