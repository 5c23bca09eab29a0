// Package scheduling computes session plans for multi-session treatments.
// Everything in this package is pure: no clocks, no I/O.
package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy selects how the sessions of a treatment plan are booked.
type Strategy string

const (
	StrategyImmediate  Strategy = "immediate"
	StrategySequential Strategy = "sequential"
	StrategyFlexible   Strategy = "flexible"
)

var (
	ErrUnknownStrategy     = errors.New("scheduling: unknown strategy")
	ErrInvalidSessionCount = errors.New("scheduling: session count must be positive")
	ErrMissingStart        = errors.New("scheduling: start time required")
	ErrInvalidDuration     = errors.New("scheduling: duration must be positive")
	ErrDatesOutOfOrder     = errors.New("scheduling: session dates must be strictly increasing")
	ErrGapTooShort         = errors.New("scheduling: sessions are closer than the minimum gap")
)

// fallbackGap spaces sessions when a service carries no buffer configuration at all.
var fallbackGap = Offset{Weeks: 1}

// ParseStrategy normalizes a configured strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyImmediate:
		return StrategyImmediate, nil
	case StrategySequential:
		return StrategySequential, nil
	case StrategyFlexible:
		return StrategyFlexible, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, raw)
	}
}

// Offset is a calendar-aware gap between two session start times.
// Weeks and days are applied with AddDate so wall-clock time survives DST changes.
type Offset struct {
	Weeks   int `json:"weeks,omitempty"`
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
}

// IsZero reports whether the offset moves time at all.
func (o Offset) IsZero() bool {
	return o.Weeks == 0 && o.Days == 0 && o.Hours == 0 && o.Minutes == 0
}

// Apply returns t shifted by the offset.
func (o Offset) Apply(t time.Time) time.Time {
	shifted := t.AddDate(0, 0, o.Weeks*7+o.Days)
	return shifted.Add(time.Duration(o.Hours)*time.Hour + time.Duration(o.Minutes)*time.Minute)
}

// String renders the offset for customer-facing text, e.g. "2 weeks".
func (o Offset) String() string {
	var parts []string
	add := func(n int, unit string) {
		if n == 0 {
			return
		}
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit))
			return
		}
		parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
	}
	add(o.Weeks, "week")
	add(o.Days, "day")
	add(o.Hours, "hour")
	add(o.Minutes, "minute")
	if len(parts) == 0 {
		return "0 days"
	}
	return strings.Join(parts, " ")
}

// BufferConfig holds the spacing rules of a service.
//
// Transitions are keyed "N-M" (for example "1-2" for the gap between session 1
// and session 2) and take precedence over Default. MinimumGap bounds how close
// customer-chosen dates may be under the flexible strategy.
type BufferConfig struct {
	Default     Offset            `json:"default"`
	Transitions map[string]Offset `json:"transitions,omitempty"`
	MinimumGap  Offset            `json:"minimum_gap,omitempty"`
}

// IsZero reports whether no spacing rule is configured.
func (b BufferConfig) IsZero() bool {
	return b.Default.IsZero() && len(b.Transitions) == 0 && b.MinimumGap.IsZero()
}

// TransitionKey names the gap between session n and session n+1.
func TransitionKey(n int) string {
	return fmt.Sprintf("%d-%d", n, n+1)
}

// GapAfter returns the offset between session n and session n+1.
func (b BufferConfig) GapAfter(n int) Offset {
	if gap, ok := b.Transitions[TransitionKey(n)]; ok && !gap.IsZero() {
		return gap
	}
	if !b.Default.IsZero() {
		return b.Default
	}
	if !b.MinimumGap.IsZero() {
		return b.MinimumGap
	}
	return fallbackGap
}

// SessionScheduleEntry is one computed session slot.
type SessionScheduleEntry struct {
	SessionNumber int       `json:"session_number"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// Request describes a schedule computation.
type Request struct {
	Strategy Strategy
	Start    time.Time
	Buffer   BufferConfig
	// SessionCount is the number of sessions to lay out. Sequential plans always
	// produce a single session regardless of this value.
	SessionCount int
	// FirstSessionNumber defaults to 1. Plans that continue an existing series
	// start numbering after the sessions already booked.
	FirstSessionNumber int
	Duration           time.Duration
}

// Compute lays out session slots for the request.
//
// Immediate and flexible plans walk the buffer configuration from the start
// time; for flexible plans the result is a suggestion that the customer may
// replace with their own dates via ScheduleFromDates. Sequential plans return
// only the next session.
func Compute(req Request) ([]SessionScheduleEntry, error) {
	if req.Start.IsZero() {
		return nil, ErrMissingStart
	}
	if req.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	first := req.FirstSessionNumber
	if first <= 0 {
		first = 1
	}

	count := req.SessionCount
	switch req.Strategy {
	case StrategySequential:
		count = 1
	case StrategyImmediate, StrategyFlexible:
		if count <= 0 {
			return nil, ErrInvalidSessionCount
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
	}

	entries := make([]SessionScheduleEntry, 0, count)
	start := req.Start
	for i := 0; i < count; i++ {
		number := first + i
		entries = append(entries, SessionScheduleEntry{
			SessionNumber: number,
			StartTime:     start,
			EndTime:       start.Add(req.Duration),
		})
		start = req.Buffer.GapAfter(number).Apply(start)
	}
	return entries, nil
}

// ValidateNext checks that next may follow prev under the buffer rules.
func ValidateNext(prev, next time.Time, buffer BufferConfig) error {
	if !next.After(prev) {
		return ErrDatesOutOfOrder
	}
	if !buffer.MinimumGap.IsZero() && next.Before(buffer.MinimumGap.Apply(prev)) {
		return fmt.Errorf("%w: need at least %s", ErrGapTooShort, buffer.MinimumGap)
	}
	return nil
}

// ScheduleFromDates builds entries for customer-chosen start times, numbering
// them from firstSessionNumber. Dates must be strictly increasing and honour
// the minimum gap.
func ScheduleFromDates(dates []time.Time, firstSessionNumber int, duration time.Duration, buffer BufferConfig) ([]SessionScheduleEntry, error) {
	if len(dates) == 0 {
		return nil, ErrInvalidSessionCount
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if firstSessionNumber <= 0 {
		firstSessionNumber = 1
	}

	entries := make([]SessionScheduleEntry, 0, len(dates))
	for i, start := range dates {
		if start.IsZero() {
			return nil, ErrMissingStart
		}
		if i > 0 {
			if err := ValidateNext(dates[i-1], start, buffer); err != nil {
				return nil, fmt.Errorf("session %d: %w", firstSessionNumber+i, err)
			}
		}
		entries = append(entries, SessionScheduleEntry{
			SessionNumber: firstSessionNumber + i,
			StartTime:     start,
			EndTime:       start.Add(duration),
		})
	}
	return entries, nil
}
