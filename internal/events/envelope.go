package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalEvent is a versioned domain event. EventType must be stable for
// the life of the version.
type CanonicalEvent interface {
	EventType() string
}

// Envelope carries one event through the outbox.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	OrgID         string          `json:"org_id"`
	Aggregate     string          `json:"aggregate"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type EnvelopeOption func(*Envelope)

func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

func WithOccurredAt(at time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if !at.IsZero() {
			e.OccurredAt = at.UTC().Truncate(time.Microsecond)
		}
	}
}

// WithCorrelationID ties the event to the conversation that caused it.
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) { e.CorrelationID = strings.TrimSpace(id) }
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: event is required")
	errMissingType      = errors.New("events: event type is required")
)

// NewEnvelope encodes evt. Timestamps are kept at microsecond precision so
// they survive a round trip through Postgres unchanged.
func NewEnvelope(orgID, aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	switch {
	case aggregate == "":
		return Envelope{}, errMissingAggregate
	case evt == nil:
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, errMissingType
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s: %w", eventType, err)
	}
	env := Envelope{
		EventID:    uuid.New(),
		EventType:  eventType,
		OrgID:      strings.TrimSpace(orgID),
		Aggregate:  aggregate,
		OccurredAt: time.Now().UTC().Truncate(time.Microsecond),
		Payload:    payload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// Decode unmarshals the payload of env as a T. It fails when env carries a
// different event type.
func Decode[T CanonicalEvent](env Envelope) (T, error) {
	var evt T
	if want := evt.EventType(); env.EventType != want {
		return evt, fmt.Errorf("events: envelope %s holds %s, not %s", env.EventID, env.EventType, want)
	}
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return evt, fmt.Errorf("events: decode %s: %w", env.EventType, err)
	}
	return evt, nil
}
