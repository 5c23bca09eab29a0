package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type untypedEvent struct{}

func (untypedEvent) EventType() string { return " " }

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 123456789, time.UTC)
	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")

	env, err := NewEnvelope(" org-1 ", "booking:b-1", RescheduleRequestedV1{
		OrgID:          "org-1",
		BookingID:      "b-1",
		RequestedStart: at.Add(48 * time.Hour),
	}, WithEventID(id), WithCorrelationID(" conv-1 "), WithOccurredAt(at))
	require.NoError(t, err)

	assert.Equal(t, id, env.EventID)
	assert.Equal(t, "org-1", env.OrgID)
	assert.Equal(t, "booking.reschedule_requested.v1", env.EventType)
	assert.Equal(t, "conv-1", env.CorrelationID)
	assert.Equal(t, at.Truncate(time.Microsecond), env.OccurredAt)

	evt, err := Decode[RescheduleRequestedV1](env)
	require.NoError(t, err)
	assert.Equal(t, "b-1", evt.BookingID)
	assert.True(t, evt.RequestedStart.Equal(at.Add(48*time.Hour)))
}

func TestNewEnvelopeDefaults(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	env, err := NewEnvelope("org", "group:g-1", BookingsRolledBackV1{Reason: "expired"}, WithEventID(uuid.Nil), nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, env.EventID)
	assert.True(t, env.OccurredAt.After(before))
}

func TestEnvelopeValidation(t *testing.T) {
	_, err := NewEnvelope("org", " ", BookingCancelledV1{})
	assert.ErrorIs(t, err, errMissingAggregate)
	_, err = NewEnvelope("org", "agg", nil)
	assert.ErrorIs(t, err, errNilEvent)
	_, err = NewEnvelope("org", "agg", untypedEvent{})
	assert.ErrorIs(t, err, errMissingType)
}

func TestDecodeRejectsOtherTypes(t *testing.T) {
	env, err := NewEnvelope("org-1", "booking:b-1", BookingCancelledV1{BookingID: "b-1"})
	require.NoError(t, err)

	_, err = Decode[BookingsConfirmedV1](env)
	require.Error(t, err)

	env.Payload = []byte(`{"booking_id":`)
	_, err = Decode[BookingCancelledV1](env)
	require.Error(t, err)
}
