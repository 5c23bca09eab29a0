package rebooking

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

func newTestScheduler(t *testing.T) (*Scheduler, *MemoryReminderStore, *contacts.Contact) {
	t.Helper()
	repo := contacts.NewInMemoryRepository()
	contact, err := repo.FindOrCreate(context.Background(), "org-1", "+15555550100", "Ana")
	require.NoError(t, err)
	store := NewMemoryReminderStore()
	return NewScheduler(store, repo, logging.NewWithWriter("error", io.Discard)), store, contact
}

func envelope(t *testing.T, evt events.CanonicalEvent) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope("org-1", "booking", evt)
	require.NoError(t, err)
	return env
}

func TestSchedulerSchedulesAfterLastSession(t *testing.T) {
	s, store, contact := newTestScheduler(t)

	second := testTime.AddDate(0, 0, 28)
	err := s.Handle(context.Background(), envelope(t, events.BookingsConfirmedV1{
		OrgID:       "org-1",
		ContactID:   contact.ID,
		ServiceName: "Microneedling",
		Sessions: []events.SessionSlot{
			{BookingID: "b-2", SessionNumber: 2, StartTime: second},
			{BookingID: "b-1", SessionNumber: 1, StartTime: testTime},
		},
		ConfirmedAt: testTime,
	}))
	require.NoError(t, err)

	due, err := store.ListDue(context.Background(), second.AddDate(1, 0, 0), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	r := due[0]
	assert.Equal(t, "b-2", r.BookingID)
	assert.Equal(t, "+15555550100", r.Phone)
	assert.Equal(t, "Ana", r.Name)
	assert.True(t, r.RebookAfter.Equal(second.AddDate(0, 0, 28)), "microneedling rebooks after four weeks")
}

func TestSchedulerIgnoresUnknownServiceAndMissingContact(t *testing.T) {
	s, store, contact := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, envelope(t, events.BookingsConfirmedV1{
		OrgID: "org-1", ContactID: contact.ID, ServiceName: "Consultation",
		Sessions: []events.SessionSlot{{BookingID: "b-1", StartTime: testTime}},
	})))
	require.NoError(t, s.Handle(ctx, envelope(t, events.BookingsConfirmedV1{
		OrgID: "org-1", ContactID: "nobody", ServiceName: "Botox",
		Sessions: []events.SessionSlot{{BookingID: "b-2", StartTime: testTime}},
	})))

	due, err := store.ListDue(ctx, testTime.AddDate(2, 0, 0), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSchedulerDismissesOnCancellation(t *testing.T) {
	s, store, contact := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, envelope(t, events.BookingsConfirmedV1{
		OrgID: "org-1", ContactID: contact.ID, ServiceName: "Botox",
		Sessions: []events.SessionSlot{{BookingID: "b-1", StartTime: testTime}},
	})))
	require.NoError(t, s.Handle(ctx, envelope(t, events.BookingCancelledV1{
		OrgID: "org-1", ContactID: contact.ID, BookingID: "b-1", ServiceName: "Botox",
		StartTime: testTime, CancelledAt: testTime.Add(-time.Hour),
	})))

	due, err := store.ListDue(ctx, testTime.AddDate(1, 0, 0), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSchedulerSkipsMalformedPayload(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	err := s.Handle(context.Background(), events.Envelope{
		EventType: events.BookingsConfirmedV1{}.EventType(),
		Payload:   []byte("{"),
	})
	require.NoError(t, err)
}
