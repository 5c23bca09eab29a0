package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/internal/rebooking"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

const (
	testOrgID  = "org-1"
	testConvID = "conv-1"
	testPhone  = "+15555550100"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harnessSetup struct {
	cfg         *clinic.Config
	checkoutURL string
	store       ContextStore
}

type harnessOption func(*harnessSetup)

func withEmailMode(mode clinic.EmailCollectionMode) harnessOption {
	return func(s *harnessSetup) { s.cfg.Policy.EmailCollectionMode = string(mode) }
}

func withLenientPayments() harnessOption {
	return func(s *harnessSetup) {
		strict := false
		s.cfg.Policy.StrictPaymentEnforcement = &strict
	}
}

func withBrokenCheckout() harnessOption {
	return func(s *harnessSetup) { s.checkoutURL = "" }
}

func withContextStore(store ContextStore) harnessOption {
	return func(s *harnessSetup) { s.store = store }
}

type routerHarness struct {
	router   *Router
	store    ContextStore
	repo     *bookings.MemoryRepository
	contacts *contacts.InMemoryRepository
	gate     *payments.Gate
	outbox   *events.MemoryOutbox
	tasks    *TaskRunner
	clock    *testClock
	contact  *contacts.Contact
}

func newRouterHarness(t *testing.T, opts ...harnessOption) *routerHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := clinic.DefaultConfig(testOrgID)
	cfg.Timezone = "UTC"
	for i := range cfg.Services {
		if cfg.Services[i].ID == "laser-hair-removal" {
			cfg.Services[i].MultiSession.TotalSessionsRequired = 5
		}
	}
	setup := &harnessSetup{cfg: cfg, checkoutURL: "https://book.example.test", store: NewMemoryContextStore()}
	for _, opt := range opts {
		opt(setup)
	}

	ctx := context.Background()
	catalog := clinic.NewStore(rdb, clinic.Policy{
		EmailCollectionMode:      clinic.EmailSkip,
		StrictPaymentEnforcement: true,
		PaymentLinkTTL:           30 * time.Minute,
	})
	require.NoError(t, catalog.Set(ctx, setup.cfg))

	logger := logging.NewWithWriter("error", io.Discard)
	clock := &testClock{t: time.Date(2030, time.January, 7, 10, 0, 0, 0, time.UTC)}
	repo := bookings.NewMemoryRepository()
	people := contacts.NewInMemoryRepository()
	contact, err := people.FindOrCreate(ctx, testOrgID, testPhone, "Ana")
	require.NoError(t, err)

	gate := payments.NewGate(
		payments.NewMemoryLinkStore(),
		payments.NewFakeCheckoutService(setup.checkoutURL, logger),
		repo,
		catalog,
		logger,
		payments.WithClock(clock.Now),
	)
	outbox := events.NewMemoryOutbox()
	tasks := NewTaskRunner(outbox, nil, nil, logger)

	router := NewRouter(setup.store, catalog, repo, logger,
		WithContacts(people),
		WithPaymentGate(gate),
		WithTaskRunner(tasks),
		WithRouterClock(clock.Now),
	)
	return &routerHarness{
		router:   router,
		store:    setup.store,
		repo:     repo,
		contacts: people,
		gate:     gate,
		outbox:   outbox,
		tasks:    tasks,
		clock:    clock,
		contact:  contact,
	}
}

func (h *routerHarness) send(t *testing.T, message string) Reply {
	t.Helper()
	reply := h.router.Route(context.Background(), Turn{
		ConversationID: testConvID,
		OrgID:          testOrgID,
		ContactID:      h.contact.ID,
		PhoneNumber:    testPhone,
		Message:        message,
	})
	if reply.Text == "" {
		t.Fatalf("empty reply to %q", message)
	}
	return reply
}

func (h *routerHarness) context(t *testing.T) *Context {
	t.Helper()
	c, err := h.store.Get(context.Background(), testConvID)
	if errors.Is(err, ErrContextNotFound) {
		return nil
	}
	require.NoError(t, err)
	return c
}

func (h *routerHarness) seedBooking(id, serviceID, name string, start time.Time, status bookings.Status) {
	h.repo.Seed(bookings.Booking{
		ID:          id,
		OrgID:       testOrgID,
		ContactID:   h.contact.ID,
		ServiceID:   serviceID,
		ServiceName: name,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Status:      status,
	})
}

func (h *routerHarness) eventTypes() []string {
	h.tasks.Wait()
	return h.outbox.Types()
}

func TestRoute_CancelAsksForBookingThenReason(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.seedBooking("bk-2", "consultation", "Consultation", time.Date(2030, 1, 12, 11, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "I need to cancel my appointment")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "Which appointment would you like to cancel?")
	assert.Contains(t, reply.Text, "1. Botox")
	assert.Contains(t, reply.Text, "2. Consultation")

	reply = h.send(t, "2")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Equal(t, msgReasonPrompt, reply.Text)
	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, "bk-2", c.SelectedBookingID)
	assert.Equal(t, CancelStepCollectReason, c.CancelStep)

	reply = h.send(t, "I have a work conflict")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.True(t, reply.Cleared)
	assert.Contains(t, reply.Text, "Your Consultation on Saturday, January 12 at 11:00 AM has been cancelled.")
	assert.Nil(t, h.context(t))

	b, ok := h.repo.Get("bk-2")
	require.True(t, ok)
	assert.Equal(t, bookings.StatusCancelled, b.Status)
	assert.Equal(t, "I have a work conflict", b.CancellationReason)
	untouched, _ := h.repo.Get("bk-1")
	assert.Equal(t, bookings.StatusConfirmed, untouched.Status)

	assert.Contains(t, h.eventTypes(), "booking.cancelled.v1")
}

func TestRoute_CancelKeepsReasonGivenBeforeChoosingBooking(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.seedBooking("bk-2", "consultation", "Consultation", time.Date(2030, 1, 12, 11, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "I need to cancel because my car broke down")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "Which appointment would you like to cancel?")
	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, "my car broke down", c.PendingReason)
	assert.Empty(t, c.CancellationReason)

	reply = h.send(t, "1")
	assert.Equal(t, OutcomeCompleted, reply.Outcome, reply.Text)
	assert.Contains(t, reply.Text, "Your Botox on Thursday, January 10 at 2:00 PM has been cancelled.")
	assert.Nil(t, h.context(t))

	b, _ := h.repo.Get("bk-1")
	assert.Equal(t, bookings.StatusCancelled, b.Status)
	assert.Equal(t, "my car broke down", b.CancellationReason)
	other, _ := h.repo.Get("bk-2")
	assert.Equal(t, bookings.StatusConfirmed, other.Status)
}

func TestRoute_CancelSingleBookingUsesSameMessage(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "Please cancel my botox appointment because I'm sick")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "has been cancelled")

	b, _ := h.repo.Get("bk-1")
	assert.Equal(t, bookings.StatusCancelled, b.Status)
	assert.Equal(t, "I'm sick", b.CancellationReason)
}

func TestRoute_CancelConversationEndToEnd(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "consultation", "Consultation", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	first := h.send(t, "cancel please")
	assert.Equal(t, OutcomeContinued, first.Outcome)
	assert.Equal(t, msgReasonPrompt, first.Text)
	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, IntentCancel, c.Intent)
	assert.Equal(t, "bk-1", c.SelectedBookingID)

	done := h.send(t, "doctor rescheduled on me")
	assert.Equal(t, OutcomeCompleted, done.Outcome)
	assert.Contains(t, done.Text, "has been cancelled")
	assert.True(t, rebooking.IsSuggestion(done.Text, "Consultation"), done.Text)
	assert.Nil(t, h.context(t))

	b, _ := h.repo.Get("bk-1")
	assert.Equal(t, bookings.StatusCancelled, b.Status)
	assert.Equal(t, "doctor rescheduled", b.CancellationReason)

	h.seedBooking("bk-2", "botox", "Botox", time.Date(2030, 2, 3, 10, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.send(t, "I need to reschedule")
	fresh := h.context(t)
	require.NotNil(t, fresh)
	assert.Equal(t, IntentReschedule, fresh.Intent)
	assert.Equal(t, "bk-2", fresh.SelectedBookingID)
	assert.Empty(t, fresh.CancellationReason)
}

func TestRoute_CancelOpeningMessageIsNotAReason(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "I want to cancel my botox appointment")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Equal(t, msgReasonPrompt, reply.Text)

	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, "bk-1", c.SelectedBookingID)
	assert.Empty(t, c.CancellationReason)
}

func TestRoute_CancelLateAppliesFee(t *testing.T) {
	h := newRouterHarness(t, func(s *harnessSetup) {
		window, fee := 24, 5000
		s.cfg.Policy.CancellationWindowHours = &window
		s.cfg.Policy.CancellationFeeCents = &fee
	})
	h.seedBooking("bk-1", "botox", "Botox", h.clock.Now().Add(3*time.Hour), bookings.StatusConfirmed)

	reply := h.send(t, "cancel my appointment because my car broke down")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "late cancellation fee of $50")

	b, _ := h.repo.Get("bk-1")
	assert.Equal(t, 5000, b.CancellationFeeCents)
}

func TestRoute_RepeatedPromptIsIdentical(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.seedBooking("bk-2", "consultation", "Consultation", time.Date(2030, 1, 12, 11, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	first := h.send(t, "cancel please")
	second := h.send(t, "hello?")
	third := h.send(t, "9")
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Text, third.Text)

	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, CancelStepSelectBooking, c.CancelStep)
	assert.Empty(t, c.SelectedBookingID)
	assert.Empty(t, c.CancellationReason)
}

func TestRoute_CancelWithoutBookings(t *testing.T) {
	h := newRouterHarness(t)

	reply := h.send(t, "cancel my appointment")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "I don't see any upcoming appointments to cancel")
	assert.Nil(t, h.context(t))
}

func TestRoute_RescheduleSingleBooking(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "Can I reschedule to March 4 at 2pm?")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "to Monday, March 4 at 2:00 PM")

	b, _ := h.repo.Get("bk-1")
	require.NotNil(t, b.RequestedStartTime)
	assert.True(t, b.RequestedStartTime.Equal(time.Date(2030, 3, 4, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, bookings.StatusConfirmed, b.Status)
	assert.Contains(t, h.eventTypes(), "booking.reschedule_requested.v1")
}

func TestRoute_RescheduleKeepsDateGivenBeforeChoosingBooking(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.seedBooking("bk-2", "consultation", "Consultation", time.Date(2030, 1, 12, 11, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "I need to reschedule to March 4 at 2pm")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "1. Botox")
	c := h.context(t)
	require.NotNil(t, c)
	require.NotNil(t, c.PendingDateTime)
	assert.Nil(t, c.ProposedDateTime)

	reply = h.send(t, "1")
	assert.Equal(t, OutcomeCompleted, reply.Outcome, reply.Text)
	assert.Contains(t, reply.Text, "to Monday, March 4 at 2:00 PM")

	b, _ := h.repo.Get("bk-1")
	require.NotNil(t, b.RequestedStartTime)
	assert.True(t, b.RequestedStartTime.Equal(time.Date(2030, 3, 4, 14, 0, 0, 0, time.UTC)))
	untouched, _ := h.repo.Get("bk-2")
	assert.Nil(t, untouched.RequestedStartTime)
}

func TestRoute_RescheduleRejectsPastTimeAndIncompleteTime(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "I need to reschedule to today at 9am")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Equal(t, msgPastDateTime, reply.Text)

	reply = h.send(t, "how about friday")
	assert.Equal(t, msgDateTimePrompt, reply.Text)

	reply = h.send(t, "friday at 3pm")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	b, _ := h.repo.Get("bk-1")
	require.NotNil(t, b.RequestedStartTime)
	assert.True(t, b.RequestedStartTime.Equal(time.Date(2030, 1, 11, 15, 0, 0, 0, time.UTC)))
}

func TestRoute_UnknownOpeningMessage(t *testing.T) {
	h := newRouterHarness(t)

	reply := h.send(t, "hello there")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Equal(t, msgHelp, reply.Text)

	reply = h.send(t, "yes")
	assert.Equal(t, msgStartOver, reply.Text)
	assert.Nil(t, h.context(t))
}

func TestRoute_DetectedIntentOverridesDetector(t *testing.T) {
	h := newRouterHarness(t)
	intent := IntentNew

	reply := h.router.Route(context.Background(), Turn{
		ConversationID: testConvID,
		OrgID:          testOrgID,
		ContactID:      h.contact.ID,
		PhoneNumber:    testPhone,
		Message:        "hmm",
		DetectedIntent: &intent,
	})
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "Which service would you like to book?")
}

func TestRoute_ExistingContextWinsOverDetectedIntent(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.seedBooking("bk-2", "consultation", "Consultation", time.Date(2030, 1, 12, 11, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	h.send(t, "I need to cancel my appointment")
	intent := IntentNew
	reply := h.router.Route(context.Background(), Turn{
		ConversationID: testConvID,
		OrgID:          testOrgID,
		ContactID:      h.contact.ID,
		PhoneNumber:    testPhone,
		Message:        "2",
		DetectedIntent: &intent,
	})
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Equal(t, msgReasonPrompt, reply.Text)

	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, IntentCancel, c.Intent)
	assert.Equal(t, CancelStepCollectReason, c.CancelStep)
	assert.Equal(t, "bk-2", c.SelectedBookingID)
	assert.Empty(t, c.NewBookingStep)
}

func TestRoute_NewSingleSessionBooking(t *testing.T) {
	h := newRouterHarness(t)

	reply := h.send(t, "I'd like to book botox")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "What date and time would work best for your Botox?")
	assert.Contains(t, reply.Text, "Botox appointments take about 30 minutes.")
}

func TestRoute_ServiceMenuChoice(t *testing.T) {
	h := newRouterHarness(t)

	reply := h.send(t, "I want to book an appointment")
	require.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "1. Consultation")

	reply = h.send(t, "1")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "your Consultation")
}

func TestRoute_MandatoryEmailDefersMessage(t *testing.T) {
	h := newRouterHarness(t, withEmailMode(clinic.EmailMandatory))

	reply := h.send(t, "I want to book botox")
	assert.Equal(t, msgEmailMandatory, reply.Text)
	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, "I want to book botox", c.DeferredMessage)

	reply = h.send(t, "why do you need it?")
	assert.Equal(t, msgEmailMandatory, reply.Text)
	assert.Equal(t, "I want to book botox", h.context(t).DeferredMessage)

	reply = h.send(t, "sure it's Ana@Example.com")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "your Botox")

	saved, err := h.contacts.GetByID(context.Background(), testOrgID, h.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", saved.Email)
}

func TestRoute_RescheduleWaitsForMandatoryEmail(t *testing.T) {
	h := newRouterHarness(t, withEmailMode(clinic.EmailMandatory))
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "Can I reschedule to March 4 at 2pm?")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Equal(t, msgEmailMandatory, reply.Text)
	b, _ := h.repo.Get("bk-1")
	assert.Nil(t, b.RequestedStartTime)

	reply = h.send(t, "ana@example.com")
	assert.Equal(t, OutcomeCompleted, reply.Outcome, reply.Text)
	assert.Contains(t, reply.Text, "to Monday, March 4 at 2:00 PM")

	b, _ = h.repo.Get("bk-1")
	require.NotNil(t, b.RequestedStartTime)
	assert.True(t, b.RequestedStartTime.Equal(time.Date(2030, 3, 4, 14, 0, 0, 0, time.UTC)))
	saved, err := h.contacts.GetByID(context.Background(), testOrgID, h.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", saved.Email)
}

func TestRoute_CancelIsNotHeldForEmail(t *testing.T) {
	h := newRouterHarness(t, withEmailMode(clinic.EmailMandatory))
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "cancel my appointment because I'm sick")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "has been cancelled")
}

func TestRoute_GentleEmailAsksOnce(t *testing.T) {
	h := newRouterHarness(t, withEmailMode(clinic.EmailGentle))

	reply := h.send(t, "book botox please")
	assert.Equal(t, msgEmailGentle, reply.Text)

	reply = h.send(t, "no thanks")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "your Botox")
}

func TestRoute_EmailOnFileSkipsPrompt(t *testing.T) {
	h := newRouterHarness(t, withEmailMode(clinic.EmailMandatory))
	require.NoError(t, h.contacts.UpdateEmail(context.Background(), testOrgID, h.contact.ID, "ana@example.com"))

	reply := h.send(t, "book botox")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
}

func bookImmediatePlan(t *testing.T, h *routerHarness) Reply {
	t.Helper()
	reply := h.send(t, "I want to book microneedling")
	require.Equal(t, OutcomeContinued, reply.Outcome)
	require.Contains(t, reply.Text, "book all 3 remaining sessions")

	reply = h.send(t, "March 4 at 2pm")
	require.Equal(t, OutcomeContinued, reply.Outcome)
	require.Contains(t, reply.Text, "Session 1: Monday, March 4 at 2:00 PM")
	require.Contains(t, reply.Text, "Session 2: Monday, April 1 at 2:00 PM")
	require.Contains(t, reply.Text, "Session 3: Monday, May 13 at 2:00 PM")

	return h.send(t, "yes")
}

func TestRoute_ImmediatePlanHeldBehindPaymentLink(t *testing.T) {
	h := newRouterHarness(t)

	reply := bookImmediatePlan(t, h)
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "complete the $50 payment here: https://book.example.test/payments/fake/")
	assert.Equal(t, 3, h.repo.CountByStatus(testOrgID, bookings.StatusProvisional))

	c := h.context(t)
	require.NotNil(t, c)
	require.True(t, c.AwaitingPayment())
	assert.Len(t, c.Payment.PendingBookingIDs, 3)
	assert.Equal(t, 5000, c.Payment.AmountCents)
	assert.Equal(t, MultiSessionAwaitingPayment, c.MultiSession.Step)

	types := h.eventTypes()
	assert.Contains(t, types, "bookings.provisional_created.v1")
	assert.Contains(t, types, "payment_link.created.v1")
}

func TestRoute_PendingPaymentPreemptsEveryMessage(t *testing.T) {
	h := newRouterHarness(t)
	bookImmediatePlan(t, h)

	h.clock.Advance(10 * time.Minute)
	reply := h.send(t, "actually cancel my appointment")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "We're still waiting on your $50 payment.")
	assert.Contains(t, reply.Text, "20 minutes")
	assert.Equal(t, 3, h.repo.CountByStatus(testOrgID, bookings.StatusProvisional))
	assert.Equal(t, 0, h.repo.CountByStatus(testOrgID, bookings.StatusCancelled))
}

func TestRoute_ExpiredPaymentReleasesWholeBatch(t *testing.T) {
	h := newRouterHarness(t)
	bookImmediatePlan(t, h)

	h.clock.Advance(31 * time.Minute)
	reply := h.send(t, "hi, did it go through?")
	assert.Equal(t, OutcomeRejected, reply.Outcome)
	assert.True(t, reply.Cleared)
	assert.Contains(t, reply.Text, "payment link expired")
	assert.Equal(t, 0, h.repo.CountByStatus(testOrgID, bookings.StatusProvisional))
	assert.Equal(t, 0, h.repo.CountByStatus(testOrgID, bookings.StatusConfirmed))
	assert.Nil(t, h.context(t))
	assert.Contains(t, h.eventTypes(), "bookings.rolled_back.v1")
}

func TestResolvePayment_PaidLinkConfirmsAndClosesContext(t *testing.T) {
	h := newRouterHarness(t)
	bookImmediatePlan(t, h)
	linkID := h.context(t).Payment.LinkID

	ctx := context.Background()
	link, err := h.gate.Resolve(ctx, linkID, payments.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, 3, h.repo.CountByStatus(testOrgID, bookings.StatusConfirmed))

	reply, err := h.router.ResolvePayment(ctx, *link)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "Payment received")
	assert.Contains(t, reply.Text, "Session 3: Monday, May 13 at 2:00 PM")
	assert.Nil(t, h.context(t))
	assert.Contains(t, h.eventTypes(), "bookings.confirmed.v1")

	// A redelivered job finds no context and stays silent.
	again, err := h.router.ResolvePayment(ctx, *link)
	require.NoError(t, err)
	assert.Empty(t, again.Text)
}

func TestResolvePayment_StaleLinkLeavesContextAlone(t *testing.T) {
	h := newRouterHarness(t)
	bookImmediatePlan(t, h)

	stale := payments.Link{
		ID:             "link-old",
		OrgID:          testOrgID,
		ConversationID: testConvID,
		Status:         payments.StatusFailed,
		BookingIDs:     []string{"gone"},
	}
	reply, err := h.router.ResolvePayment(context.Background(), stale)
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	require.NotNil(t, h.context(t))
	assert.Contains(t, h.eventTypes(), "bookings.rolled_back.v1")
}

func TestRoute_StrictLinkFailureReleasesBatch(t *testing.T) {
	h := newRouterHarness(t, withBrokenCheckout())

	reply := bookImmediatePlan(t, h)
	assert.Equal(t, OutcomeFailed, reply.Outcome)
	assert.Equal(t, msgLinkUnavailable, reply.Text)
	assert.Equal(t, 0, h.repo.CountByStatus(testOrgID, bookings.StatusProvisional))
	assert.Equal(t, 0, h.repo.CountByStatus(testOrgID, bookings.StatusConfirmed))
	assert.Nil(t, h.context(t))
}

func TestRoute_LenientLinkFailureConfirmsUnpaid(t *testing.T) {
	h := newRouterHarness(t, withBrokenCheckout(), withLenientPayments())

	reply := bookImmediatePlan(t, h)
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Contains(t, reply.Text, "collect payment at your visit")
	assert.Equal(t, 3, h.repo.CountByStatus(testOrgID, bookings.StatusConfirmed))
	assert.Equal(t, 0, h.repo.CountByStatus(testOrgID, bookings.StatusProvisional))
}

func TestRoute_DecliningPlanBooksNothing(t *testing.T) {
	h := newRouterHarness(t)
	h.send(t, "I want to book microneedling")
	h.send(t, "March 4 at 2pm")

	reply := h.send(t, "maybe")
	assert.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, msgConfirmSuffix)

	reply = h.send(t, "no")
	assert.Equal(t, OutcomeRejected, reply.Outcome)
	assert.Equal(t, msgPlanDeclined, reply.Text)
	assert.Equal(t, 0, h.repo.CountByStatus(testOrgID, bookings.StatusProvisional))
}

func TestRoute_SequentialPlanBlockedWhileSessionOpen(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("laser-1", "laser-hair-removal", "Laser Hair Removal", time.Date(2029, 12, 1, 10, 0, 0, 0, time.UTC), bookings.StatusCompleted)
	h.seedBooking("laser-2", "laser-hair-removal", "Laser Hair Removal", time.Date(2030, 1, 20, 10, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "I'd like to book laser hair removal")
	assert.Equal(t, OutcomeRejected, reply.Outcome)
	assert.Contains(t, reply.Text, "You've booked 2 of your 5 Laser Hair Removal sessions and completed 1.")
	assert.Contains(t, reply.Text, "Session 3 can be booked once session 2 is complete.")
	assert.Nil(t, h.context(t))
}

func TestRoute_SequentialPlanBooksNextSession(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("laser-1", "laser-hair-removal", "Laser Hair Removal", time.Date(2029, 12, 1, 10, 0, 0, 0, time.UTC), bookings.StatusCompleted)

	reply := h.send(t, "book laser")
	require.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "session 2 of 5")

	reply = h.send(t, "March 4 at 2pm")
	assert.Contains(t, reply.Text, "Session 2: Monday, March 4 at 2:00 PM")
	assert.NotContains(t, reply.Text, "Session 3")

	reply = h.send(t, "yes")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Equal(t, 1, h.repo.CountByStatus(testOrgID, bookings.StatusConfirmed))
}

func TestRoute_FlexiblePlanCollectsEachDate(t *testing.T) {
	h := newRouterHarness(t)

	reply := h.send(t, "I want to book a chemical peel")
	require.Equal(t, OutcomeContinued, reply.Outcome)
	assert.Contains(t, reply.Text, "you have 4 sessions left to book")

	reply = h.send(t, "two")
	assert.Contains(t, reply.Text, "session 1 of 4")

	reply = h.send(t, "March 4 at 2pm")
	assert.Contains(t, reply.Text, "session 2 of 4")

	reply = h.send(t, "March 10 at 2pm")
	assert.Contains(t, reply.Text, "Session 2 needs to be at least 2 weeks after session 1")

	reply = h.send(t, "March 25 at 2pm")
	assert.Contains(t, reply.Text, "Session 1: Monday, March 4 at 2:00 PM")
	assert.Contains(t, reply.Text, "Session 2: Monday, March 25 at 2:00 PM")

	reply = h.send(t, "sounds good")
	assert.Equal(t, OutcomeCompleted, reply.Outcome)
	assert.Equal(t, 2, h.repo.CountByStatus(testOrgID, bookings.StatusConfirmed))
}

type failingSaveStore struct {
	*MemoryContextStore
	deleted []string
}

func (s *failingSaveStore) Save(ctx context.Context, c *Context) error {
	return errors.New("redis unavailable")
}

func (s *failingSaveStore) Delete(ctx context.Context, conversationID string) error {
	s.deleted = append(s.deleted, conversationID)
	return s.MemoryContextStore.Delete(ctx, conversationID)
}

func TestRoute_SaveFailureFailsTurn(t *testing.T) {
	store := &failingSaveStore{MemoryContextStore: NewMemoryContextStore()}
	h := newRouterHarness(t, withContextStore(store))
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.seedBooking("bk-2", "botox", "Botox", time.Date(2030, 1, 11, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	reply := h.send(t, "cancel my appointment")
	assert.Equal(t, OutcomeFailed, reply.Outcome)
	assert.Equal(t, msgApology, reply.Text)
	assert.Equal(t, []string{testConvID}, store.deleted)
}

func TestRoute_ContextsAreIsolatedPerConversation(t *testing.T) {
	h := newRouterHarness(t)
	h.seedBooking("bk-1", "botox", "Botox", time.Date(2030, 1, 10, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)
	h.seedBooking("bk-2", "botox", "Botox", time.Date(2030, 1, 11, 14, 0, 0, 0, time.UTC), bookings.StatusConfirmed)

	h.send(t, "cancel my appointment")
	other := h.router.Route(context.Background(), Turn{
		ConversationID: "conv-2",
		OrgID:          testOrgID,
		ContactID:      h.contact.ID,
		PhoneNumber:    testPhone,
		Message:        "book botox",
	})
	assert.Equal(t, OutcomeCompleted, other.Outcome)

	c := h.context(t)
	require.NotNil(t, c)
	assert.Equal(t, IntentCancel, c.Intent)
	assert.True(t, strings.HasPrefix(h.send(t, "2").Text, "Sorry to hear"))
}
