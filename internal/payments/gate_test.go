package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
)

type stubCatalog struct {
	services map[string]clinic.Service
	policy   clinic.Policy
	err      error
}

func (s *stubCatalog) Service(ctx context.Context, orgID, serviceID string) (clinic.Service, error) {
	if s.err != nil {
		return clinic.Service{}, s.err
	}
	svc, ok := s.services[serviceID]
	if !ok {
		return clinic.Service{}, clinic.ErrServiceNotFound
	}
	return svc, nil
}

func (s *stubCatalog) Policy(ctx context.Context, orgID string) (clinic.Policy, error) {
	if s.err != nil {
		return clinic.Policy{}, s.err
	}
	return s.policy, nil
}

type stubCheckout struct {
	err    error
	params []CheckoutParams
}

func (s *stubCheckout) CreatePaymentLink(ctx context.Context, params CheckoutParams) (*CheckoutResponse, error) {
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	return &CheckoutResponse{
		URL:        "https://pay.example.com/" + params.LinkID,
		ProviderID: "ref-" + params.LinkID,
		Provider:   ProviderFake,
	}, nil
}

type stubPoller struct {
	status Status
	err    error
}

func (s *stubPoller) FetchStatus(ctx context.Context, link *Link) (Status, error) {
	return s.status, s.err
}

type recordingHook struct {
	mu    sync.Mutex
	links []Link
}

func (h *recordingHook) LinkSettled(ctx context.Context, link Link) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.links = append(h.links, link)
	return nil
}

type gateFixture struct {
	gate     *Gate
	links    *MemoryLinkStore
	bookings *bookings.MemoryRepository
	checkout *stubCheckout
	catalog  *stubCatalog
	hook     *recordingHook
	now      time.Time
}

func newGateFixture(t *testing.T, opts ...GateOption) *gateFixture {
	t.Helper()
	f := &gateFixture{
		links:    NewMemoryLinkStore(),
		bookings: bookings.NewMemoryRepository(),
		checkout: &stubCheckout{},
		catalog: &stubCatalog{
			services: map[string]clinic.Service{
				"microneedling": {ID: "microneedling", Name: "Microneedling", CostCents: 35000, DepositCents: 5000, RequiresPayment: true},
				"hydrafacial":   {ID: "hydrafacial", Name: "HydraFacial", CostCents: 20000, RequiresPayment: true},
				"consultation":  {ID: "consultation", Name: "Consultation"},
			},
			policy: clinic.Policy{StrictPaymentEnforcement: true, PaymentLinkTTL: 30 * time.Minute},
		},
		hook: &recordingHook{},
		now:  time.Date(2030, 3, 1, 15, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	all := append([]GateOption{WithClock(clock), WithSettlementHook(f.hook)}, opts...)
	f.gate = NewGate(f.links, f.checkout, f.bookings, f.catalog, nil, all...)
	return f
}

func (f *gateFixture) provisional(t *testing.T, n int) []string {
	t.Helper()
	start := time.Date(2030, 3, 10, 15, 0, 0, 0, time.UTC)
	drafts := make([]bookings.Draft, n)
	for i := range drafts {
		s := start.AddDate(0, 0, 28*i)
		drafts[i] = bookings.Draft{
			OrgID: "org-1", ContactID: "contact-1", ServiceID: "microneedling", ServiceName: "Microneedling",
			StartTime: s, EndTime: s.Add(time.Hour), SessionNumber: i + 1, TotalSessions: n,
		}
	}
	created, err := f.bookings.CreateBatch(context.Background(), bookings.StatusProvisional, drafts)
	require.NoError(t, err)
	return bookings.IDs(created)
}

func (f *gateFixture) request(ids []string) LinkRequest {
	return LinkRequest{
		OrgID:          "org-1",
		ConversationID: "sms:org-1:+15550001111",
		ContactID:      "contact-1",
		PhoneNumber:    "+15550001111",
		BookingIDs:     ids,
		Description:    "your 3 Microneedling sessions",
		AmountCents:    5000,
	}
}

func TestGate_RequiresPayment(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	deposit, err := f.gate.RequiresPayment(ctx, "org-1", "microneedling")
	require.NoError(t, err)
	assert.Equal(t, Requirement{Required: true, AmountCents: 5000, DepositCents: 5000}, deposit)

	full, err := f.gate.RequiresPayment(ctx, "org-1", "hydrafacial")
	require.NoError(t, err)
	assert.Equal(t, Requirement{Required: true, AmountCents: 20000}, full)

	free, err := f.gate.RequiresPayment(ctx, "org-1", "consultation")
	require.NoError(t, err)
	assert.False(t, free.Required)

	_, err = f.gate.RequiresPayment(ctx, "org-1", "unknown")
	assert.ErrorIs(t, err, clinic.ErrServiceNotFound)
}

func TestGate_CreateAndSendLink(t *testing.T) {
	f := newGateFixture(t)
	ids := f.provisional(t, 3)

	link, text, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, link.Status)
	assert.Equal(t, ids, link.BookingIDs)
	assert.Equal(t, f.now.Add(30*time.Minute), link.ExpiresAt)
	assert.Equal(t, "https://pay.example.com/"+link.ID, link.URL)
	assert.Contains(t, text, link.URL)
	assert.Contains(t, text, "$50")
	assert.Contains(t, text, "30 minutes")

	stored, err := f.links.Get(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, "ref-"+link.ID, stored.ProviderRef)
	assert.Equal(t, ProviderFake, stored.Provider)

	require.Len(t, f.checkout.params, 1)
	assert.Equal(t, link.ID, f.checkout.params[0].LinkID)
	assert.Equal(t, link.ExpiresAt, f.checkout.params[0].ExpiresAt)
}

func TestGate_CreateAndSendLinkCheckoutFailure(t *testing.T) {
	f := newGateFixture(t)
	f.checkout.err = errors.New("stripe down")
	ids := f.provisional(t, 1)

	_, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.Error(t, err)

	unsettled, err := f.links.ListUnsettled(context.Background(), f.now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled, "failed links must not be picked up by the sweeper")
}

type attachFailingStore struct {
	*MemoryLinkStore
}

func (s attachFailingStore) AttachCheckout(ctx context.Context, id, provider, url, providerRef string) error {
	return errors.New("db unavailable")
}

func TestGate_CreateAndSendLinkAttachFailure(t *testing.T) {
	f := newGateFixture(t)
	gate := NewGate(attachFailingStore{f.links}, f.checkout, f.bookings, f.catalog, nil,
		WithClock(func() time.Time { return f.now }))
	ids := f.provisional(t, 1)
	ctx := context.Background()

	_, _, err := gate.CreateAndSendLink(ctx, f.request(ids))
	require.Error(t, err)

	require.Len(t, f.checkout.params, 1)
	stored, err := f.links.Get(ctx, f.checkout.params[0].LinkID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)

	f.now = f.now.Add(time.Hour)
	unsettled, err := f.links.ListUnsettled(ctx, f.now, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestGate_CreateAndSendLinkValidation(t *testing.T) {
	f := newGateFixture(t)
	_, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(nil))
	assert.Error(t, err)

	req := f.request([]string{"b-1"})
	req.AmountCents = 0
	_, _, err = f.gate.CreateAndSendLink(context.Background(), req)
	assert.Error(t, err)
}

func TestGate_ApplyLinkFailureStrictReleases(t *testing.T) {
	f := newGateFixture(t)
	ids := f.provisional(t, 3)

	decision, err := f.gate.ApplyLinkFailure(context.Background(), f.request(ids), errors.New("stripe down"))
	require.NoError(t, err)
	assert.Equal(t, FallbackReleased, decision)
	assert.Equal(t, 0, f.bookings.CountByStatus("org-1", bookings.StatusProvisional))
	assert.Equal(t, 0, f.bookings.CountByStatus("org-1", bookings.StatusConfirmed))
}

func TestGate_ApplyLinkFailureLenientConfirms(t *testing.T) {
	f := newGateFixture(t)
	f.catalog.policy.StrictPaymentEnforcement = false
	ids := f.provisional(t, 3)

	decision, err := f.gate.ApplyLinkFailure(context.Background(), f.request(ids), errors.New("stripe down"))
	require.NoError(t, err)
	assert.Equal(t, FallbackConfirmedUnpaid, decision)
	assert.Equal(t, 3, f.bookings.CountByStatus("org-1", bookings.StatusConfirmed))
}

func TestGate_ApplyLinkFailureVelocityAlwaysReleases(t *testing.T) {
	f := newGateFixture(t)
	f.catalog.policy.StrictPaymentEnforcement = false
	ids := f.provisional(t, 1)

	decision, err := f.gate.ApplyLinkFailure(context.Background(), f.request(ids), fmt.Errorf("%w: too many", ErrVelocityExceeded))
	require.NoError(t, err)
	assert.Equal(t, FallbackReleased, decision)
	assert.Equal(t, 0, f.bookings.CountByStatus("org-1", bookings.StatusConfirmed))
}

func TestGate_CheckStatusPendingThenLazyExpiry(t *testing.T) {
	f := newGateFixture(t)
	ids := f.provisional(t, 2)
	link, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	status, err := f.gate.CheckStatus(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	f.now = f.now.Add(31 * time.Minute)
	status, err = f.gate.CheckStatus(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status)

	// Checking status never touches bookings.
	assert.Equal(t, 2, f.bookings.CountByStatus("org-1", bookings.StatusProvisional))
}

func TestGate_CheckStatusPollsProvider(t *testing.T) {
	poller := &stubPoller{status: StatusPaid}
	f := newGateFixture(t, WithStatusPoller(poller))
	ids := f.provisional(t, 1)
	link, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	// Paid at the provider wins over a TTL that elapsed before we looked.
	f.now = f.now.Add(time.Hour)
	status, err := f.gate.CheckStatus(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, status)
}

func TestGate_CheckStatusPollErrorFallsBack(t *testing.T) {
	poller := &stubPoller{err: errors.New("timeout")}
	f := newGateFixture(t, WithStatusPoller(poller))
	ids := f.provisional(t, 1)
	link, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	status, err := f.gate.CheckStatus(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
}

func TestGate_CheckStatusUnknownLink(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.gate.CheckStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestGate_SettlePaidConfirmsAll(t *testing.T) {
	f := newGateFixture(t)
	ids := f.provisional(t, 3)
	link, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	_, err = f.links.Transition(context.Background(), link.ID, StatusPaid)
	require.NoError(t, err)

	require.NoError(t, f.gate.Settle(context.Background(), link.ID))
	assert.Equal(t, 3, f.bookings.CountByStatus("org-1", bookings.StatusConfirmed))
	assert.Equal(t, 0, f.bookings.CountByStatus("org-1", bookings.StatusProvisional))

	// Idempotent.
	require.NoError(t, f.gate.Settle(context.Background(), link.ID))
	_, settledNow, err := f.gate.SettleOnce(context.Background(), link.ID)
	require.NoError(t, err)
	assert.False(t, settledNow)
}

func TestGate_SettleExpiredReleasesAll(t *testing.T) {
	f := newGateFixture(t)
	ids := f.provisional(t, 3)
	link, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	status, err := f.gate.CheckStatus(context.Background(), link.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, status)

	require.NoError(t, f.gate.Settle(context.Background(), link.ID))
	for _, id := range ids {
		_, ok := f.bookings.Get(id)
		assert.False(t, ok, "booking %s should be deleted", id)
	}
}

func TestGate_SettlePendingRefused(t *testing.T) {
	f := newGateFixture(t)
	ids := f.provisional(t, 1)
	link, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	err = f.gate.Settle(context.Background(), link.ID)
	assert.ErrorIs(t, err, ErrLinkPending)
	assert.Equal(t, 1, f.bookings.CountByStatus("org-1", bookings.StatusProvisional))
}

func TestGate_ResolveFiresHookOnce(t *testing.T) {
	f := newGateFixture(t)
	ids := f.provisional(t, 2)
	link, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(ids))
	require.NoError(t, err)

	resolved, err := f.gate.Resolve(context.Background(), link.ID, StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, resolved.Status)

	// A late expiry event cannot overturn the paid status.
	again, err := f.gate.Resolve(context.Background(), link.ID, StatusExpired)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, again.Status)

	require.Len(t, f.hook.links, 1)
	assert.Equal(t, link.ID, f.hook.links[0].ID)
	assert.Equal(t, 2, f.bookings.CountByStatus("org-1", bookings.StatusConfirmed))
}

func TestGate_ResolveRejectsPending(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.gate.Resolve(context.Background(), "any", StatusPending)
	assert.Error(t, err)
}

func TestGate_VelocityBlocksLinkCreation(t *testing.T) {
	redisClient, _ := setupTestRedis(t)
	velocity := NewVelocityChecker(redisClient, VelocityLimit{Max: 1, Window: 24 * time.Hour}, nil)
	f := newGateFixture(t, WithVelocityChecker(velocity))

	_, _, err := f.gate.CreateAndSendLink(context.Background(), f.request(f.provisional(t, 1)))
	require.NoError(t, err)

	_, _, err = f.gate.CreateAndSendLink(context.Background(), f.request(f.provisional(t, 1)))
	assert.ErrorIs(t, err, ErrVelocityExceeded)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "$50", FormatCents(5000))
	assert.Equal(t, "$49.99", FormatCents(4999))
	assert.Equal(t, "$0.05", FormatCents(5))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "30 minutes", FormatDuration(30*time.Minute))
	assert.Equal(t, "1 minute", FormatDuration(20*time.Second))
	assert.Equal(t, "3 hours", FormatDuration(3*time.Hour))
}
