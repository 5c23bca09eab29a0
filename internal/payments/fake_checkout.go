package payments

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// FakeCheckoutService hands out links to the built-in fake checkout page,
// where a tester can pay or abandon without a real processor. Only enabled
// when ALLOW_FAKE_PAYMENTS is set outside production.
type FakeCheckoutService struct {
	base    *url.URL
	baseErr error
	logger  *logging.Logger
}

// NewFakeCheckoutService never fails; a bad base URL is reported on the
// first CreatePaymentLink so the rest of the app can still start.
func NewFakeCheckoutService(publicBaseURL string, logger *logging.Logger) *FakeCheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	base, err := parsePublicBase(publicBaseURL)
	return &FakeCheckoutService{base: base, baseErr: err, logger: logger}
}

func parsePublicBase(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("payments: fake checkout requires PUBLIC_BASE_URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if scheme := strings.ToLower(u.Scheme); (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, errors.New("payments: fake checkout PUBLIC_BASE_URL must be an absolute http(s) URL")
	}
	return u, nil
}

func (s *FakeCheckoutService) CreatePaymentLink(_ context.Context, params CheckoutParams) (*CheckoutResponse, error) {
	if strings.TrimSpace(params.LinkID) == "" {
		return nil, errors.New("payments: fake checkout requires link id")
	}
	if s.baseErr != nil {
		return nil, s.baseErr
	}

	s.logger.Debug("fake checkout link created", "org_id", params.OrgID, "link_id", params.LinkID, "amount_cents", params.AmountCents)
	return &CheckoutResponse{
		URL:        s.base.JoinPath("payments", "fake", params.LinkID).String(),
		ProviderID: fakeProviderRef(params.LinkID),
		Provider:   ProviderFake,
	}, nil
}

// FetchStatus always reports pending. Fake links only move through the
// fake checkout page.
func (s *FakeCheckoutService) FetchStatus(context.Context, *Link) (Status, error) {
	return StatusPending, nil
}

func fakeProviderRef(linkID string) string {
	return "fake:" + linkID
}
