package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

var messagingTracer = otel.Tracer("booking-engine/messaging")

const (
	twilioAPIBase     = "https://api.twilio.com"
	twilioSendRetries = 3
	twilioBodyLimit   = 4096
)

var (
	errTwilioCredentials = errors.New("messaging: twilio credentials missing")
	errMissingRecipient  = errors.New("messaging: to required")
	errMissingSender     = errors.New("messaging: from required")
	errEmptyBody         = errors.New("messaging: body required")
)

// TwilioSender sends SMS through the Twilio Messages REST endpoint.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.MessagingMetrics
	logger     *logging.Logger
	backoff    func(attempt int) time.Duration
}

type TwilioOption func(*TwilioSender)

// WithTwilioBaseURL replaces the API host.
func WithTwilioBaseURL(base string) TwilioOption {
	return func(s *TwilioSender) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			s.baseURL = base
		}
	}
}

func WithTwilioHTTPClient(c *http.Client) TwilioOption {
	return func(s *TwilioSender) {
		if c != nil {
			s.httpClient = c
		}
	}
}

func WithTwilioMetrics(m *metrics.MessagingMetrics) TwilioOption {
	return func(s *TwilioSender) { s.metrics = m }
}

func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger, opts ...TwilioOption) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	s := &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		backoff:    jitteredBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// jitteredBackoff waits 200-500ms between attempts.
func jitteredBackoff(int) time.Duration {
	return 200*time.Millisecond + time.Duration(rand.Int63n(int64(300*time.Millisecond)))
}

var _ Sender = (*TwilioSender)(nil)

func (s *TwilioSender) validate(to, body string) error {
	switch {
	case s.accountSID == "" || s.authToken == "":
		return errTwilioCredentials
	case to == "":
		return errMissingRecipient
	case s.from == "":
		return errMissingSender
	case strings.TrimSpace(body) == "":
		return errEmptyBody
	}
	return nil
}

// Send delivers one SMS and returns its message SID. Network errors, 5xx
// and 429 responses are retried; other 4xx responses fail at once.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	if err := s.validate(to, body); err != nil {
		return "", err
	}

	ctx, span := messagingTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("to", to))

	endpoint := s.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(s.accountSID) + "/Messages.json"
	form := url.Values{"To": {to}, "From": {s.from}, "Body": {body}}.Encode()

	var err error
	for attempt := 1; ; attempt++ {
		var sid string
		var retry bool
		if sid, retry, err = s.post(ctx, endpoint, form); err == nil {
			s.metrics.ObserveOutbound("twilio", "sent")
			s.logger.Info("twilio sms sent", "to", to, "message_sid", sid, "attempt", attempt)
			return sid, nil
		}
		if !retry || attempt == twilioSendRetries {
			break
		}
		timer := time.NewTimer(s.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		case <-timer.C:
			continue
		}
		break
	}

	s.metrics.ObserveOutbound("twilio", "failed")
	span.RecordError(err)
	return "", err
}

// post makes one request. retry reports whether a later attempt could succeed.
func (s *TwilioSender) post(ctx context.Context, endpoint, form string) (sid string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
	if err != nil {
		return "", false, err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, twilioBodyLimit))

	if resp.StatusCode/100 == 2 {
		var created struct {
			SID string `json:"sid"`
		}
		_ = json.Unmarshal(raw, &created)
		return created.SID, false, nil
	}
	retry = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return "", retry, fmt.Errorf("messaging: twilio send failed: %s", describeTwilioError(resp.StatusCode, raw))
}

func describeTwilioError(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	switch {
	case text == "":
		return fmt.Sprintf("status %d", status)
	case json.Unmarshal(body, &apiErr) != nil || apiErr.Message == "":
		return fmt.Sprintf("status %d: %s", status, text)
	case apiErr.Code != 0:
		return fmt.Sprintf("status %d code %d: %s", status, apiErr.Code, apiErr.Message)
	default:
		return fmt.Sprintf("status %d: %s", status, apiErr.Message)
	}
}
