package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// DefaultFromName is the display name when neither the message nor the
// sender configuration names one.
const DefaultFromName = "MedSpa Bookings"

const (
	CategoryConfirmation = "booking_confirmation"
	CategoryCancellation = "booking_cancellation"
)

var errNoRecipient = errors.New("notify: email has no recipient")

// EmailSender delivers one email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one transactional email. FromName overrides the sender's
// configured display name, so each clinic can sign its own mail. Ref ties
// the message back to the event that caused it.
type EmailMessage struct {
	To       string
	ToName   string
	FromName string
	Subject  string
	Text     string
	HTML     string
	Category string
	Ref      string
}

func (m EmailMessage) fromName(fallback string) string {
	if m.FromName != "" {
		return m.FromName
	}
	if fallback != "" {
		return fallback
	}
	return DefaultFromName
}

// LogEmailSender logs messages instead of delivering them. Used when no
// email provider is configured.
type LogEmailSender struct {
	logger *logging.Logger
}

func NewLogEmailSender(logger *logging.Logger) *LogEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return errNoRecipient
	}
	s.logger.Info("email not delivered; no provider configured",
		"category", msg.Category, "ref", msg.Ref, "subject", msg.Subject)
	return nil
}

// RecordingEmailSender keeps every message in memory.
type RecordingEmailSender struct {
	mu   sync.Mutex
	sent []EmailMessage
	Err  error
}

func (r *RecordingEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the messages sent so far.
func (r *RecordingEmailSender) Sent() []EmailMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EmailMessage(nil), r.sent...)
}
