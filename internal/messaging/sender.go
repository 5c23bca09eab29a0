// Package messaging delivers and receives SMS for the booking engine.
package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// Sender delivers a text message to a phone number and returns the
// provider's message id.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// LogSender logs outbound messages instead of delivering them. Used when no
// SMS provider is configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, body string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", errors.New("messaging: to required")
	}
	id := "log-" + uuid.NewString()
	s.logger.Info("sms not delivered (no provider configured)", "to", to, "message_id", id, "body_len", len(body))
	return id, nil
}

// OutboundMessage is a message captured by RecordingSender.
type OutboundMessage struct {
	To   string
	Body string
}

// RecordingSender keeps sent messages in memory.
type RecordingSender struct {
	mu   sync.Mutex
	sent []OutboundMessage
	Err  error
}

func (s *RecordingSender) Send(ctx context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.sent = append(s.sent, OutboundMessage{To: to, Body: body})
	return "rec-" + uuid.NewString(), nil
}

// Sent returns a copy of the messages sent so far.
func (s *RecordingSender) Sent() []OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboundMessage(nil), s.sent...)
}
