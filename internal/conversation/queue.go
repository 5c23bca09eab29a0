package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-booking-engine/internal/payments"
)

// queueClient moves job payloads between the API and the workers. groupID
// orders messages that share it; dedupID collapses redelivered sends.
type queueClient interface {
	Send(ctx context.Context, body, groupID, dedupID string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Queue is the job transport seen by callers outside the package.
// MemoryQueue and SQSQueue implement it.
type Queue = queueClient

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	// Receives counts deliveries including this one.
	Receives int
}

type jobType string

const (
	jobTypeTurn    jobType = "turn"
	jobTypePayment jobType = "payment_settled"
)

type queuePayload struct {
	ID          string         `json:"id"`
	Kind        jobType        `json:"kind"`
	Turn        *Turn          `json:"turn,omitempty"`
	Link        *payments.Link `json:"link,omitempty"`
	TrackStatus bool           `json:"track_status"`
	ReplySMS    bool           `json:"reply_sms"`
}

// conversationID is the ordering key of the job.
func (p queuePayload) conversationID() string {
	switch {
	case p.Turn != nil:
		return p.Turn.ConversationID
	case p.Link != nil:
		return p.Link.ConversationID
	default:
		return p.ID
	}
}

// PublishOption adjusts a job before it is queued.
type PublishOption func(*queuePayload)

// WithoutJobTracking skips job status records. Webhook-driven turns use it
// because nobody polls for their result.
func WithoutJobTracking() PublishOption {
	return func(p *queuePayload) { p.TrackStatus = false }
}

// WithSMSReply texts the reply to the turn's phone number once processed.
func WithSMSReply() PublishOption {
	return func(p *queuePayload) { p.ReplySMS = true }
}

// encodePayload assigns a job id when missing and serialises the job.
func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: encode job %s: %w", payload.ID, err)
	}
	return payload, string(body), nil
}

var errUnknownJobKind = errors.New("conversation: unknown job kind")

// decodePayload rejects bodies whose kind and content disagree.
func decodePayload(body string) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return queuePayload{}, fmt.Errorf("conversation: decode job: %w", err)
	}
	var missing bool
	switch payload.Kind {
	case jobTypeTurn:
		missing = payload.Turn == nil
	case jobTypePayment:
		missing = payload.Link == nil
	default:
		return queuePayload{}, fmt.Errorf("%w %q", errUnknownJobKind, payload.Kind)
	}
	if missing {
		return queuePayload{}, fmt.Errorf("conversation: %s job %s has no body", payload.Kind, payload.ID)
	}
	return payload, nil
}
