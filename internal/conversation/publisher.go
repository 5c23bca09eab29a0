package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// Publisher puts jobs on the queue grouped by conversation id, so the jobs
// of one conversation are processed one at a time and in order.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

var _ payments.SettlementHook = (*Publisher)(nil)

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueTurn publishes one inbound message. Status is tracked under jobID
// unless WithoutJobTracking is given.
func (p *Publisher) EnqueueTurn(ctx context.Context, jobID string, turn Turn, opts ...PublishOption) error {
	if turn.ConversationID == "" {
		return errors.New("conversation: turn requires a conversation id")
	}
	payload := queuePayload{
		ID:          jobID,
		Kind:        jobTypeTurn,
		Turn:        &turn,
		TrackStatus: true,
	}
	for _, opt := range opts {
		opt(&payload)
	}
	return p.enqueue(ctx, payload)
}

// EnqueuePayment publishes a link settled outside a turn.
func (p *Publisher) EnqueuePayment(ctx context.Context, link payments.Link) error {
	return p.enqueue(ctx, queuePayload{
		ID:       fmt.Sprintf("%s:%s", link.ID, link.Status),
		Kind:     jobTypePayment,
		Link:     &link,
		ReplySMS: true,
	})
}

// LinkSettled hands the settlement to the conversation's queue group.
func (p *Publisher) LinkSettled(ctx context.Context, link payments.Link) error {
	return p.EnqueuePayment(ctx, link)
}

func (p *Publisher) enqueue(ctx context.Context, payload queuePayload) error {
	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}
	group := payload.conversationID()
	if err := p.queue.Send(ctx, body, group, payload.ID); err != nil {
		return fmt.Errorf("conversation: enqueue %s job %s: %w", payload.Kind, payload.ID, err)
	}
	p.logger.Debug("conversation job enqueued", "job_id", payload.ID, "kind", payload.Kind, "conversation_id", group)
	return nil
}
