package conversation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// TurnProcessor is the work a job performs.
type TurnProcessor interface {
	Route(ctx context.Context, turn Turn) Reply
	ResolvePayment(ctx context.Context, link payments.Link) (Reply, error)
}

// ReplySender texts a reply to the customer.
type ReplySender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Worker consumes conversation jobs from the queue. Jobs are spread over
// lanes by conversation ID; a lane runs its jobs one at a time, so turns of
// one conversation never run concurrently while different conversations do.
type Worker struct {
	processor TurnProcessor
	queue     queueClient
	jobs      JobUpdater
	sender    ReplySender
	logger    *logging.Logger

	cfg   workerConfig
	lanes []chan queueMessage
	wg    sync.WaitGroup
}

type workerConfig struct {
	pollers          int
	lanes            int
	receiveWaitSecs  int
	receiveBatchSize int
	jobTimeout       time.Duration
}

const (
	defaultPollerCount = 1
	defaultLaneCount   = 8
	defaultWaitSeconds = 2
	defaultBatchSize   = 5
	defaultJobTimeout  = 30 * time.Second
	deleteTimeout      = 5 * time.Second
	replyTimeout       = 10 * time.Second
	maxPollBackoff     = 5 * time.Second

	maxWaitSeconds      = sqsMaxWait
	maxReceiveBatchSize = sqsMaxBatch
)

type WorkerOption func(*workerConfig)

// WithPollerCount sets how many goroutines receive from the queue.
func WithPollerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.pollers = count
		}
	}
}

// WithLaneCount bounds how many conversations are processed at once.
func WithLaneCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.lanes = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS limit.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds >= 0 {
			cfg.receiveWaitSecs = min(seconds, maxWaitSeconds)
		}
	}
}

// WithReceiveBatchSize sets messages per receive, capped at the SQS limit.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size > 0 {
			cfg.receiveBatchSize = min(size, maxReceiveBatchSize)
		}
	}
}

func WithJobTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.jobTimeout = d
		}
	}
}

// NewWorker wires a worker. sender may be nil when replies are only read
// through the job store.
func NewWorker(processor TurnProcessor, queue queueClient, jobs JobUpdater, sender ReplySender, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if jobs == nil {
		panic("conversation: job store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		pollers:          defaultPollerCount,
		lanes:            defaultLaneCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		jobTimeout:       defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor: processor,
		queue:     queue,
		jobs:      jobs,
		sender:    sender,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches the lanes and pollers until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.lanes = make([]chan queueMessage, w.cfg.lanes)
	var lanes sync.WaitGroup
	for i := range w.lanes {
		w.lanes[i] = make(chan queueMessage, w.cfg.receiveBatchSize)
		lanes.Add(1)
		go func(lane chan queueMessage) {
			defer lanes.Done()
			for msg := range lane {
				w.handleMessage(ctx, msg)
			}
		}(w.lanes[i])
	}

	var pollers sync.WaitGroup
	for i := 0; i < w.cfg.pollers; i++ {
		pollers.Add(1)
		go func(id int) {
			defer pollers.Done()
			w.run(ctx, id)
		}(i + 1)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		pollers.Wait()
		for _, lane := range w.lanes {
			close(lane)
		}
		lanes.Wait()
	}()
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// run receives batches and hands each message to its conversation's lane.
// Receive failures back off from one second up to maxPollBackoff.
func (w *Worker) run(ctx context.Context, pollerID int) {
	w.logger.Debug("conversation worker started", "poller_id", pollerID)
	defer w.logger.Debug("conversation worker stopping", "poller_id", pollerID)

	backoff := time.Second
	for ctx.Err() == nil {
		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "poller_id", pollerID, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(2*backoff, maxPollBackoff)
			continue
		}
		backoff = time.Second
		for _, msg := range messages {
			w.lanes[w.laneFor(msg.Body)] <- msg
		}
	}
}

// laneFor hashes the job's conversation ID. Undecodable bodies go to lane 0
// where handleMessage discards them.
func (w *Worker) laneFor(body string) int {
	payload, err := decodePayload(body)
	if err != nil {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(payload.conversationID()))
	return int(h.Sum32() % uint32(len(w.lanes)))
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	if err := w.Process(ctx, msg.Body); err != nil {
		// Left on the queue; redelivery retries it.
		w.logger.Error("conversation job will be retried", "error", err, "msg_id", msg.ID, "receives", msg.Receives)
		return
	}
	w.deleteMessage(msg.ReceiptHandle)
}

// Process runs one job body synchronously. A returned error means the job
// should be redelivered; malformed bodies are dropped without error.
func (w *Worker) Process(ctx context.Context, body string) error {
	payload, err := decodePayload(body)
	if err != nil {
		w.logger.Error("failed to decode conversation job", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.jobTimeout)
	defer cancel()

	w.logger.Info("worker processing job",
		"job_id", payload.ID,
		"kind", payload.Kind,
		"conversation_id", payload.conversationID(),
	)

	switch payload.Kind {
	case jobTypeTurn:
		w.processTurn(ctx, payload)
		return nil
	case jobTypePayment:
		return w.processPayment(ctx, payload)
	default:
		return nil
	}
}

func (w *Worker) processTurn(ctx context.Context, payload queuePayload) {
	turn := *payload.Turn
	reply := w.processor.Route(ctx, turn)

	if payload.TrackStatus {
		err := w.jobs.Finish(ctx, payload.ID, CompletedJob(turn.ConversationID, reply))
		switch {
		case errors.Is(err, ErrJobFinished):
			w.logger.Debug("job already finished; redelivered turn", "job_id", payload.ID)
		case err != nil:
			w.logger.Error("failed to update job status", "error", err, "job_id", payload.ID)
		}
	}
	if payload.ReplySMS {
		w.sendReply(ctx, turn.PhoneNumber, reply.Text, payload.ID)
	}
	w.logger.Debug("conversation job processed", "job_id", payload.ID, "outcome", string(reply.Outcome))
}

func (w *Worker) processPayment(ctx context.Context, payload queuePayload) error {
	link := *payload.Link
	reply, err := w.processor.ResolvePayment(ctx, link)
	if err != nil {
		if payload.TrackStatus {
			if storeErr := w.jobs.Finish(ctx, payload.ID, FailedJob(err.Error())); storeErr != nil && !errors.Is(storeErr, ErrJobFinished) {
				w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.ID)
			}
		}
		return fmt.Errorf("conversation: resolve payment %s: %w", link.ID, err)
	}
	if reply.Text != "" && payload.ReplySMS {
		w.sendReply(ctx, link.PhoneNumber, reply.Text, payload.ID)
	}
	return nil
}

func (w *Worker) sendReply(ctx context.Context, to, body, jobID string) {
	if w.sender == nil || to == "" || body == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if _, err := w.sender.Send(ctx, to, body); err != nil {
		w.logger.Error("failed to send reply", "error", err, "job_id", jobID)
	}
}

// deleteMessage acknowledges a finished job. It runs on a fresh context so a
// shutdown does not leave processed jobs on the queue.
func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
