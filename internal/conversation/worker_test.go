package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

func TestWorkerProcessesTurns(t *testing.T) {
	queue := newScriptedQueue()
	processor := newRecordingProcessor()
	store := &stubJobUpdater{}
	sender := &stubSender{}
	worker := NewWorker(processor, queue, store, sender, logging.Default(), WithLaneCount(2), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{
		ID:            "msg-1",
		Body:          turnBody(t, "job-1", "conv-1", "cancel my appointment", true),
		ReceiptHandle: "rh-1",
	})

	waitFor(func() bool {
		return len(store.completedJobs()) == 1
	}, time.Second, t)

	cancel()
	worker.Wait()

	if got := processor.messages("conv-1"); len(got) != 1 || got[0] != "cancel my appointment" {
		t.Fatalf("unexpected routed messages: %v", got)
	}
	if jobs := store.completedJobs(); jobs[0] != "job-1" {
		t.Fatalf("expected job completion to be recorded, got %#v", jobs)
	}
	if last := sender.last(); last.to != "+15550001111" || last.body != "echo: cancel my appointment" {
		t.Fatalf("unexpected sms: %#v", last)
	}
	if queue.deletedCount() != 1 {
		t.Fatalf("expected delete to be invoked once, got %d", queue.deletedCount())
	}
}

func TestWorkerSerializesTurnsPerConversation(t *testing.T) {
	queue := newScriptedQueue()
	processor := newRecordingProcessor()
	processor.delay = 5 * time.Millisecond
	store := &stubJobUpdater{}
	worker := NewWorker(processor, queue, store, nil, logging.Default(), WithLaneCount(4), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	const perConversation = 5
	conversations := []string{"conv-a", "conv-b", "conv-c"}
	for i := 0; i < perConversation; i++ {
		for _, conv := range conversations {
			jobID := fmt.Sprintf("%s-%d", conv, i)
			queue.enqueue(queueMessage{ID: jobID, Body: turnBody(t, jobID, conv, fmt.Sprintf("msg %d", i), false), ReceiptHandle: jobID})
		}
	}

	waitFor(func() bool {
		return len(store.completedJobs()) == perConversation*len(conversations)
	}, 5*time.Second, t)

	cancel()
	worker.Wait()

	if processor.maxConcurrent() != 1 {
		t.Fatalf("expected at most one active turn per conversation, saw %d", processor.maxConcurrent())
	}
	for _, conv := range conversations {
		got := processor.messages(conv)
		for i, msg := range got {
			if want := fmt.Sprintf("msg %d", i); msg != want {
				t.Fatalf("%s: turn %d out of order: got %q want %q", conv, i, msg, want)
			}
		}
	}
}

func TestWorkerPaymentJobSendsReplyToLinkPhone(t *testing.T) {
	processor := newRecordingProcessor()
	processor.paymentReply = Reply{Text: "You're all set!", Outcome: OutcomeCompleted, Cleared: true}
	sender := &stubSender{}
	worker := NewWorker(processor, newScriptedQueue(), &stubJobUpdater{}, sender, logging.Default())

	link := payments.Link{ID: "link-1", ConversationID: "conv-1", PhoneNumber: "+15550002222", Status: payments.StatusPaid}
	_, body, err := encodePayload(queuePayload{Kind: jobTypePayment, Link: &link, ReplySMS: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := worker.Process(context.Background(), body); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if last := sender.last(); last.to != "+15550002222" || last.body != "You're all set!" {
		t.Fatalf("unexpected sms: %#v", last)
	}
}

func TestWorkerPaymentJobSilentWhenContextMoved(t *testing.T) {
	processor := newRecordingProcessor()
	sender := &stubSender{}
	worker := NewWorker(processor, newScriptedQueue(), &stubJobUpdater{}, sender, logging.Default())

	link := payments.Link{ID: "link-1", ConversationID: "conv-1", PhoneNumber: "+15550002222", Status: payments.StatusExpired}
	_, body, _ := encodePayload(queuePayload{Kind: jobTypePayment, Link: &link, ReplySMS: true})

	if err := worker.Process(context.Background(), body); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("expected no sms for an empty reply, got %d", sender.count())
	}
}

func TestWorkerKeepsFailedPaymentJobOnQueue(t *testing.T) {
	queue := newScriptedQueue()
	processor := newRecordingProcessor()
	processor.paymentErr = errors.New("redis down")
	worker := NewWorker(processor, queue, &stubJobUpdater{}, nil, logging.Default(), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	link := payments.Link{ID: "link-1", ConversationID: "conv-1", Status: payments.StatusPaid}
	_, body, _ := encodePayload(queuePayload{Kind: jobTypePayment, Link: &link})
	queue.enqueue(queueMessage{ID: "msg-pay", Body: body, ReceiptHandle: "rh-pay"})

	waitFor(func() bool {
		return processor.paymentCount() == 1
	}, time.Second, t)

	cancel()
	worker.Wait()

	if queue.deletedCount() != 0 {
		t.Fatalf("expected failed payment job to stay queued, deleted %d", queue.deletedCount())
	}
}

func TestWorkerDropsMalformedPayload(t *testing.T) {
	queue := newScriptedQueue()
	processor := newRecordingProcessor()
	store := &stubJobUpdater{}
	worker := NewWorker(processor, queue, store, nil, logging.Default(), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{ID: "bad", Body: "{", ReceiptHandle: "rh-bad"})

	waitFor(func() bool {
		return queue.deletedCount() == 1
	}, time.Second, t)

	cancel()
	worker.Wait()

	if processor.turnCount() != 0 {
		t.Fatalf("expected no processor calls for malformed body")
	}
	if len(store.completedJobs()) != 0 || store.failureCount() != 0 {
		t.Fatalf("expected no job updates for malformed payload")
	}
}

func TestWorkerConfigOptions(t *testing.T) {
	worker := NewWorker(
		newRecordingProcessor(),
		newScriptedQueue(),
		&stubJobUpdater{},
		nil,
		logging.Default(),
		WithPollerCount(3),
		WithLaneCount(16),
		WithReceiveBatchSize(20),
		WithReceiveWaitSeconds(30),
		WithJobTimeout(time.Minute),
	)

	if worker.cfg.pollers != 3 {
		t.Fatalf("expected poller count override, got %d", worker.cfg.pollers)
	}
	if worker.cfg.lanes != 16 {
		t.Fatalf("expected lane count override, got %d", worker.cfg.lanes)
	}
	if worker.cfg.receiveBatchSize != maxReceiveBatchSize {
		t.Fatalf("expected batch size capped at %d, got %d", maxReceiveBatchSize, worker.cfg.receiveBatchSize)
	}
	if worker.cfg.receiveWaitSecs != maxWaitSeconds {
		t.Fatalf("expected wait seconds capped at %d, got %d", maxWaitSeconds, worker.cfg.receiveWaitSecs)
	}
	if worker.cfg.jobTimeout != time.Minute {
		t.Fatalf("expected job timeout override, got %s", worker.cfg.jobTimeout)
	}
}

func turnBody(t *testing.T, jobID, conversationID, message string, replySMS bool) string {
	t.Helper()
	payload := queuePayload{
		ID:          jobID,
		Kind:        jobTypeTurn,
		TrackStatus: true,
		ReplySMS:    replySMS,
		Turn: &Turn{
			ConversationID: conversationID,
			OrgID:          "org-1",
			PhoneNumber:    "+15550001111",
			Message:        message,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(body)
}

type recordingProcessor struct {
	mu           sync.Mutex
	routed       map[string][]string
	active       map[string]int
	peak         int
	payments     int
	delay        time.Duration
	paymentReply Reply
	paymentErr   error
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{routed: make(map[string][]string), active: make(map[string]int)}
}

func (p *recordingProcessor) Route(ctx context.Context, turn Turn) Reply {
	p.mu.Lock()
	p.active[turn.ConversationID]++
	if n := p.active[turn.ConversationID]; n > p.peak {
		p.peak = n
	}
	p.routed[turn.ConversationID] = append(p.routed[turn.ConversationID], turn.Message)
	p.mu.Unlock()

	time.Sleep(p.delay)

	p.mu.Lock()
	p.active[turn.ConversationID]--
	p.mu.Unlock()
	return continueWith("echo: " + turn.Message)
}

func (p *recordingProcessor) ResolvePayment(ctx context.Context, link payments.Link) (Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments++
	return p.paymentReply, p.paymentErr
}

func (p *recordingProcessor) messages(conversationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.routed[conversationID]...)
}

func (p *recordingProcessor) maxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

func (p *recordingProcessor) turnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msgs := range p.routed {
		n += len(msgs)
	}
	return n
}

func (p *recordingProcessor) paymentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payments
}

type scriptedQueue struct {
	ch       chan queueMessage
	deleted  int
	delMutex sync.Mutex
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{
		ch: make(chan queueMessage, 32),
	}
}

func (s *scriptedQueue) enqueue(msg queueMessage) {
	s.ch <- msg
}

func (s *scriptedQueue) Send(ctx context.Context, body, groupID, dedupID string) error {
	return nil
}

func (s *scriptedQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.ch:
		return []queueMessage{msg}, nil
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

func (s *scriptedQueue) Delete(ctx context.Context, receiptHandle string) error {
	s.delMutex.Lock()
	s.deleted++
	s.delMutex.Unlock()
	return nil
}

func (s *scriptedQueue) deletedCount() int {
	s.delMutex.Lock()
	defer s.delMutex.Unlock()
	return s.deleted
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type stubJobUpdater struct {
	completed []string
	failed    []string
	mu        sync.Mutex
}

func (s *stubJobUpdater) Finish(ctx context.Context, jobID string, result JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Err != "" {
		s.failed = append(s.failed, jobID)
	} else {
		s.completed = append(s.completed, jobID)
	}
	return nil
}

func (s *stubJobUpdater) completedJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...)
}

func (s *stubJobUpdater) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed)
}

type sentSMS struct {
	to   string
	body string
}

type stubSender struct {
	mu   sync.Mutex
	sent []sentSMS
}

func (s *stubSender) Send(ctx context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentSMS{to: to, body: body})
	return fmt.Sprintf("SM%d", len(s.sent)), nil
}

func (s *stubSender) last() sentSMS {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentSMS{}
	}
	return s.sent[len(s.sent)-1]
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
