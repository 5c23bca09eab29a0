package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMemoryVisibility  = 30 * time.Second
	defaultMemoryMaxReceives = 5
	memoryDedupWindow        = 5 * time.Minute
)

// MemoryQueue is an in-process stand-in for the FIFO SQS queue. A received
// message stays invisible until it is deleted or its visibility timeout
// lapses, and no other message of its group is handed out meanwhile.
// Messages received maxReceives times without a delete are dropped.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []*memoryEntry
	inflight    map[string]*memoryEntry
	busy        map[string]bool
	dedup       map[string]time.Time
	changed     chan struct{}
	slots       chan struct{}
	visibility  time.Duration
	maxReceives int
	now         func() time.Time
	seq         uint64
}

type memoryEntry struct {
	seq      uint64
	id       string
	body     string
	group    string
	receives int
	deadline time.Time
}

// MemoryQueueOption customizes a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithMaxReceives sets how many deliveries a message gets before it is dropped.
func WithMaxReceives(n int) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.maxReceives = n
		}
	}
}

// NewMemoryQueue holds at most capacity undeleted messages; Send blocks when full.
func NewMemoryQueue(capacity int, opts ...MemoryQueueOption) *MemoryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	q := &MemoryQueue{
		inflight:    make(map[string]*memoryEntry),
		busy:        make(map[string]bool),
		dedup:       make(map[string]time.Time),
		changed:     make(chan struct{}),
		slots:       make(chan struct{}, capacity),
		visibility:  defaultMemoryVisibility,
		maxReceives: defaultMemoryMaxReceives,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues body. A dedupID seen within the last five minutes is
// accepted and discarded.
func (q *MemoryQueue) Send(ctx context.Context, body, groupID, dedupID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	now := q.now()
	if dedupID != "" {
		if at, ok := q.dedup[dedupID]; ok && now.Sub(at) < memoryDedupWindow {
			q.mu.Unlock()
			return nil
		}
	}
	q.mu.Unlock()

	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if dedupID != "" {
		q.dedup[dedupID] = now
		q.pruneDedup(now)
	}
	if groupID == "" {
		groupID = uuid.NewString()
	}
	q.seq++
	q.pending = append(q.pending, &memoryEntry{seq: q.seq, id: uuid.NewString(), body: body, group: groupID})
	q.broadcast()
	return nil
}

// Receive returns up to maxMessages visible messages, at most one per group.
// It waits for waitSeconds, or until ctx is done when waitSeconds <= 0.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var expired <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		msgs, nextDeadline := q.take(maxMessages)
		changed := q.changed
		q.mu.Unlock()
		if len(msgs) > 0 {
			return msgs, nil
		}

		var redeliver *time.Timer
		var redeliverC <-chan time.Time
		if !nextDeadline.IsZero() {
			redeliver = time.NewTimer(nextDeadline.Sub(q.now()))
			redeliverC = redeliver.C
		}

		var err error
		done := false
		select {
		case <-ctx.Done():
			err, done = ctx.Err(), true
		case <-expired:
			done = true
		case <-changed:
		case <-redeliverC:
		}
		if redeliver != nil {
			redeliver.Stop()
		}
		if done {
			return nil, err
		}
	}
}

// Delete acknowledges a received message. Unknown handles are ignored.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.inflight[receiptHandle]
	if !ok {
		return nil
	}
	delete(q.inflight, receiptHandle)
	delete(q.busy, e.group)
	<-q.slots
	q.broadcast()
	return nil
}

// Len reports how many messages are waiting or in flight.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

// take hands out visible messages and returns the earliest in-flight
// deadline so an idle receiver knows when to look again. Callers hold q.mu.
func (q *MemoryQueue) take(max int) ([]queueMessage, time.Time) {
	now := q.now()
	q.expire(now)

	var out []queueMessage
	kept := q.pending[:0]
	for _, e := range q.pending {
		if len(out) >= max || q.busy[e.group] {
			kept = append(kept, e)
			continue
		}
		e.receives++
		e.deadline = now.Add(q.visibility)
		receipt := uuid.NewString()
		q.inflight[receipt] = e
		q.busy[e.group] = true
		out = append(out, queueMessage{ID: e.id, Body: e.body, ReceiptHandle: receipt, Receives: e.receives})
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept

	var next time.Time
	for _, e := range q.inflight {
		if next.IsZero() || e.deadline.Before(next) {
			next = e.deadline
		}
	}
	return out, next
}

// expire returns timed-out messages to the head of the queue in their
// original order, dropping those out of receives. Callers hold q.mu.
func (q *MemoryQueue) expire(now time.Time) {
	var back []*memoryEntry
	for receipt, e := range q.inflight {
		if now.Before(e.deadline) {
			continue
		}
		delete(q.inflight, receipt)
		delete(q.busy, e.group)
		if e.receives >= q.maxReceives {
			<-q.slots
			continue
		}
		back = append(back, e)
	}
	if len(back) == 0 {
		return
	}
	sort.Slice(back, func(i, j int) bool { return back[i].seq < back[j].seq })
	q.pending = append(back, q.pending...)
}

func (q *MemoryQueue) pruneDedup(now time.Time) {
	for id, at := range q.dedup {
		if now.Sub(at) >= memoryDedupWindow {
			delete(q.dedup, id)
		}
	}
}

// broadcast wakes every waiting receiver. Callers hold q.mu.
func (q *MemoryQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}
