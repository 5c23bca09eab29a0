package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/archive"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

const defaultTaskTimeout = 10 * time.Second

// Archiver stores closed contexts.
type Archiver interface {
	Archive(ctx context.Context, rec archive.Record) error
}

// TaskRunner performs the side effects of a turn (event publication and
// context archival) off the reply path. A failed task is logged and
// counted; it never changes the reply.
type TaskRunner struct {
	publisher events.Publisher
	archiver  Archiver
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewTaskRunner builds a runner. A nil publisher or archiver disables that task.
func NewTaskRunner(publisher events.Publisher, archiver Archiver, m *metrics.BookingMetrics, logger *logging.Logger) *TaskRunner {
	if logger == nil {
		logger = logging.Default()
	}
	return &TaskRunner{
		publisher: publisher,
		archiver:  archiver,
		metrics:   m,
		logger:    logger,
		timeout:   defaultTaskTimeout,
	}
}

// Publish appends evt to the outbox under aggregate.
func (t *TaskRunner) Publish(ctx context.Context, orgID, aggregate string, evt events.CanonicalEvent) {
	if t == nil || t.publisher == nil {
		return
	}
	t.run(ctx, "publish:"+evt.EventType(), func(ctx context.Context) error {
		_, err := t.publisher.Publish(ctx, orgID, aggregate, evt)
		return err
	})
}

// Archive stores a redacted snapshot of a context that was just cleared.
func (t *TaskRunner) Archive(ctx context.Context, c *Context, outcome Outcome, closedAt time.Time) {
	if t == nil || t.archiver == nil || c == nil {
		return
	}
	rec, err := archiveRecord(c, outcome, closedAt)
	if err != nil {
		t.fail("archive", err)
		return
	}
	t.run(ctx, "archive", func(ctx context.Context) error {
		return t.archiver.Archive(ctx, rec)
	})
}

// Wait blocks until every started task has finished.
func (t *TaskRunner) Wait() {
	if t == nil {
		return
	}
	t.wg.Wait()
}

func (t *TaskRunner) run(ctx context.Context, task string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				t.fail(task, fmt.Errorf("panic: %v", p))
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			t.fail(task, err)
		}
	}()
}

func (t *TaskRunner) fail(task string, err error) {
	t.logger.Error("conversation: side task failed", "task", task, "error", err)
	t.metrics.ObserveSideChannelFailure(task, "error")
}

// archiveRecord snapshots c with contact details hashed or scrubbed.
func archiveRecord(c *Context, outcome Outcome, closedAt time.Time) (archive.Record, error) {
	snap := c.Clone()
	snap.PhoneNumber = ""
	if snap.ContactEmail != "" {
		snap.ContactEmail = "[EMAIL]"
	}
	snap.CancellationReason = archive.Redact(snap.CancellationReason)
	snap.PendingReason = archive.Redact(snap.PendingReason)
	snap.DeferredMessage = archive.Redact(snap.DeferredMessage)
	if snap.Payment != nil {
		snap.Payment.LinkURL = ""
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return archive.Record{}, fmt.Errorf("conversation: marshal context: %w", err)
	}
	return archive.Record{
		Version:        archive.RecordVersion,
		ConversationID: c.ConversationID,
		OrgID:          c.OrgID,
		PhoneHash:      archive.PhoneHash(c.PhoneNumber),
		Intent:         string(c.Intent),
		Outcome:        string(outcome),
		OpenedAt:       c.CreatedAt,
		ClosedAt:       closedAt,
		Context:        raw,
	}, nil
}
