package rebooking

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// SMSSender delivers one text message.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// ClinicSource provides the clinic name used in reminder texts.
type ClinicSource interface {
	Get(ctx context.Context, orgID string) (*clinic.Config, error)
}

// Worker texts reminders once they come due.
type Worker struct {
	store    ReminderStore
	sender   SMSSender
	clinics  ClinicSource
	logger   *logging.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithInterval sets how often due reminders are polled.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func NewWorker(store ReminderStore, sender SMSSender, clinics ClinicSource, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if store == nil {
		panic("rebooking: reminder store required")
	}
	if sender == nil {
		panic("rebooking: sms sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		store:    store,
		sender:   sender,
		clinics:  clinics,
		logger:   logger,
		interval: 15 * time.Minute,
		batch:    defaultDueLimit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs ProcessDue on every tick until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("rebooking reminder worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := w.ProcessDue(ctx); err != nil {
			w.logger.Error("rebooking: process due reminders", "error", err)
		}
	}
}

// ProcessDue texts the reminders that have come due and reports how many
// went out. Each reminder is claimed as sent before its text is handed to
// the carrier; a failed send is logged and never retried.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	now := w.now().UTC()
	due, err := w.store.ListDue(ctx, now, w.batch)
	if err != nil {
		return 0, err
	}

	names := map[string]string{}
	sent := 0
	for i := range due {
		r := &due[i]
		if !w.claim(ctx, r, now) {
			continue
		}
		name, seen := names[r.OrgID]
		if !seen {
			name = w.clinicName(ctx, r.OrgID)
			names[r.OrgID] = name
		}
		if _, err := w.sender.Send(ctx, r.Phone, MessageTemplate(r, name)); err != nil {
			w.logger.Error("rebooking: reminder not delivered", "id", r.ID, "org_id", r.OrgID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		w.logger.Info("rebooking: reminders sent", "count", sent, "due", len(due))
	}
	return sent, nil
}

// claim marks r sent. It is false when another worker got there first or
// the store failed.
func (w *Worker) claim(ctx context.Context, r *Reminder, now time.Time) bool {
	ok, err := w.store.MarkSent(ctx, r.ID, now)
	if err != nil {
		w.logger.Error("rebooking: mark sent", "id", r.ID, "error", err)
		return false
	}
	return ok
}

func (w *Worker) clinicName(ctx context.Context, orgID string) string {
	if w.clinics == nil {
		return ""
	}
	cfg, err := w.clinics.Get(ctx, orgID)
	if err != nil || cfg == nil {
		w.logger.Warn("rebooking: clinic config unavailable", "org_id", orgID, "error", err)
		return ""
	}
	return cfg.Name
}
