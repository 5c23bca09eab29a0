package events

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// DeliveryHandler consumes one event. A returned error leaves the event in
// the outbox for the next drain.
type DeliveryHandler interface {
	Handle(ctx context.Context, env Envelope) error
}

type DeliveryHandlerFunc func(ctx context.Context, env Envelope) error

func (f DeliveryHandlerFunc) Handle(ctx context.Context, env Envelope) error { return f(ctx, env) }

const (
	defaultDeliveryBatch    = 25
	defaultDeliveryInterval = 2 * time.Second
)

type DelivererOption func(*Deliverer)

func WithDeliveryBatch(n int32) DelivererOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.batch = n
		}
	}
}

func WithDeliveryInterval(every time.Duration) DelivererOption {
	return func(d *Deliverer) {
		if every > 0 {
			d.interval = every
		}
	}
}

// Deliverer polls a PendingSource and hands each event to a handler. An
// event is marked delivered only after the handler succeeds, so delivery is
// at least once.
type Deliverer struct {
	source   PendingSource
	handler  DeliveryHandler
	logger   *logging.Logger
	batch    int32
	interval time.Duration
}

func NewDeliverer(source PendingSource, handler DeliveryHandler, logger *logging.Logger, opts ...DelivererOption) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Deliverer{
		source:   source,
		handler:  handler,
		logger:   logger,
		batch:    defaultDeliveryBatch,
		interval: defaultDeliveryInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start drains on every tick until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.source == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch. Failures are logged and retried on a later drain.
func (d *Deliverer) Drain(ctx context.Context) {
	pending, err := d.source.FetchPending(ctx, d.batch)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	for _, env := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := d.handler.Handle(ctx, env); err != nil {
			d.logger.Error("outbox delivery failed", "error", err,
				"event_id", env.EventID, "type", env.EventType, "age", time.Since(env.OccurredAt).Round(time.Second))
			continue
		}
		marked, err := d.source.MarkDelivered(ctx, env.EventID)
		switch {
		case err != nil:
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", env.EventID)
		case marked:
			d.logger.Debug("outbox delivered", "event_id", env.EventID, "type", env.EventType)
		}
	}
}

// Router fans an event out to every handler registered for its type. All
// handlers run even when one fails; the joined error sends the event back
// to all of them, so handlers must tolerate repeats.
type Router struct {
	routes map[string][]DeliveryHandler
	logger *logging.Logger
}

func NewRouter(logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{routes: make(map[string][]DeliveryHandler), logger: logger}
}

// On adds h to the handlers of eventType and returns r for chaining.
func (r *Router) On(eventType string, h DeliveryHandler) *Router {
	if h != nil {
		r.routes[eventType] = append(r.routes[eventType], h)
	}
	return r
}

func (r *Router) Handle(ctx context.Context, env Envelope) error {
	handlers := r.routes[env.EventType]
	if len(handlers) == 0 {
		r.logger.Debug("outbox event has no handler", "type", env.EventType, "event_id", env.EventID)
		return nil
	}
	errs := make([]error, 0, len(handlers))
	for _, h := range handlers {
		errs = append(errs, h.Handle(ctx, env))
	}
	return errors.Join(errs...)
}
