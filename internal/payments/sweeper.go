package payments

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// ExpirySweeper periodically expires pending links past their TTL and settles
// any terminal link whose bookings were never confirmed or released, so
// provisional rows do not outlive a silent customer.
type ExpirySweeper struct {
	gate     *Gate
	links    LinkStore
	interval time.Duration
	batch    int
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
}

func NewExpirySweeper(gate *Gate, interval time.Duration, logger *logging.Logger) *ExpirySweeper {
	if gate == nil {
		panic("payments: gate required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		gate:     gate,
		links:    gate.links,
		interval: interval,
		batch:    100,
		metrics:  gate.metrics,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("payment link sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("payment link sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce settles one batch and returns how many links it settled.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.sweep")
	defer span.End()

	now := s.gate.now()
	links, err := s.links.ListUnsettled(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, link := range links {
		status := link.Status
		if status == StatusPending {
			status = StatusExpired
		}
		if _, err := s.gate.Resolve(ctx, link.ID, status); err != nil {
			s.logger.Error("payment link settle failed", "link_id", link.ID, "org_id", link.OrgID, "error", err)
			continue
		}
		settled++
	}
	s.metrics.ObserveExpiredSwept(settled)
	if settled > 0 {
		s.logger.Info("payment link sweep settled links", "count", settled)
	}
	return settled, nil
}
