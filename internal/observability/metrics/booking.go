package metrics

import "github.com/prometheus/client_golang/prometheus"

var turnBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// BookingMetrics tracks conversation turns and their booking side effects.
type BookingMetrics struct {
	turns        *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
	links        *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	committed    *prometheus.CounterVec
	sideChannels *prometheus.CounterVec
	swept        prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		turns:        counterVec("booking", "turns_total", "Conversation turns by intent and outcome", "intent", "outcome"),
		turnLatency:  histogramVec("booking", "turn_latency_seconds", "Latency of a single conversation turn", turnBuckets, "intent"),
		links:        counterVec("booking", "payment_links_total", "Payment link transitions by status", "status"),
		fallbacks:    counterVec("booking", "payment_link_fallback_total", "Failed link creations by enforcement decision", "decision"),
		committed:    counterVec("booking", "bookings_committed_total", "Bookings written by strategy and status", "strategy", "status"),
		sideChannels: counterVec("booking", "side_channel_failures_total", "Background tasks that failed or were dropped", "task", "reason"),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "expired_links_swept_total",
			Help:      "Pending payment links expired by the sweeper",
		}),
	}
	register(reg, m.turns, m.turnLatency, m.links, m.fallbacks, m.committed, m.sideChannels, m.swept)
	return m
}

// ObserveTurn records one processed turn. Turns with no detected intent are
// labelled "none".
func (m *BookingMetrics) ObserveTurn(intent, outcome string, seconds float64) {
	if m == nil {
		return
	}
	if intent == "" {
		intent = "none"
	}
	m.turns.WithLabelValues(intent, outcome).Inc()
	m.turnLatency.WithLabelValues(intent).Observe(seconds)
}

func (m *BookingMetrics) ObservePaymentLink(status string) {
	if m != nil {
		m.links.WithLabelValues(status).Inc()
	}
}

// ObservePaymentFallback records whether a failed link creation refused the
// booking (strict) or let it stand unpaid (lenient).
func (m *BookingMetrics) ObservePaymentFallback(strict bool) {
	if m == nil {
		return
	}
	decision := "lenient"
	if strict {
		decision = "strict"
	}
	m.fallbacks.WithLabelValues(decision).Inc()
}

func (m *BookingMetrics) ObserveBookings(strategy, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if strategy == "" {
		strategy = "single"
	}
	m.committed.WithLabelValues(strategy, status).Add(float64(count))
}

func (m *BookingMetrics) ObserveSideChannelFailure(task, reason string) {
	if m != nil {
		m.sideChannels.WithLabelValues(task, reason).Inc()
	}
}

func (m *BookingMetrics) ObserveExpiredSwept(n int) {
	if m != nil && n > 0 {
		m.swept.Add(float64(n))
	}
}
