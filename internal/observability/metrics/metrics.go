// Package metrics holds the Prometheus collectors for the booking engine.
// All observe methods are safe on a nil receiver so callers can leave
// metrics unwired in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "medspa"

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cs...)
}

// MessagingMetrics covers the SMS transport on both directions.
type MessagingMetrics struct {
	inbound  *prometheus.CounterVec
	outbound *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inbound:  counterVec("messaging", "inbound_webhook_total", "Inbound SMS webhooks by provider and result", "provider", "status"),
		outbound: counterVec("messaging", "outbound_total", "Outbound SMS sends by provider and result", "provider", "status"),
		latency:  histogramVec("messaging", "webhook_latency_seconds", "Time spent handling an inbound webhook", prometheus.DefBuckets, "provider"),
	}
	register(reg, m.inbound, m.outbound, m.latency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(provider, status string) {
	if m != nil {
		m.inbound.WithLabelValues(provider, status).Inc()
	}
}

func (m *MessagingMetrics) ObserveOutbound(provider, status string) {
	if m != nil {
		m.outbound.WithLabelValues(provider, status).Inc()
	}
}

func (m *MessagingMetrics) ObserveWebhookLatency(provider string, seconds float64) {
	if m != nil {
		m.latency.WithLabelValues(provider).Observe(seconds)
	}
}
