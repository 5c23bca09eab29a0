package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMessagingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveInbound("twilio", "accepted")
	m.ObserveInbound("twilio", "accepted")
	m.ObserveInbound("twilio", "unauthorized")
	m.ObserveOutbound("twilio", "sent")
	m.ObserveWebhookLatency("twilio", 0.5)

	if got := counterValue(t, reg, "medspa_messaging_inbound_webhook_total", map[string]string{"status": "accepted"}); got != 2 {
		t.Fatalf("expected 2 accepted webhooks, got %v", got)
	}
	if got := counterValue(t, reg, "medspa_messaging_outbound_total", map[string]string{"provider": "twilio", "status": "sent"}); got != 1 {
		t.Fatalf("expected 1 outbound send, got %v", got)
	}
}

func TestMessagingMetricsNilSafe(t *testing.T) {
	var m *MessagingMetrics
	m.ObserveInbound("twilio", "status")
	m.ObserveOutbound("twilio", "sent")
	m.ObserveWebhookLatency("twilio", 0.1)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if pair.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestBookingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveTurn("cancel", "completed", 0.2)
	m.ObserveTurn("cancel", "completed", 0.3)
	m.ObserveTurn("", "rejected", 0.01)
	m.ObserveBookings("immediate", "provisional", 3)
	m.ObserveBookings("immediate", "provisional", 0)
	m.ObservePaymentFallback(true)
	m.ObservePaymentLink("paid")
	m.ObserveExpiredSwept(2)
	m.ObserveSideChannelFailure("archive", "error")

	if got := counterValue(t, reg, "medspa_booking_turns_total", map[string]string{"intent": "cancel", "outcome": "completed"}); got != 2 {
		t.Fatalf("expected 2 cancel turns, got %v", got)
	}
	if got := counterValue(t, reg, "medspa_booking_turns_total", map[string]string{"intent": "none"}); got != 1 {
		t.Fatalf("expected unlabeled intent to map to none, got %v", got)
	}
	if got := counterValue(t, reg, "medspa_booking_bookings_committed_total", map[string]string{"strategy": "immediate"}); got != 3 {
		t.Fatalf("expected 3 committed bookings, got %v", got)
	}
	if got := counterValue(t, reg, "medspa_booking_payment_link_fallback_total", map[string]string{"decision": "strict"}); got != 1 {
		t.Fatalf("expected strict fallback, got %v", got)
	}
	if got := counterValue(t, reg, "medspa_booking_expired_links_swept_total", nil); got != 2 {
		t.Fatalf("expected 2 swept links, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveTurn("new", "continued", 0.1)
	m.ObservePaymentLink("pending")
	m.ObservePaymentFallback(false)
	m.ObserveBookings("flexible", "confirmed", 2)
	m.ObserveSideChannelFailure("email", "dropped")
	m.ObserveExpiredSwept(1)
}
