package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.IncOrderCreated(false)
	m.IncOrderTransition("pending", "paid")
	m.IncWebhookEvent("settlement", "applied")
	m.IncGatewayCharge("success")
	m.AddSweepExpired(3)
	m.IncRefund("pending")
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg, Config{ServiceName: "bookvault", Environment: "test"})

	m.IncOrderCreated(false)
	m.IncOrderCreated(true)
	m.IncOrderTransition("pending", "paid")
	m.IncWebhookEvent("settlement", "applied")
	m.AddSweepExpired(5)
	m.AddSweepExpired(0)

	if got := testutil.ToFloat64(m.ordersCreated.WithLabelValues("created")); got != 1 {
		t.Fatalf("created = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ordersCreated.WithLabelValues("replayed")); got != 1 {
		t.Fatalf("replayed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.orderTransitions.WithLabelValues("pending", "paid")); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sweepExpired); got != 5 {
		t.Fatalf("sweep expired = %v, want 5", got)
	}
	// Every sweep counts as a run even when nothing expired.
	if got := testutil.ToFloat64(m.sweepRuns); got != 2 {
		t.Fatalf("sweep runs = %v, want 2", got)
	}
}
