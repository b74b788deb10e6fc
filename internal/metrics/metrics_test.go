package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OrdersPlaced.Inc()
	m.PaymentsInitiated.WithLabelValues("replayed").Inc()
	m.StatusTransitions.WithLabelValues("PENDING", "CONFIRMED").Inc()
	m.GatewayLatency.WithLabelValues("create").Observe(0.02)

	if got := testutil.ToFloat64(m.PaymentsInitiated.WithLabelValues("replayed")); got != 1 {
		t.Fatalf("replayed = %v", got)
	}
	n, err := testutil.GatherAndCount(reg, "retrocart_orders_placed_total", "retrocart_order_status_transitions_total")
	if err != nil || n != 2 {
		t.Fatalf("gathered %d series: %v", n, err)
	}
}

func TestUnregistered(t *testing.T) {
	m := New(nil)
	m.InsufficientStock.Inc()
	if got := testutil.ToFloat64(m.InsufficientStock); got != 1 {
		t.Fatalf("got %v", got)
	}
}
