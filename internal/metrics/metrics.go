// Package metrics holds the Prometheus collectors for checkout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrdersPlaced      prometheus.Counter
	PaymentsInitiated *prometheus.CounterVec // result: created, replayed, resumed, error
	PaymentOutcomes   *prometheus.CounterVec // status
	GatewayLatency    *prometheus.HistogramVec
	StatusTransitions *prometheus.CounterVec // from, to
	InsufficientStock prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retrocart", Name: "orders_placed_total",
			Help: "Orders created from a cart.",
		}),
		PaymentsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrocart", Name: "payments_initiated_total",
			Help: "Payment initiation requests by result.",
		}, []string{"result"}),
		PaymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrocart", Name: "payment_outcomes_total",
			Help: "Payment status changes observed by verify.",
		}, []string{"status"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "retrocart", Name: "gateway_request_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retrocart", Name: "order_status_transitions_total",
			Help: "Order status transitions applied by operators or payments.",
		}, []string{"from", "to"}),
		InsufficientStock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retrocart", Name: "insufficient_stock_total",
			Help: "Cart or order requests rejected for lack of stock.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OrdersPlaced, m.PaymentsInitiated, m.PaymentOutcomes,
			m.GatewayLatency, m.StatusTransitions, m.InsufficientStock)
	}
	return m
}
