package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics tracks the order and payment funnel.
type CheckoutMetrics struct {
	ordersCreated *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	callbacks     *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout funnel metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	ordersCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders created, labeled by payment method.",
	}, []string{"method"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status transitions, labeled by target status.",
	}, []string{"status"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks processed, labeled by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(ordersCreated, transitions, callbacks)
	return &CheckoutMetrics{
		ordersCreated: ordersCreated,
		transitions:   transitions,
		callbacks:     callbacks,
	}
}

// IncOrderCreated counts a created order for the given payment method.
func (c *CheckoutMetrics) IncOrderCreated(method string) {
	if c == nil || c.ordersCreated == nil {
		return
	}
	c.ordersCreated.WithLabelValues(normalizeLabel(method)).Inc()
}

// IncTransition counts an order status transition.
func (c *CheckoutMetrics) IncTransition(status string) {
	if c == nil || c.transitions == nil {
		return
	}
	c.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncCallback counts a processed gateway callback by outcome.
func (c *CheckoutMetrics) IncCallback(outcome string) {
	if c == nil || c.callbacks == nil {
		return
	}
	c.callbacks.WithLabelValues(normalizeLabel(outcome)).Inc()
}
