package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "craft_market"

// Metrics is nil-safe: a nil *Metrics records nothing, which keeps tests free of registries.
type Metrics struct {
	CheckoutSteps     *prometheus.CounterVec
	PaymentCaptures   *prometheus.CounterVec
	PaymentRefunds    *prometheus.CounterVec
	OrdersPlaced      prometheus.Counter
	OrdersRejected    *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	CartReverts       prometheus.Counter
	OutboxPublished   *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPLatencyMS     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "step_transitions_total",
			Help:      "Checkout step transitions.",
		}, []string{"from", "to"}),
		PaymentCaptures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "captures_total",
			Help:      "Payment capture attempts by outcome.",
		}, []string{"outcome"}),
		PaymentRefunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "refunds_total",
			Help:      "Refunds of captured payments whose order was rejected.",
		}, []string{"outcome"}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Orders persisted.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Order placements rejected before persistence.",
		}, []string{"reason"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Order status transitions applied by sellers.",
		}, []string{"from", "to"}),
		CartReverts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "optimistic_reverts_total",
			Help:      "Optimistic cart quantity changes reverted after a remote failure.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to Kafka.",
		}, []string{"event_type"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		HTTPLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CheckoutSteps,
			m.PaymentCaptures,
			m.PaymentRefunds,
			m.OrdersPlaced,
			m.OrdersRejected,
			m.StatusTransitions,
			m.CartReverts,
			m.OutboxPublished,
			m.HTTPRequests,
			m.HTTPLatencyMS,
		)
	}
	return m
}

func (m *Metrics) CheckoutStep(from, to string) {
	if m == nil {
		return
	}
	m.CheckoutSteps.WithLabelValues(from, to).Inc()
}

func (m *Metrics) PaymentCapture(outcome string) {
	if m == nil {
		return
	}
	m.PaymentCaptures.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PaymentRefund(outcome string) {
	if m == nil {
		return
	}
	m.PaymentRefunds.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.OrdersPlaced.Inc()
}

func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.OrdersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) StatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) CartRevert() {
	if m == nil {
		return
	}
	m.CartReverts.Inc()
}

func (m *Metrics) Published(eventType string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveHTTP(route, status string, ms float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPLatencyMS.WithLabelValues(route).Observe(ms)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
