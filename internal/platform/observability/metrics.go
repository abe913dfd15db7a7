package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "orders"

// Metrics holds the Prometheus collectors for HTTP traffic and order flow counters. It satisfies
// services.OrderMetrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ordersCreated       *prometheus.CounterVec
	orderValue          *prometheus.HistogramVec
	stockRejected       *prometheus.CounterVec
	ordersCancelled     *prometheus.CounterVec
	settlements         *prometheus.CounterVec
	settlementEscalated prometheus.Counter
	notifications       *prometheus.CounterVec
}

// NewMetrics registers all collectors on a private registry alongside the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "created_total",
			Help:      "Orders created",
		}, []string{"currency"}),
		orderValue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "value_minor_units",
			Help:      "Order totals in minor currency units",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 12),
		}, []string{"currency"}),
		stockRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stock_rejected_total",
			Help:      "Order attempts rejected for insufficient stock",
		}, []string{"product_id"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cancelled_total",
			Help:      "Orders cancelled",
		}, []string{"actor"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "settlements_total",
			Help:      "Payment settlement events processed",
		}, []string{"status", "outcome"}),
		settlementEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "settlement_escalations_total",
			Help:      "Settlements that could not be applied and were escalated",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to a dispatcher",
		}, []string{"channel", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.ordersCreated,
		m.orderValue,
		m.stockRejected,
		m.ordersCancelled,
		m.settlements,
		m.settlementEscalated,
		m.notifications,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) OrderCreated(currency string, amount int64, _ int) {
	m.ordersCreated.WithLabelValues(currency).Inc()
	m.orderValue.WithLabelValues(currency).Observe(float64(amount))
}

func (m *Metrics) StockRejected(productID string) {
	m.stockRejected.WithLabelValues(productID).Inc()
}

func (m *Metrics) OrderCancelled(admin bool) {
	actor := "customer"
	if admin {
		actor = "admin"
	}
	m.ordersCancelled.WithLabelValues(actor).Inc()
}

func (m *Metrics) SettlementApplied(status, outcome string) {
	m.settlements.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) SettlementEscalated() {
	m.settlementEscalated.Inc()
}

// NotificationDispatched counts a dispatcher attempt for channel.
func (m *Metrics) NotificationDispatched(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) observeRequest(method, route string, status int, seconds float64) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}
