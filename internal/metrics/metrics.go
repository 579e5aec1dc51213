// Package metrics holds the process-wide Prometheus collectors for msgbox.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LatencyBuckets are the request latency histogram buckets in milliseconds
var LatencyBuckets = []float64{25, 50, 100, 250, 500, 1000, 2500, 5000}

// Metrics owns a registry and the collectors registered on it.
// Collectors are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	WebhookRequestsTotal *prometheus.CounterVec
	RequestLatencyMs     prometheus.Histogram
}

// New creates a registry with the request counters and latency histogram
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"path", "status"},
		),

		WebhookRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_requests_total",
				Help: "Webhook processing outcomes",
			},
			[]string{"result"},
		),

		RequestLatencyMs: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "request_latency_ms",
				Help:    "Request latency in milliseconds",
				Buckets: LatencyBuckets,
			},
		),
	}
}

// ObserveRequest records one finished HTTP request
func (m *Metrics) ObserveRequest(path string, status int, latencyMs float64) {
	m.HTTPRequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	m.RequestLatencyMs.Observe(latencyMs)
}

// ObserveWebhook records the outcome of one webhook request
func (m *Metrics) ObserveWebhook(result string) {
	m.WebhookRequestsTotal.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
