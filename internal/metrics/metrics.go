package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Recomputes counts engine rounds by outcome: annotated, fallback or stale
	Recomputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_recomputes_total", Help: "Route recomputes by outcome."},
		[]string{"outcome"},
	)
	// RecomputesInFlight is the number of rounds currently awaiting the estimator
	RecomputesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "route_recomputes_in_flight", Help: "Recomputes awaiting the estimator."},
	)
	// EstimatorLatency tracks estimator round trips in seconds by status
	EstimatorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "estimator_latency_seconds", Help: "Estimator call latency in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}},
		[]string{"status"},
	)
	// RouteStops is the stop count of the last applied route per tenant
	RouteStops = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "route_stops", Help: "Stops on the last applied route."},
		[]string{"tenant"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Recomputes)
		Registry.MustRegister(RecomputesInFlight)
		Registry.MustRegister(EstimatorLatency)
		Registry.MustRegister(RouteStops)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
