// Package monitoring - prom.go exposes metrics in Prometheus format.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromCollector registers and updates Prometheus metrics for the gateway.
type PromCollector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensSaved     prometheus.Counter
	tokensOriginal  prometheus.Counter
}

// NewPromCollector creates a collector with its own registry so tests can
// instantiate it repeatedly without duplicate-registration panics.
func NewPromCollector() *PromCollector {
	registry := prometheus.NewRegistry()

	pc := &PromCollector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Requests handled, by path class and status code.",
		}, []string{"path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		tokensSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "tokens_saved_total",
			Help:      "Tokens removed from user messages by compression.",
		}),
		tokensOriginal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "tokens_original_total",
			Help:      "Tokens counted in user messages before compression.",
		}),
	}

	registry.MustRegister(pc.requestsTotal, pc.requestDuration, pc.tokensSaved, pc.tokensOriginal)
	return pc
}

// ObserveRequest records one completed request.
func (pc *PromCollector) ObserveRequest(path, status string, duration time.Duration) {
	pc.requestsTotal.WithLabelValues(path, status).Inc()
	pc.requestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// ObserveCompression records token counts for one compressed message.
func (pc *PromCollector) ObserveCompression(original, compressed int) {
	pc.tokensOriginal.Add(float64(original))
	if saved := original - compressed; saved > 0 {
		pc.tokensSaved.Add(float64(saved))
	}
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (pc *PromCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{})
}
