package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics records request counts and latencies into a prometheus registry.
type HTTPMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// NewHTTPMetrics builds the HTTP collectors on a dedicated registry. Runtime and
// database pool collectors stay on the default registry and are merged at gather time.
func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	registry := prometheus.NewRegistry()

	constLabels := prometheus.Labels{}
	if cfg.ServiceName != "" {
		constLabels["service"] = cfg.ServiceName
	}

	m := &HTTPMetrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_http_requests_total",
			Help:        "HTTP requests by route, method and status.",
			ConstLabels: constLabels,
		}, []string{"route", "method", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "telemetry_http_request_duration_seconds",
			Help:        "HTTP request latency.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"route", "method"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "telemetry_http_requests_in_flight",
			Help:        "Requests currently being served.",
			ConstLabels: constLabels,
		}),
	}
	registry.MustRegister(m.requests, m.duration, m.inflight)
	return m
}

// Registry exposes the registry for scraping and export.
func (m *HTTPMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GinMiddleware observes every request.
func (m *HTTPMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.inflight.Inc()
		start := time.Now()
		c.Next()
		m.inflight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// Gatherer merges the HTTP registry with the process-wide default registry.
func (m *HTTPMetrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}
}

// Handler serves the merged registries in the prometheus exposition format.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
	return gin.WrapH(handler)
}
