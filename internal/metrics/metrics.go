// Package metrics exposes relay counters to Prometheus. Every method is safe
// on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msgroom"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sessions        prometheus.Gauge
	messages        prometheus.Counter
	authRejected    *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	adminCommands   *prometheus.CounterVec
	flushDuration   prometheus.Histogram
	flushFailures   prometheus.Counter
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of authenticated sessions.",
		}),
		messages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Chat messages accepted for broadcast.",
		}),
		authRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejected_total",
			Help:      "Rejected handshakes by reason.",
		}, []string{"reason"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Actions rejected by the per-session limiter.",
		}, []string{"action"}),
		adminCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_commands_total",
			Help:      "Moderation commands by name and outcome.",
		}, []string{"command", "ok"}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_flush_duration_seconds",
			Help:      "Latency of moderation store flushes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		flushFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_flush_failures_total",
			Help:      "Moderation store flushes that failed.",
		}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by status code.",
		}, []string{"method", "path", "code"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) MessageRelayed() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) AuthRejected(reason string) {
	if m != nil {
		m.authRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RateLimited(action string) {
	if m != nil {
		m.rateLimited.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) AdminCommand(name string, ok bool) {
	if m != nil {
		m.adminCommands.WithLabelValues(name, strconv.FormatBool(ok)).Inc()
	}
}

// ObserveFlush records a moderation store flush.
func (m *Metrics) ObserveFlush(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(d.Seconds())
	if err != nil {
		m.flushFailures.Inc()
	}
}

// Middleware records request latency and status codes. The route template is
// used as the path label to keep cardinality bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
