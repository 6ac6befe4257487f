package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Admission metrics
	AdmissionDenials *prometheus.CounterVec
	QuotaRemaining   *prometheus.GaugeVec

	// Generator metrics
	GeneratorRequests *prometheus.CounterVec
	GeneratorLatency  prometheus.Histogram

	// Callback metrics
	CallbacksScheduled prometheus.Counter
	CallbackDispatches *prometheus.CounterVec
	CallbacksPending   prometheus.Gauge
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		AdmissionDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_denials_total",
				Help: "Requests denied at admission, by reason",
			},
			[]string{"reason"},
		),
		QuotaRemaining: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trial_quota_remaining",
				Help: "Remaining trial calls per client",
			},
			[]string{"client_id"},
		),

		GeneratorRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generator_requests_total",
				Help: "Reply generator invocations by outcome",
			},
			[]string{"status"},
		),
		GeneratorLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "generator_latency_seconds",
				Help:    "Reply generator response latency in seconds",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),

		CallbacksScheduled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "callbacks_scheduled_total",
				Help: "Total number of callbacks scheduled",
			},
		),
		CallbackDispatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callback_dispatches_total",
				Help: "Callback dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		CallbacksPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "callbacks_pending",
				Help: "Pending callbacks observed at the last poll",
			},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordAdmissionDenial records a request denied at admission
func RecordAdmissionDenial(reason string) {
	Get().AdmissionDenials.WithLabelValues(reason).Inc()
}

// SetQuotaRemaining sets the remaining trial quota for a client
func SetQuotaRemaining(clientID string, remaining float64) {
	Get().QuotaRemaining.WithLabelValues(clientID).Set(remaining)
}

// RecordGeneratorRequest records a reply generator invocation
func RecordGeneratorRequest(status string, duration time.Duration) {
	Get().GeneratorRequests.WithLabelValues(status).Inc()
	Get().GeneratorLatency.Observe(duration.Seconds())
}

// RecordCallbackScheduled records a newly scheduled callback
func RecordCallbackScheduled() {
	Get().CallbacksScheduled.Inc()
}

// RecordCallbackDispatch records a callback dispatch outcome
func RecordCallbackDispatch(outcome string) {
	Get().CallbackDispatches.WithLabelValues(outcome).Inc()
}

// SetCallbacksPending records the pending backlog seen by the scheduler
func SetCallbacksPending(n int) {
	Get().CallbacksPending.Set(float64(n))
}
