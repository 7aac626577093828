package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dispatch engine
type Metrics struct {
	NotificationsCreated *prometheus.CounterVec
	DispatchAttempts     *prometheus.CounterVec
	ProviderDuration     *prometheus.HistogramVec
	APIDuration          *prometheus.HistogramVec
	ActiveConnections    prometheus.Gauge
	ScheduledQueued      prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metrics := &Metrics{
		NotificationsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_created_total",
				Help: "Total number of notifications created, by resulting status",
			},
			[]string{"status"},
		),
		DispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_attempts_total",
				Help: "Total number of per-channel delivery attempts",
			},
			[]string{"channel", "outcome"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_send_duration_seconds",
				Help:    "Time taken by providers to send notifications",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "provider"},
		),
		APIDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "Time taken to serve API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of active connections to the service",
			},
		),
		ScheduledQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduled_notifications_queued_total",
				Help: "Total number of notifications queued for later delivery",
			},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		metrics.NotificationsCreated,
		metrics.DispatchAttempts,
		metrics.ProviderDuration,
		metrics.APIDuration,
		metrics.ActiveConnections,
		metrics.ScheduledQueued,
	)

	return metrics
}

// RecordNotificationCreated records a created notification and its status
func (m *Metrics) RecordNotificationCreated(status string) {
	m.NotificationsCreated.WithLabelValues(status).Inc()
}

// RecordDispatchAttempt records one per-channel delivery attempt
func (m *Metrics) RecordDispatchAttempt(channel, outcome string) {
	m.DispatchAttempts.WithLabelValues(channel, outcome).Inc()
}

// RecordProviderDuration records how long a provider took to send
func (m *Metrics) RecordProviderDuration(channel, provider string, seconds float64) {
	m.ProviderDuration.WithLabelValues(channel, provider).Observe(seconds)
}

// RecordAPIDuration records API request duration
func (m *Metrics) RecordAPIDuration(operation string, seconds float64) {
	m.APIDuration.WithLabelValues(operation).Observe(seconds)
}

// IncrementActiveConnections increments active connections
func (m *Metrics) IncrementActiveConnections() {
	m.ActiveConnections.Inc()
}

// DecrementActiveConnections decrements active connections
func (m *Metrics) DecrementActiveConnections() {
	m.ActiveConnections.Dec()
}

// RecordScheduled records a notification queued for later delivery
func (m *Metrics) RecordScheduled() {
	m.ScheduledQueued.Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
