// Package observability collects the adapter's Prometheus metrics: event
// flow in both directions, request outcomes, upstream reconnects, and cache
// occupancy.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the adapter's metric set. One instance is created at startup
// and threaded through the processors and the connection monitor.
type Metrics struct {
	// IncomingEvents counts upstream callbacks forwarded to the controller.
	// Labels: adapter_type, event_type
	IncomingEvents *prometheus.CounterVec

	// Requests counts controller commands by terminal outcome.
	// Labels: adapter_type, event_type, status (success|failed)
	Requests *prometheus.CounterVec

	// RequestDuration measures controller command handling in seconds.
	// Labels: adapter_type, event_type
	RequestDuration *prometheus.HistogramVec

	// RequestErrors counts failed commands by taxonomy code.
	// Labels: adapter_type, error_code
	RequestErrors *prometheus.CounterVec

	// UpstreamRetries counts retried upstream calls.
	// Labels: adapter_type, reason (rate_limited|transient)
	UpstreamRetries *prometheus.CounterVec

	// Reconnects counts upstream reconnection attempts.
	// Labels: adapter_type, result (success|failed)
	Reconnects *prometheus.CounterVec

	// ConnectionUp reports upstream liveness as 0 or 1.
	// Labels: adapter_type
	ConnectionUp *prometheus.GaugeVec

	// CacheEntries reports cache occupancy after each maintenance sweep.
	// Labels: cache (messages|attachments|users)
	CacheEntries *prometheus.GaugeVec

	// HistoryPages counts upstream history pages fetched.
	// Labels: adapter_type
	HistoryPages *prometheus.CounterVec
}

// NewMetrics registers the metric set on a registry. A nil registry uses the
// Prometheus default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		IncomingEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_incoming_events_total",
				Help: "Total upstream events forwarded to the controller",
			},
			[]string{"adapter_type", "event_type"},
		),

		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_requests_total",
				Help: "Total controller commands by outcome",
			},
			[]string{"adapter_type", "event_type", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_request_duration_seconds",
				Help:    "Controller command handling time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"adapter_type", "event_type"},
		),

		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_request_errors_total",
				Help: "Total failed controller commands by error code",
			},
			[]string{"adapter_type", "error_code"},
		),

		UpstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_upstream_retries_total",
				Help: "Total retried upstream calls by reason",
			},
			[]string{"adapter_type", "reason"},
		),

		Reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_reconnects_total",
				Help: "Total upstream reconnection attempts by result",
			},
			[]string{"adapter_type", "result"},
		),

		ConnectionUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conduit_connection_up",
				Help: "Upstream connection liveness, 1 when connected",
			},
			[]string{"adapter_type"},
		),

		CacheEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conduit_cache_entries",
				Help: "Cache occupancy after the last maintenance sweep",
			},
			[]string{"cache"},
		),

		HistoryPages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_history_pages_total",
				Help: "Total upstream history pages fetched",
			},
			[]string{"adapter_type"},
		),
	}
}

// EventForwarded records one upstream event pushed to the controller.
func (m *Metrics) EventForwarded(adapterType, eventType string) {
	m.IncomingEvents.WithLabelValues(adapterType, eventType).Inc()
}

// RequestCompleted records a command's terminal outcome and latency.
func (m *Metrics) RequestCompleted(adapterType, eventType, status string, durationSeconds float64) {
	m.Requests.WithLabelValues(adapterType, eventType, status).Inc()
	m.RequestDuration.WithLabelValues(adapterType, eventType).Observe(durationSeconds)
}

// RequestFailed records the taxonomy code of a failed command.
func (m *Metrics) RequestFailed(adapterType, errorCode string) {
	m.RequestErrors.WithLabelValues(adapterType, errorCode).Inc()
}

// RetryScheduled records one retried upstream call.
func (m *Metrics) RetryScheduled(adapterType, reason string) {
	m.UpstreamRetries.WithLabelValues(adapterType, reason).Inc()
}

// ConnectionState flips the liveness gauge.
func (m *Metrics) ConnectionState(adapterType string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.ConnectionUp.WithLabelValues(adapterType).Set(v)
}

// ReconnectAttempted records the outcome of one reconnection attempt.
func (m *Metrics) ReconnectAttempted(adapterType string, ok bool) {
	result := "failed"
	if ok {
		result = "success"
	}
	m.Reconnects.WithLabelValues(adapterType, result).Inc()
}

// CacheSize records a cache's occupancy after a sweep.
func (m *Metrics) CacheSize(cache string, entries int) {
	m.CacheEntries.WithLabelValues(cache).Set(float64(entries))
}

// HistoryPageFetched records one upstream history page.
func (m *Metrics) HistoryPageFetched(adapterType string) {
	m.HistoryPages.WithLabelValues(adapterType).Inc()
}
