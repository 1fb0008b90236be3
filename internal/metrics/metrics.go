// Package metrics exposes Prometheus instrumentation for the stream
// lifecycle service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the service.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	publishesTotal        prometheus.Counter
	recordingsSavedTotal  prometheus.Counter
	recordingsFailedTotal prometheus.Counter
	egressStartedTotal    prometheus.Counter
	egressStoppedTotal    prometheus.Counter
	webhookRejectedTotal  prometheus.Counter
	activeSessions        prometheus.Gauge
	activeEgresses        prometheus.Gauge
}

// New creates and registers the service metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	publishesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_publishes_total",
		Help: "Total number of admitted publish sessions",
	})
	recordingsSavedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_recordings_saved_total",
		Help: "Total number of recordings persisted to storage",
	})
	recordingsFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_recordings_failed_total",
		Help: "Total number of recordings that failed to persist",
	})
	egressStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_egress_started_total",
		Help: "Total number of derived-output jobs started",
	})
	egressStoppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_egress_stopped_total",
		Help: "Total number of derived-output jobs stopped",
	})
	webhookRejectedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castkeep_webhook_rejected_total",
		Help: "Total number of webhook deliveries rejected before processing",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "castkeep_active_sessions",
		Help: "Number of currently registered broadcast sessions",
	})
	activeEgresses := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "castkeep_active_egresses",
		Help: "Number of rooms with a running derived-output job",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		publishesTotal,
		recordingsSavedTotal,
		recordingsFailedTotal,
		egressStartedTotal,
		egressStoppedTotal,
		webhookRejectedTotal,
		activeSessions,
		activeEgresses,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		errorsTotal:           errorsTotal,
		publishesTotal:        publishesTotal,
		recordingsSavedTotal:  recordingsSavedTotal,
		recordingsFailedTotal: recordingsFailedTotal,
		egressStartedTotal:    egressStartedTotal,
		egressStoppedTotal:    egressStoppedTotal,
		webhookRejectedTotal:  webhookRejectedTotal,
		activeSessions:        activeSessions,
		activeEgresses:        activeEgresses,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the error response counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncPublishes increments the admitted publish counter.
func (m *Metrics) IncPublishes() { m.publishesTotal.Inc() }

// IncRecordingsSaved increments the persisted recordings counter.
func (m *Metrics) IncRecordingsSaved() { m.recordingsSavedTotal.Inc() }

// IncRecordingsFailed increments the failed recordings counter.
func (m *Metrics) IncRecordingsFailed() { m.recordingsFailedTotal.Inc() }

// IncEgressStarted increments the started egress counter.
func (m *Metrics) IncEgressStarted() { m.egressStartedTotal.Inc() }

// IncEgressStopped increments the stopped egress counter.
func (m *Metrics) IncEgressStopped() { m.egressStoppedTotal.Inc() }

// IncWebhookRejected increments the rejected webhook counter.
func (m *Metrics) IncWebhookRejected() { m.webhookRejectedTotal.Inc() }

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// SetActiveEgresses sets the active egresses gauge.
func (m *Metrics) SetActiveEgresses(n int) { m.activeEgresses.Set(float64(n)) }

// Handler returns an http.Handler serving the Prometheus scrape endpoint.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
