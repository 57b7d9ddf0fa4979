package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recording
// orchestrator.
type Metrics struct {
	registry                 *prometheus.Registry
	requestsTotal            prometheus.Counter
	errorsTotal              prometheus.Counter
	recordingsStartedTotal   prometheus.Counter
	recordingsStoppedTotal   prometheus.Counter
	recordingsDiscardedTotal prometheus.Counter
	deviceReconnectsTotal    prometheus.Counter
	recordingActive          prometheus.Gauge
	overlaySubscribers       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framecast_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framecast_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	recordingsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framecast_recordings_started_total",
		Help: "Total number of recordings started (including transitions and resumes)",
	})
	recordingsStoppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framecast_recordings_stopped_total",
		Help: "Total number of recordings stopped and kept",
	})
	recordingsDiscardedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framecast_recordings_discarded_total",
		Help: "Total number of recordings discarded",
	})
	deviceReconnectsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framecast_device_reconnects_total",
		Help: "Total number of successful device (OBS) connections",
	})
	recordingActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "framecast_recording_active",
		Help: "1 while a recording is in flight, else 0",
	})
	overlaySubscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "framecast_overlay_subscribers",
		Help: "Number of attached overlay event-stream subscribers",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		recordingsStartedTotal,
		recordingsStoppedTotal,
		recordingsDiscardedTotal,
		deviceReconnectsTotal,
		recordingActive,
		overlaySubscribers,
	)

	return &Metrics{
		registry:                 registry,
		requestsTotal:            requestsTotal,
		errorsTotal:              errorsTotal,
		recordingsStartedTotal:   recordingsStartedTotal,
		recordingsStoppedTotal:   recordingsStoppedTotal,
		recordingsDiscardedTotal: recordingsDiscardedTotal,
		deviceReconnectsTotal:    deviceReconnectsTotal,
		recordingActive:          recordingActive,
		overlaySubscribers:       overlaySubscribers,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncRecordingsStarted increments the recordings started counter.
func (m *Metrics) IncRecordingsStarted() {
	m.recordingsStartedTotal.Inc()
}

// IncRecordingsStopped increments the recordings stopped counter.
func (m *Metrics) IncRecordingsStopped() {
	m.recordingsStoppedTotal.Inc()
}

// IncRecordingsDiscarded increments the recordings discarded counter.
func (m *Metrics) IncRecordingsDiscarded() {
	m.recordingsDiscardedTotal.Inc()
}

// IncDeviceReconnects increments the device reconnect counter.
func (m *Metrics) IncDeviceReconnects() {
	m.deviceReconnectsTotal.Inc()
}

// SetRecordingActive sets the active-recording gauge.
func (m *Metrics) SetRecordingActive(active bool) {
	if active {
		m.recordingActive.Set(1)
		return
	}
	m.recordingActive.Set(0)
}

// SetOverlaySubscribers sets the overlay subscriber gauge.
func (m *Metrics) SetOverlaySubscribers(n int) {
	m.overlaySubscribers.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. subscriber counts).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
