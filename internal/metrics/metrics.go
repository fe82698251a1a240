package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Connectivity
	Connected        atomic.Uint64 // 0 = disconnected, 1 = connected
	HealthChecksOK   atomic.Uint64
	HealthChecksFail atomic.Uint64

	// Store
	StoreRevision   atomic.Uint64
	StaleDiscarded  atomic.Uint64
	AlertsReceived  atomic.Uint64
	ArchiveSamples  atomic.Uint64
	ArchiveFailures atomic.Uint64

	// Stream control
	StreamStarts        atomic.Uint64
	StreamStartFailures atomic.Uint64
	StreamStops         atomic.Uint64
	StreamStopFailures  atomic.Uint64

	// Push clients
	SSEClients         atomic.Uint64
	WebSocketClients   atomic.Uint64
	DataChannelClients atomic.Uint64

	// MJPEG relay
	RelayFrames        atomic.Uint64
	RelayFramesDropped atomic.Uint64
	RelayErrors        atomic.Uint64

	polls *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("dashboard_backend_connected", "Backend connection state (0=disconnected, 1=connected)", &m.Connected)
	m.gauge("dashboard_health_checks_ok_total", "Successful backend health checks", &m.HealthChecksOK)
	m.gauge("dashboard_health_checks_failed_total", "Failed backend health checks", &m.HealthChecksFail)

	m.gauge("dashboard_store_revision", "Current view model revision", &m.StoreRevision)
	m.gauge("dashboard_stale_completions_total", "Feed completions discarded as out of date", &m.StaleDiscarded)
	m.gauge("dashboard_alerts_received_total", "Alerts received from the broker", &m.AlertsReceived)
	m.gauge("dashboard_archive_samples_total", "Samples written to the archive", &m.ArchiveSamples)
	m.gauge("dashboard_archive_failures_total", "Failed archive writes", &m.ArchiveFailures)

	m.gauge("dashboard_stream_starts_total", "Successful stream starts", &m.StreamStarts)
	m.gauge("dashboard_stream_start_failures_total", "Failed stream starts", &m.StreamStartFailures)
	m.gauge("dashboard_stream_stops_total", "Successful stream stops", &m.StreamStops)
	m.gauge("dashboard_stream_stop_failures_total", "Failed stream stops", &m.StreamStopFailures)

	m.gauge("dashboard_sse_clients", "Connected SSE clients", &m.SSEClients)
	m.gauge("dashboard_websocket_clients", "Connected WebSocket clients", &m.WebSocketClients)
	m.gauge("dashboard_datachannel_clients", "Connected WebRTC data channel clients", &m.DataChannelClients)

	m.gauge("dashboard_relay_frames_total", "MJPEG frames relayed to clients", &m.RelayFrames)
	m.gauge("dashboard_relay_frames_dropped_total", "MJPEG frames dropped for slow clients", &m.RelayFramesDropped)
	m.gauge("dashboard_relay_errors_total", "Upstream video feed errors", &m.RelayErrors)

	m.polls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_feed_polls_total",
		Help: "Backend feed polls by feed and outcome",
	}, []string{"feed", "outcome"})
	m.registry.MustRegister(m.polls)
}

// ObservePoll counts one completed feed poll.
func (m *Metrics) ObservePoll(feed string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.polls.WithLabelValues(feed, outcome).Inc()
}

// ObserveHealth records one health check outcome.
func (m *Metrics) ObserveHealth(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.HealthChecksOK.Add(1)
		m.Connected.Store(1)
		return
	}
	m.HealthChecksFail.Add(1)
	m.Connected.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
