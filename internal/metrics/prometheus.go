package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handshake outcomes used as the "outcome" label
const (
	OutcomeAccepted        = "accepted"
	OutcomeSuperseded      = "superseded"
	OutcomeProtocolError   = "protocol_error"
	OutcomeReconnectDenied = "reconnect_disabled"
	OutcomeAddressMismatch = "address_mismatch"
	OutcomeStopped         = "stopped"
)

// Reasons a handshake datagram never reached the validator
const (
	DropRateLimited = "rate_limited"
	DropQueueFull   = "queue_full"
)

// Metrics contains all Prometheus metrics for the robot front-end
type Metrics struct {
	// UDP datagram metrics
	DatagramsReceived  prometheus.Counter
	DatagramsRouted    prometheus.Counter
	DatagramsTruncated prometheus.Counter
	HandshakeQueueSize prometheus.Gauge
	SendErrors         prometheus.Counter

	// Handshake metrics
	HandshakeAttempts *prometheus.CounterVec
	HandshakesDropped *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram

	// Session metrics
	ActiveClients        *prometheus.GaugeVec
	SessionsCreated      *prometheus.CounterVec
	SessionsDisconnected *prometheus.CounterVec
	SessionDuration      prometheus.Histogram
	StreamFramesReceived *prometheus.CounterVec
	JournalEventsDropped prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// creates unregistered collectors, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "eyerobot_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "eyerobot_datagrams_routed_total",
			Help: "Total number of UDP datagrams routed to an established session",
		}),
		DatagramsTruncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "eyerobot_datagrams_truncated_total",
			Help: "Total number of UDP datagrams that filled the receive buffer",
		}),
		HandshakeQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eyerobot_handshake_queue_size",
			Help: "Current number of handshake datagrams waiting for a worker",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "eyerobot_send_errors_total",
			Help: "Total number of failed UDP sends",
		}),

		HandshakeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eyerobot_handshake_attempts_total",
			Help: "Total number of handshake attempts by outcome",
		}, []string{"outcome"}),
		HandshakesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eyerobot_handshakes_dropped_total",
			Help: "Total number of handshake datagrams dropped before validation",
		}, []string{"reason"}),
		HandshakeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eyerobot_handshake_duration_seconds",
			Help:    "Time spent validating handshakes",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us to ~160ms
		}),

		ActiveClients: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eyerobot_active_clients",
			Help: "Current number of connected clients by transport",
		}, []string{"transport"}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eyerobot_sessions_created_total",
			Help: "Total number of sessions created by transport",
		}, []string{"transport"}),
		SessionsDisconnected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eyerobot_sessions_disconnected_total",
			Help: "Total number of sessions disconnected by transport",
		}, []string{"transport"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eyerobot_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),
		StreamFramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eyerobot_stream_frames_received_total",
			Help: "Total number of frames received on the reliable transport",
		}, []string{"type"}),
		JournalEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "eyerobot_journal_events_dropped_total",
			Help: "Total number of session events dropped by a full journal queue",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eyerobot_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eyerobot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eyerobot_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagramReceived increments the datagrams received counter
func (m *Metrics) RecordDatagramReceived(truncated bool) {
	m.DatagramsReceived.Inc()
	if truncated {
		m.DatagramsTruncated.Inc()
	}
}

// RecordDatagramRouted increments the fast-path counter
func (m *Metrics) RecordDatagramRouted() {
	m.DatagramsRouted.Inc()
}

// SetHandshakeQueueSize sets the current handshake queue depth
func (m *Metrics) SetHandshakeQueueSize(size int) {
	m.HandshakeQueueSize.Set(float64(size))
}

// RecordSendError increments the send errors counter
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// RecordHandshake records a handshake outcome and how long validation took
func (m *Metrics) RecordHandshake(outcome string, durationSeconds float64) {
	m.HandshakeAttempts.WithLabelValues(outcome).Inc()
	m.HandshakeDuration.Observe(durationSeconds)
}

// RecordHandshakeDropped records a handshake datagram shed before validation
func (m *Metrics) RecordHandshakeDropped(reason string) {
	m.HandshakesDropped.WithLabelValues(reason).Inc()
}

// RecordSessionCreated increments the created counter and active gauge
func (m *Metrics) RecordSessionCreated(transport string) {
	m.SessionsCreated.WithLabelValues(transport).Inc()
	m.ActiveClients.WithLabelValues(transport).Inc()
}

// RecordSessionDisconnected decrements the active gauge and records duration
func (m *Metrics) RecordSessionDisconnected(transport string, durationSeconds float64) {
	m.SessionsDisconnected.WithLabelValues(transport).Inc()
	m.ActiveClients.WithLabelValues(transport).Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStreamFrame counts an inbound frame by type name
func (m *Metrics) RecordStreamFrame(frameType string) {
	m.StreamFramesReceived.WithLabelValues(frameType).Inc()
}

// RecordJournalDrop counts a journal event dropped on a full queue
func (m *Metrics) RecordJournalDrop() {
	m.JournalEventsDropped.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
