// Package metrics holds the Prometheus instruments of the vision link client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Disconnect reasons.
const (
	ReasonIOError  = "io_error"
	ReasonFraming  = "framing"
	ReasonIdle     = "idle_timeout"
	ReasonEndpoint = "endpoint_changed"
	ReasonPeer     = "peer_closed"
	ReasonShutdown = "shutdown"
)

var (
	ConnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionlink_connect_attempts_total",
		Help: "Total number of connection attempts to the vision device",
	})

	ConnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionlink_connect_failures_total",
		Help: "Total number of failed connection attempts",
	})

	DisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionlink_disconnects_total",
		Help: "Total number of torn-down connections by reason",
	}, []string{"reason"})

	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionlink_connection_state",
		Help: "Connection state (0=absent, 1=connecting, 2=open)",
	})

	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionlink_messages_received_total",
		Help: "Total number of envelopes decoded from the device by type",
	}, []string{"type"})

	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionlink_messages_sent_total",
		Help: "Total number of envelopes written to the device by type",
	}, []string{"type"})

	MessagesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visionlink_messages_dropped_total",
		Help: "Total number of messages dropped by reason",
	}, []string{"reason"})

	BytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionlink_bytes_received_total",
		Help: "Total number of bytes read from the device",
	})

	BytesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionlink_bytes_sent_total",
		Help: "Total number of bytes written to the device",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "visionlink_queue_depth",
		Help: "Number of messages waiting in the link queues",
	}, []string{"direction"})
)

// IncDisconnect records a torn-down connection.
func IncDisconnect(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	DisconnectsTotal.WithLabelValues(reason).Inc()
}

// IncDropped records a message that never reached its consumer.
func IncDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	MessagesDroppedTotal.WithLabelValues(reason).Inc()
}
