package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime stream connections accepted
	ActiveConnections atomic.Int64 // current open stream connections
	HandshakeFailures atomic.Int64 // stream handshakes rejected or abandoned
	TotalDisconnects  atomic.Int64 // stream connections closed

	// Datagram counters
	DatagramsIn       atomic.Int64 // frames received
	DatagramsRejected atomic.Int64 // malformed or refused frames

	// Routing counters
	PublicMessages    atomic.Int64 // public broadcasts routed
	PrivateMessages   atomic.Int64 // private messages routed (test pings included)
	MessagesDelivered atomic.Int64 // successful endpoint sends
	DeliveryFailures  atomic.Int64 // failed endpoint sends
	EndpointsPruned   atomic.Int64 // stream entries removed after a failed send
	UnknownTargets    atomic.Int64 // private messages to names not online
	MalformedCommands atomic.Int64 // "@" commands without target or body

	// Presence counters
	Joins       atomic.Int64
	Leaves      atomic.Int64
	Expirations atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	HandshakeFailures int64 `json:"handshake_failures"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	DatagramsIn       int64 `json:"datagrams_in"`
	DatagramsRejected int64 `json:"datagrams_rejected"`

	PublicMessages    int64 `json:"public_messages"`
	PrivateMessages   int64 `json:"private_messages"`
	MessagesDelivered int64 `json:"messages_delivered"`
	DeliveryFailures  int64 `json:"delivery_failures"`
	EndpointsPruned   int64 `json:"endpoints_pruned"`
	UnknownTargets    int64 `json:"unknown_targets"`
	MalformedCommands int64 `json:"malformed_commands"`

	Joins       int64 `json:"joins"`
	Leaves      int64 `json:"leaves"`
	Expirations int64 `json:"expirations"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		HandshakeFailures: m.HandshakeFailures.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		DatagramsIn:       m.DatagramsIn.Load(),
		DatagramsRejected: m.DatagramsRejected.Load(),
		PublicMessages:    m.PublicMessages.Load(),
		PrivateMessages:   m.PrivateMessages.Load(),
		MessagesDelivered: m.MessagesDelivered.Load(),
		DeliveryFailures:  m.DeliveryFailures.Load(),
		EndpointsPruned:   m.EndpointsPruned.Load(),
		UnknownTargets:    m.UnknownTargets.Load(),
		MalformedCommands: m.MalformedCommands.Load(),
		Joins:             m.Joins.Load(),
		Leaves:            m.Leaves.Load(),
		Expirations:       m.Expirations.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"datagrams_in", s.DatagramsIn,
		"public_msgs", s.PublicMessages,
		"private_msgs", s.PrivateMessages,
		"delivery_failures", s.DeliveryFailures,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
