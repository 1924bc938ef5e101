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
	TotalConnections  atomic.Int64 // lifetime websocket connections accepted
	ActiveConnections atomic.Int64 // current open websocket connections
	SuccessfulAuths   atomic.Int64 // successful authentication attempts
	FailedAuths       atomic.Int64 // failed authentication attempts
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)
	HeartbeatEvicted  atomic.Int64 // sessions evicted by the heartbeat monitor

	// Message counters
	MessagesIn        atomic.Int64 // inbound websocket messages parsed
	BroadcastsSent    atomic.Int64 // presence broadcasts fanned out
	SignalsRelayed    atomic.Int64 // negotiation payloads relayed
	SignalsDropped    atomic.Int64 // relays dropped (target offline)
	RateLimitRejected atomic.Int64 // requests and messages rejected by rate limiting
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
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`
	HeartbeatEvicted  int64 `json:"heartbeat_evicted"`

	MessagesIn        int64 `json:"messages_in"`
	BroadcastsSent    int64 `json:"broadcasts_sent"`
	SignalsRelayed    int64 `json:"signals_relayed"`
	SignalsDropped    int64 `json:"signals_dropped"`
	RateLimitRejected int64 `json:"rate_limit_rejected"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		HeartbeatEvicted:  m.HeartbeatEvicted.Load(),
		MessagesIn:        m.MessagesIn.Load(),
		BroadcastsSent:    m.BroadcastsSent.Load(),
		SignalsRelayed:    m.SignalsRelayed.Load(),
		SignalsDropped:    m.SignalsDropped.Load(),
		RateLimitRejected: m.RateLimitRejected.Load(),
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
		"auths", s.SuccessfulAuths,
		"evicted", s.HeartbeatEvicted,
		"signals_relayed", s.SignalsRelayed,
		"signals_dropped", s.SignalsDropped,
		"rate_limited", s.RateLimitRejected,
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
