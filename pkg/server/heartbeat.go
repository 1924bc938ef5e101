package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"wavelink/pkg/logging"
	"wavelink/pkg/protocol"
)

// HeartbeatMonitor sweeps the registry and evicts sessions whose last
// liveness signal is older than the timeout. Survivors get a websocket ping;
// a pong counts as liveness, so a client with a healthy transport but a
// stalled application loop is still evicted eventually.
type HeartbeatMonitor struct {
	registry *Registry
	metrics  *Metrics
	timeout  time.Duration
	interval time.Duration
	log      *slog.Logger

	now func() time.Time
}

// NewHeartbeatMonitor creates a monitor. Start must be called to begin
// sweeping.
func NewHeartbeatMonitor(registry *Registry, metrics *Metrics, timeout, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry: registry,
		metrics:  metrics,
		timeout:  timeout,
		interval: interval,
		log:      logging.Component("heartbeat"),
		now:      time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (h *HeartbeatMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Sweep(ctx)
			}
		}
	}()
}

// Sweep evicts every timed-out session and pings the rest. Exported so tests
// can drive it without the ticker.
func (h *HeartbeatMonitor) Sweep(ctx context.Context) {
	deadline := h.now().Add(-h.timeout)
	for _, sess := range h.registry.Snapshot() {
		if sess.LastSeen().Before(deadline) {
			h.evict(sess)
			continue
		}
		go h.ping(ctx, sess)
	}
}

// evict removes a dead session and announces the departure. The registry
// removal is the single point of truth, so a session torn down concurrently
// by its read loop is not announced twice.
func (h *HeartbeatMonitor) evict(sess *Session) {
	removed := h.registry.Remove(sess.UserID)
	sess.Close(websocket.StatusGoingAway, "heartbeat timeout")
	if removed == nil {
		return
	}
	h.metrics.HeartbeatEvicted.Add(1)
	delivered := h.registry.Broadcast(protocol.UserLeft{
		UserID:   removed.UserID,
		Username: removed.Username,
	}, "")
	h.metrics.BroadcastsSent.Add(int64(delivered))
	h.log.Info("session evicted",
		"user", removed.UserID,
		"last_seen", removed.LastSeen(),
		"online", h.registry.Count(),
	)
}

// ping probes the transport. A reply refreshes liveness.
func (h *HeartbeatMonitor) ping(ctx context.Context, sess *Session) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sess.Ping(pingCtx); err != nil {
		h.log.Debug("ping failed", "user", sess.UserID, "err", err)
		return
	}
	sess.Touch()
}
