// Package client implements the wavelink client runtime: the websocket
// transport supervisor, the peer negotiation orchestrator, and the WebRTC
// media layer behind it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"wavelink/pkg/protocol"
)

// State is the supervisor's transport state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ErrNotConnected is returned by Send when no transport is open. Send never
// panics across the boundary; callers decide whether a failed send matters.
var ErrNotConnected = errors.New("client: not connected")

const (
	defaultBackoff           = 3 * time.Second
	defaultHeartbeatInterval = 25 * time.Second
)

// Conn is the subset of *websocket.Conn the supervisor uses. Tests
// substitute an in-memory implementation.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens one transport connection.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func defaultDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(protocol.MaxMessageSize)
	return conn, nil
}

// SupervisorConfig configures a Supervisor. Zero fields get defaults.
type SupervisorConfig struct {
	URL               string
	Username          string
	Backoff           time.Duration // delay before the single reconnect attempt
	HeartbeatInterval time.Duration
	Dial              DialFunc
}

// Supervisor owns exactly one transport connection at a time. On an unclean
// close (any code other than normal closure) it schedules exactly one
// reconnect attempt after a fixed backoff, re-authenticates, and resumes.
// A clean close never reconnects.
type Supervisor struct {
	cfg SupervisorConfig
	log *slog.Logger

	// OnMessage delivers every decoded server message. OnConnect fires
	// after each successful dial, before any message from that connection;
	// consumers treat all prior peer state as stale. OnState reports
	// transport state transitions. All may be nil.
	OnMessage func(protocol.ServerMessage)
	OnConnect func()
	OnState   func(State)

	mu             sync.Mutex
	state          State
	conn           Conn
	connDone       chan struct{} // closed when the current read loop exits
	reconnectTimer *time.Timer
	closed         bool
}

// NewSupervisor creates a supervisor in the disconnected state.
func NewSupervisor(cfg SupervisorConfig, log *slog.Logger) *Supervisor {
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:   cfg,
		log:   log,
		state: StateDisconnected,
	}
}

// State returns the current transport state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the server, authenticates, and starts the read and
// heartbeat loops. A dial failure from the reconnect path schedules no
// further attempts; the caller owns retry policy beyond the single backoff.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("client: supervisor is shut down")
	}
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("client: already connected")
	}
	notify := s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	notify()

	conn, err := s.cfg.Dial(ctx, s.cfg.URL)
	if err != nil {
		s.mu.Lock()
		notify = s.setStateLocked(StateDisconnected)
		s.mu.Unlock()
		notify()
		return fmt.Errorf("client: dial %s: %w", s.cfg.URL, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.connDone = done
	notify = s.setStateLocked(StateConnected)
	s.mu.Unlock()
	notify()

	if s.OnConnect != nil {
		s.OnConnect()
	}

	if err := s.Send(protocol.Auth{Username: s.cfg.Username}); err != nil {
		s.log.Error("send auth", "err", err)
	}

	go s.readLoop(conn, done)
	go s.heartbeatLoop(done)
	return nil
}

// Send encodes and writes one message on the current transport.
func (s *Supervisor) Send(msg protocol.ClientMessage) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return fmt.Errorf("client: encode: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// SendSignal relays a negotiation payload to one peer. Matches the
// SignalSender shape the Orchestrator expects.
func (s *Supervisor) SendSignal(targetID string, payload json.RawMessage) error {
	return s.Send(protocol.Signal{TargetUserID: targetID, Signal: payload})
}

// Disconnect closes the transport cleanly and cancels any pending
// reconnect. The supervisor cannot be reused afterwards.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	notify := s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	notify()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// readLoop delivers inbound messages until the transport fails or closes.
func (s *Supervisor) readLoop(conn Conn, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.handleClose(conn, err)
			return
		}
		msg, perr := protocol.ParseServerMessage(data)
		if perr != nil {
			s.log.Warn("undecodable server message", "err", perr)
			continue
		}
		if s.OnMessage != nil {
			s.OnMessage(msg)
		}
	}
}

// heartbeatLoop sends application heartbeats while the connection lives.
func (s *Supervisor) heartbeatLoop(done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.Send(protocol.Heartbeat{}); err != nil {
				s.log.Debug("heartbeat send failed", "err", err)
			}
		}
	}
}

// handleClose decides whether a transport loss warrants the single
// backoff-delayed reconnect attempt.
func (s *Supervisor) handleClose(conn Conn, err error) {
	code := websocket.CloseStatus(err)
	clean := code == websocket.StatusNormalClosure

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connDone = nil
	}
	if s.closed || clean {
		notify := s.setStateLocked(StateDisconnected)
		s.mu.Unlock()
		notify()
		s.log.Info("transport closed", "code", code)
		return
	}
	notify := s.scheduleReconnectLocked()
	s.mu.Unlock()
	notify()
	s.log.Warn("transport lost", "code", code, "err", err, "retry_in", s.cfg.Backoff)
}

// scheduleReconnectLocked arms the reconnect timer unless one is already
// pending. Exactly one timer exists at a time. Returns the deferred state
// notification like setStateLocked.
func (s *Supervisor) scheduleReconnectLocked() func() {
	if s.reconnectTimer != nil {
		return func() {}
	}
	notify := s.setStateLocked(StateReconnecting)
	s.reconnectTimer = time.AfterFunc(s.cfg.Backoff, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		if err := s.Connect(context.Background()); err != nil {
			s.log.Error("reconnect failed", "err", err)
			s.mu.Lock()
			notify := s.setStateLocked(StateDisconnected)
			s.mu.Unlock()
			notify()
		}
	})
	return notify
}

// setStateLocked records the transition and returns the OnState notification
// for the caller to run after releasing the lock, so handlers may call back
// into the supervisor freely.
func (s *Supervisor) setStateLocked(state State) func() {
	if s.state == state {
		return func() {}
	}
	s.state = state
	cb := s.OnState
	if cb == nil {
		return func() {}
	}
	return func() { cb(state) }
}
