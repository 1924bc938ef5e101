package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"wavelink/pkg/model"
	"wavelink/pkg/protocol"
)

// sendBufferSize bounds the per-session outbound queue. A client that stops
// reading loses broadcasts rather than stalling everyone else.
const sendBufferSize = 64

// Conn is the subset of *websocket.Conn the server uses. Tests substitute
// an in-memory implementation.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Session is one authenticated websocket connection.
type Session struct {
	UserID     string
	Username   string
	RemoteAddr string
	JoinedAt   time.Time

	conn Conn
	send chan []byte

	mu       sync.RWMutex
	status   model.PresenceState
	lastSeen time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wraps an authenticated connection. The caller must start the
// write pump with StartWriter.
func NewSession(conn Conn, userID, username, remoteAddr string) *Session {
	now := time.Now()
	return &Session{
		UserID:     userID,
		Username:   username,
		RemoteAddr: remoteAddr,
		JoinedAt:   now,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		status:     model.PresenceOnline,
		lastSeen:   now,
		done:       make(chan struct{}),
	}
}

// Status returns the session's current presence state.
func (s *Session) Status() model.PresenceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus records a presence change.
func (s *Session) SetStatus(status model.PresenceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Touch records liveness. Called on heartbeats and successful pings.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}

// LastSeen returns the time of the most recent liveness signal.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Send queues an encoded message for delivery. Returns false when the
// session's buffer is full or the session is closed; the message is dropped.
func (s *Session) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// SendMessage encodes and queues one server message.
func (s *Session) SendMessage(msg protocol.ServerMessage) bool {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		slog.Error("encode outbound message", "user", s.UserID, "err", err)
		return false
	}
	return s.Send(data)
}

// StartWriter drains the send queue onto the wire until the session closes
// or a write fails.
func (s *Session) StartWriter(ctx context.Context) {
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case data := <-s.send:
				writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				err := s.conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					slog.Debug("websocket write failed", "user", s.UserID, "err", err)
					s.Close(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()
}

// Ping probes the underlying connection.
func (s *Session) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close shuts the connection down exactly once.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close(code, reason)
	})
}

// Done is closed when the session has been shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
