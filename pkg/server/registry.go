package server

import (
	"errors"
	"log/slog"
	"sync"

	"wavelink/pkg/model"
	"wavelink/pkg/protocol"
)

// ErrAlreadyOnline is returned by Add when the user already has a live
// session. Single session per user; the newcomer is rejected, never the
// incumbent.
var ErrAlreadyOnline = errors.New("server: user already connected")

// ErrNotAuthenticated is returned by SetPresence for an identity with no
// live session.
var ErrNotAuthenticated = errors.New("server: not authenticated")

// Registry tracks authenticated sessions. Snapshot order is insertion order,
// so every client sees the same roster ordering.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // userID -> session
	order    []string
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Add registers an authenticated session. Fails with ErrAlreadyOnline when
// the user is already present.
func (r *Registry) Add(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.UserID]; exists {
		return ErrAlreadyOnline
	}
	r.sessions[sess.UserID] = sess
	r.order = append(r.order, sess.UserID)
	r.log.Debug("session registered", "user", sess.UserID, "online", len(r.sessions))
	return nil
}

// Remove deregisters a session and returns it. Returns nil when the user is
// not present, so concurrent teardown paths converge on a single winner.
func (r *Registry) Remove(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	if !ok {
		return nil
	}
	delete(r.sessions, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Debug("session removed", "user", userID, "online", len(r.sessions))
	return sess
}

// Touch records liveness for userID. Silently a no-op when the identity is
// absent; a heartbeat racing an eviction is not an error.
func (r *Registry) Touch(userID string) {
	r.mu.RLock()
	sess := r.sessions[userID]
	r.mu.RUnlock()
	if sess != nil {
		sess.Touch()
	}
}

// SetPresence updates userID's presence and returns the prior state for
// change notification.
func (r *Registry) SetPresence(userID string, state model.PresenceState) (model.PresenceState, error) {
	r.mu.RLock()
	sess := r.sessions[userID]
	r.mu.RUnlock()
	if sess == nil {
		return "", ErrNotAuthenticated
	}
	prior := sess.Status()
	sess.SetStatus(state)
	return prior, nil
}

// Get retrieves a session by user ID, or nil.
func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns all live sessions in insertion order.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.sessions))
	for _, id := range r.order {
		if sess, ok := r.sessions[id]; ok {
			result = append(result, sess)
		}
	}
	return result
}

// Roster returns the current online users as wire entries, in insertion
// order. excludeID is omitted (pass "" to include everyone).
func (r *Registry) Roster(excludeID string) []protocol.OnlineUser {
	sessions := r.Snapshot()
	roster := make([]protocol.OnlineUser, 0, len(sessions))
	for _, sess := range sessions {
		if sess.UserID == excludeID {
			continue
		}
		roster = append(roster, protocol.OnlineUser{
			UserID:   sess.UserID,
			Username: sess.Username,
			Status:   sess.Status(),
		})
	}
	return roster
}

// Broadcast encodes msg once and queues it to every session except
// excludeID (pass "" to reach everyone). Returns how many sessions accepted
// the message.
func (r *Registry) Broadcast(msg protocol.ServerMessage, excludeID string) int {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		r.log.Error("encode broadcast", "err", err)
		return 0
	}
	delivered := 0
	for _, sess := range r.Snapshot() {
		if sess.UserID == excludeID {
			continue
		}
		if sess.Send(data) {
			delivered++
		} else {
			r.log.Warn("broadcast dropped, send buffer full", "user", sess.UserID)
		}
	}
	return delivered
}
