package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"wavelink/pkg/model"
	"wavelink/pkg/protocol"
	"wavelink/pkg/ratelimit"
	"wavelink/pkg/userstore"
)

// maxWSMessageBytes caps a single inbound websocket frame.
const maxWSMessageBytes = protocol.MaxMessageSize

// Router owns the per-connection message loop: decode, rate limit, dispatch.
type Router struct {
	registry *Registry
	store    *userstore.Store
	limiter  *ratelimit.Limiter
	metrics  *Metrics
	log      *slog.Logger
}

// NewRouter wires the message loop to its collaborators.
func NewRouter(registry *Registry, store *userstore.Store, limiter *ratelimit.Limiter, metrics *Metrics, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry: registry,
		store:    store,
		limiter:  limiter,
		metrics:  metrics,
		log:      log,
	}
}

// Serve runs the read loop for one connection until it closes. remoteAddr is
// the client IP, used as the rate limit key until authentication succeeds.
func (rt *Router) Serve(ctx context.Context, conn Conn, remoteAddr string) {
	connID := uuid.NewString()
	log := rt.log.With("conn", connID[:8], "remote", remoteAddr)

	rt.metrics.TotalConnections.Add(1)
	rt.metrics.ActiveConnections.Add(1)
	defer rt.metrics.ActiveConnections.Add(-1)
	defer rt.metrics.TotalDisconnects.Add(1)

	var sess *Session
	defer func() {
		if sess != nil {
			rt.Disconnect(sess)
		} else {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("read loop ended", "err", err)
			return
		}
		rt.metrics.MessagesIn.Add(1)

		key := remoteAddr
		if sess != nil {
			key = sess.UserID
		}
		if res := rt.limiter.Check(key); !res.Allowed {
			rt.metrics.RateLimitRejected.Add(1)
			rt.reply(ctx, conn, sess, protocol.ErrorReply{
				Error:   "Too many messages",
				ResetIn: res.ResetIn,
			})
			continue
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			log.Debug("undecodable message", "err", err)
			rt.reply(ctx, conn, sess, protocol.ErrorReply{Error: "Invalid message"})
			continue
		}

		switch m := msg.(type) {
		case protocol.Auth:
			if sess != nil {
				rt.reply(ctx, conn, sess, protocol.ErrorReply{Error: "Already authenticated"})
				continue
			}
			newSess, err := rt.handleAuth(ctx, conn, remoteAddr, m)
			if err != nil {
				rt.metrics.FailedAuths.Add(1)
				log.Info("auth rejected", "username", m.Username, "reason", err)
				rt.reply(ctx, conn, nil, protocol.ErrorReply{Error: authErrorText(err)})
				_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
				return
			}
			sess = newSess
			log = log.With("user", sess.UserID)
			log.Info("user authenticated", "online", rt.registry.Count())

		case protocol.Heartbeat:
			if sess == nil {
				rt.replyNotAuthenticated(ctx, conn)
				continue
			}
			rt.registry.Touch(sess.UserID)
			sess.SendMessage(protocol.HeartbeatAck{})

		case protocol.StatusChange:
			if sess == nil {
				rt.replyNotAuthenticated(ctx, conn)
				continue
			}
			rt.handleStatusChange(sess, m)

		case protocol.Signal:
			if sess == nil {
				rt.replyNotAuthenticated(ctx, conn)
				continue
			}
			rt.handleSignal(sess, m)

		case protocol.Unknown:
			rt.reply(ctx, conn, sess, protocol.ErrorReply{Error: "Unknown message type"})
		}
	}
}

// handleAuth validates the username, enforces single-session, registers the
// session, and announces it. On success the returned session owns the
// connection's writes.
func (rt *Router) handleAuth(ctx context.Context, conn Conn, remoteAddr string, m protocol.Auth) (*Session, error) {
	username, err := model.NormalizeUsername(m.Username)
	if err != nil {
		return nil, err
	}

	exists, err := rt.store.Exists(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("server: lookup user: %w", err)
	}
	if !exists {
		return nil, errNotRegistered
	}

	sess := NewSession(conn, username, username, remoteAddr)
	if err := rt.registry.Add(sess); err != nil {
		return nil, err
	}

	if err := rt.store.TouchLogin(ctx, username); err != nil {
		rt.log.Warn("touch login failed", "user", username, "err", err)
	}

	sess.StartWriter(ctx)
	rt.metrics.SuccessfulAuths.Add(1)

	sess.SendMessage(protocol.AuthSuccess{
		UserID:      sess.UserID,
		Username:    sess.Username,
		OnlineUsers: rt.registry.Roster(sess.UserID),
	})

	delivered := rt.registry.Broadcast(protocol.UserJoined{
		UserID:   sess.UserID,
		Username: sess.Username,
	}, sess.UserID)
	rt.metrics.BroadcastsSent.Add(int64(delivered))

	return sess, nil
}

// handleStatusChange validates and applies a presence change, then announces
// it to everyone including the sender so client state converges.
func (rt *Router) handleStatusChange(sess *Session, m protocol.StatusChange) {
	status, err := model.ParsePresence(m.Status)
	if err != nil {
		sess.SendMessage(protocol.ErrorReply{Error: "Invalid status"})
		return
	}
	if _, err := rt.registry.SetPresence(sess.UserID, status); err != nil {
		// Evicted between read and dispatch; the close path handles cleanup.
		return
	}
	delivered := rt.registry.Broadcast(protocol.UserStatusChanged{
		UserID: sess.UserID,
		Status: status,
	}, "")
	rt.metrics.BroadcastsSent.Add(int64(delivered))
}

// handleSignal relays an opaque negotiation payload to the target. A missing
// target is not an error to the sender; the peer may have just left and the
// sender will learn that from user_left.
func (rt *Router) handleSignal(sess *Session, m protocol.Signal) {
	if m.TargetUserID == "" || len(m.Signal) == 0 {
		sess.SendMessage(protocol.ErrorReply{Error: "Invalid signal"})
		return
	}
	target := rt.registry.Get(m.TargetUserID)
	if target == nil {
		rt.metrics.SignalsDropped.Add(1)
		rt.log.Debug("signal dropped, target offline",
			"from", sess.UserID, "target", m.TargetUserID)
		return
	}
	target.SendMessage(protocol.SignalRelay{
		FromUserID: sess.UserID,
		Signal:     m.Signal,
	})
	rt.metrics.SignalsRelayed.Add(1)
}

// Disconnect tears a session down and announces the departure. Safe to call
// from multiple paths; only the caller that wins the registry removal
// broadcasts user_left.
func (rt *Router) Disconnect(sess *Session) {
	removed := rt.registry.Remove(sess.UserID)
	sess.Close(websocket.StatusNormalClosure, "")
	if removed == nil {
		return
	}
	delivered := rt.registry.Broadcast(protocol.UserLeft{
		UserID:   removed.UserID,
		Username: removed.Username,
	}, "")
	rt.metrics.BroadcastsSent.Add(int64(delivered))
	rt.log.Info("user disconnected", "user", removed.UserID, "online", rt.registry.Count())
}

// reply sends an error or ack on whichever path the connection state allows:
// through the session's write pump once authenticated, directly on the
// connection before that.
func (rt *Router) reply(ctx context.Context, conn Conn, sess *Session, msg protocol.ServerMessage) {
	if sess != nil {
		sess.SendMessage(msg)
		return
	}
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		rt.log.Error("encode reply", "err", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		rt.log.Debug("pre-auth reply failed", "err", err)
	}
}

func (rt *Router) replyNotAuthenticated(ctx context.Context, conn Conn) {
	rt.reply(ctx, conn, nil, protocol.ErrorReply{Error: "Not authenticated"})
}

var errNotRegistered = errors.New("server: user not registered")

// authErrorText maps an auth failure to the client-facing error string.
func authErrorText(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyOnline):
		return "User already connected"
	case errors.Is(err, errNotRegistered):
		return "User not registered"
	case errors.Is(err, model.ErrUsernameTooShort),
		errors.Is(err, model.ErrUsernameTooLong),
		errors.Is(err, model.ErrUsernameInvalidChars),
		errors.Is(err, model.ErrUsernameReserved):
		return "Invalid username"
	default:
		return "Authentication failed"
	}
}
