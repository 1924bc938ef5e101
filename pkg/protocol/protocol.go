// Package protocol defines the JSON message vocabulary exchanged over the
// websocket between clients and the coordination server.
//
// Every message is a single JSON object whose "type" field selects the kind.
// Each direction is modeled as a tagged variant (one concrete struct per
// kind behind a sealed interface) so dispatch sites can switch exhaustively
// instead of branching on raw strings.
package protocol

import (
	"encoding/json"
	"fmt"

	"wavelink/pkg/model"
)

// MaxMessageSize caps a single websocket message (offer/answer SDP payloads
// dominate; 1 MiB leaves generous headroom).
const MaxMessageSize = 1 << 20

// Client→server message kinds.
const (
	TypeAuth         = "auth"
	TypeHeartbeat    = "heartbeat"
	TypeStatusChange = "status_change"
	TypeSignal       = "signal"
)

// Server→client message kinds.
const (
	TypeAuthSuccess       = "auth_success"
	TypeError             = "error"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeUserStatusChanged = "user_status_changed"
	TypeSignalRelay       = "signal"
	TypeHeartbeatAck      = "heartbeat_ack"
)

// ClientMessage is a message sent by a client to the server.
type ClientMessage interface{ clientMessage() }

// Auth requests authentication for a registered username. Only valid as the
// first message on a connection.
type Auth struct {
	Username string `json:"username"`
}

// Heartbeat is the application-level liveness signal.
type Heartbeat struct{}

// StatusChange requests a presence change for the sender.
type StatusChange struct {
	Status string `json:"status"`
}

// Signal asks the server to relay an opaque negotiation payload to one peer.
// The server never inspects Signal.
type Signal struct {
	TargetUserID string          `json:"targetUserId"`
	Signal       json.RawMessage `json:"signal"`
}

// Unknown is produced for syntactically valid messages with an unrecognized
// type, so the router can answer without dropping the connection.
type Unknown struct {
	Type string `json:"type"`
}

func (Auth) clientMessage()         {}
func (Heartbeat) clientMessage()    {}
func (StatusChange) clientMessage() {}
func (Signal) clientMessage()       {}
func (Unknown) clientMessage()      {}

// ServerMessage is a message sent by the server to a client.
type ServerMessage interface{ serverMessage() }

// OnlineUser is one roster entry.
type OnlineUser struct {
	UserID   string              `json:"userId"`
	Username string              `json:"username"`
	Status   model.PresenceState `json:"status"`
}

// AuthSuccess acknowledges authentication and carries the current roster.
type AuthSuccess struct {
	UserID      string       `json:"userId"`
	Username    string       `json:"username"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
}

// ErrorReply reports a request failure. ResetIn is only set for rate-limit
// rejections (seconds until a slot frees).
type ErrorReply struct {
	Error   string `json:"error"`
	ResetIn int    `json:"resetIn,omitempty"`
}

// UserJoined announces a newly authenticated peer.
type UserJoined struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserLeft announces a departed peer.
type UserLeft struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserStatusChanged announces a presence change (sent to everyone including
// the originator, so client state converges idempotently).
type UserStatusChanged struct {
	UserID string              `json:"userId"`
	Status model.PresenceState `json:"status"`
}

// SignalRelay delivers an opaque negotiation payload from a peer.
type SignalRelay struct {
	FromUserID string          `json:"fromUserId"`
	Signal     json.RawMessage `json:"signal"`
}

// HeartbeatAck acknowledges an application heartbeat.
type HeartbeatAck struct{}

func (AuthSuccess) serverMessage()       {}
func (ErrorReply) serverMessage()        {}
func (UserJoined) serverMessage()        {}
func (UserLeft) serverMessage()          {}
func (UserStatusChanged) serverMessage() {}
func (SignalRelay) serverMessage()       {}
func (HeartbeatAck) serverMessage()      {}

// clientEnvelope is the superset of all client→server fields; used only for
// decoding the flat wire form.
type clientEnvelope struct {
	Type         string          `json:"type"`
	Username     string          `json:"username"`
	Status       string          `json:"status"`
	TargetUserID string          `json:"targetUserId"`
	Signal       json.RawMessage `json:"signal"`
}

// ParseClientMessage decodes one inbound wire message. Undecodable payloads
// return an error; well-formed messages of an unrecognized kind return
// Unknown so callers can reply without closing the transport.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("protocol: message too large: %d bytes", len(data))
	}
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	switch env.Type {
	case TypeAuth:
		return Auth{Username: env.Username}, nil
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeStatusChange:
		return StatusChange{Status: env.Status}, nil
	case TypeSignal:
		return Signal{TargetUserID: env.TargetUserID, Signal: env.Signal}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// EncodeClientMessage encodes an outbound client→server message to its flat
// wire form.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Auth:
		return marshalTagged(TypeAuth, m)
	case Heartbeat:
		return marshalTagged(TypeHeartbeat, m)
	case StatusChange:
		return marshalTagged(TypeStatusChange, m)
	case Signal:
		return marshalTagged(TypeSignal, m)
	default:
		return nil, fmt.Errorf("protocol: cannot encode client message %T", msg)
	}
}

// serverEnvelope is the superset of all server→client fields.
type serverEnvelope struct {
	Type        string          `json:"type"`
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	Status      string          `json:"status"`
	OnlineUsers []OnlineUser    `json:"onlineUsers"`
	Error       string          `json:"error"`
	ResetIn     int             `json:"resetIn"`
	FromUserID  string          `json:"fromUserId"`
	Signal      json.RawMessage `json:"signal"`
}

// ParseServerMessage decodes one server→client wire message.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("protocol: message too large: %d bytes", len(data))
	}
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	switch env.Type {
	case TypeAuthSuccess:
		users := env.OnlineUsers
		if users == nil {
			users = []OnlineUser{}
		}
		return AuthSuccess{UserID: env.UserID, Username: env.Username, OnlineUsers: users}, nil
	case TypeError:
		return ErrorReply{Error: env.Error, ResetIn: env.ResetIn}, nil
	case TypeUserJoined:
		return UserJoined{UserID: env.UserID, Username: env.Username}, nil
	case TypeUserLeft:
		return UserLeft{UserID: env.UserID, Username: env.Username}, nil
	case TypeUserStatusChanged:
		return UserStatusChanged{UserID: env.UserID, Status: model.PresenceState(env.Status)}, nil
	case TypeSignalRelay:
		return SignalRelay{FromUserID: env.FromUserID, Signal: env.Signal}, nil
	case TypeHeartbeatAck:
		return HeartbeatAck{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown server message type %q", env.Type)
	}
}

// EncodeServerMessage encodes an outbound server→client message to its flat
// wire form.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case AuthSuccess:
		if m.OnlineUsers == nil {
			m.OnlineUsers = []OnlineUser{}
		}
		return marshalTagged(TypeAuthSuccess, m)
	case ErrorReply:
		return marshalTagged(TypeError, m)
	case UserJoined:
		return marshalTagged(TypeUserJoined, m)
	case UserLeft:
		return marshalTagged(TypeUserLeft, m)
	case UserStatusChanged:
		return marshalTagged(TypeUserStatusChanged, m)
	case SignalRelay:
		return marshalTagged(TypeSignalRelay, m)
	case HeartbeatAck:
		return marshalTagged(TypeHeartbeatAck, m)
	default:
		return nil, fmt.Errorf("protocol: cannot encode server message %T", msg)
	}
}

// marshalTagged injects the type discriminator into a flat JSON object.
func marshalTagged(kind string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", kind, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", kind, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", kind))
	return json.Marshal(fields)
}
