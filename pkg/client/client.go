package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"wavelink/pkg/model"
	"wavelink/pkg/protocol"
)

// Config configures a Client.
type Config struct {
	ServerURL string
	Username  string
	STUNURL   string

	// Overrides for tests. Zero values select production defaults.
	Dial              DialFunc
	Factory           MediaLinkFactory
	Backoff           time.Duration
	HeartbeatInterval time.Duration
}

// Client is the headless wavelink client: it keeps a presence view of who
// is online and negotiates an audio link with every online peer.
type Client struct {
	sup  *Supervisor
	orch *Orchestrator
	log  *slog.Logger

	mu     sync.Mutex
	selfID string
	peers  map[string]protocol.OnlineUser

	// OnPresenceChanged fires after any roster or status update. May be nil.
	OnPresenceChanged func()
}

// New assembles a client. Connect starts it.
func New(cfg Config) *Client {
	log := slog.Default()
	c := &Client{
		log:   log,
		peers: make(map[string]protocol.OnlineUser),
	}

	factory := cfg.Factory
	if factory == nil {
		factory = NewMediaFactory(cfg.STUNURL)
	}

	c.sup = NewSupervisor(SupervisorConfig{
		URL:               cfg.ServerURL,
		Username:          cfg.Username,
		Backoff:           cfg.Backoff,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Dial:              cfg.Dial,
	}, log.With("component", "supervisor"))

	c.orch = NewOrchestrator(c.sup.SendSignal, factory, log.With("component", "negotiator"))

	c.sup.OnConnect = func() {
		// Nothing negotiated before this connection is trustworthy.
		c.orch.Reset()
		c.mu.Lock()
		c.peers = make(map[string]protocol.OnlineUser)
		c.mu.Unlock()
	}
	c.sup.OnMessage = c.route
	return c
}

// Connect dials the server and authenticates.
func (c *Client) Connect(ctx context.Context) error {
	return c.sup.Connect(ctx)
}

// Disconnect shuts the client down cleanly: peers are released and no
// reconnect is attempted.
func (c *Client) Disconnect() {
	c.sup.Disconnect()
	c.orch.Reset()
}

// SetStatus publishes a presence change.
func (c *Client) SetStatus(status model.PresenceState) error {
	return c.sup.Send(protocol.StatusChange{Status: string(status)})
}

// Peers returns the current presence view sorted by identity.
func (c *Client) Peers() []protocol.OnlineUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.OnlineUser, 0, len(c.peers))
	for _, u := range c.peers {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SelfID returns the identity the server acknowledged, or "" before auth.
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Supervisor exposes the transport supervisor, mainly for state inspection.
func (c *Client) Supervisor() *Supervisor {
	return c.sup
}

// Orchestrator exposes the negotiation orchestrator.
func (c *Client) Orchestrator() *Orchestrator {
	return c.orch
}

func (c *Client) route(msg protocol.ServerMessage) {
	ctx := context.Background()
	switch m := msg.(type) {
	case protocol.AuthSuccess:
		c.mu.Lock()
		c.selfID = m.UserID
		for _, u := range m.OnlineUsers {
			c.peers[u.UserID] = u
		}
		c.mu.Unlock()
		c.log.Info("authenticated", "user", m.UserID, "online_peers", len(m.OnlineUsers))
		c.orch.HandleRoster(m.OnlineUsers)
		c.notifyPresence()

	case protocol.UserJoined:
		c.mu.Lock()
		c.peers[m.UserID] = protocol.OnlineUser{
			UserID:   m.UserID,
			Username: m.Username,
			Status:   model.PresenceOnline,
		}
		c.mu.Unlock()
		c.log.Info("peer joined", "peer", m.UserID)
		c.orch.HandleUserJoined(ctx, m.UserID)
		c.notifyPresence()

	case protocol.UserLeft:
		c.mu.Lock()
		delete(c.peers, m.UserID)
		c.mu.Unlock()
		c.log.Info("peer left", "peer", m.UserID)
		c.orch.HandleUserLeft(m.UserID)
		c.notifyPresence()

	case protocol.UserStatusChanged:
		c.mu.Lock()
		if u, ok := c.peers[m.UserID]; ok {
			u.Status = m.Status
			c.peers[m.UserID] = u
		}
		c.mu.Unlock()
		c.notifyPresence()

	case protocol.SignalRelay:
		c.orch.HandleSignal(ctx, m.FromUserID, m.Signal)

	case protocol.HeartbeatAck:
		// Liveness is tracked server-side; nothing to do.

	case protocol.ErrorReply:
		c.log.Warn("server error", "error", m.Error, "reset_in", m.ResetIn)
	}
}

func (c *Client) notifyPresence() {
	if c.OnPresenceChanged != nil {
		c.OnPresenceChanged()
	}
}
