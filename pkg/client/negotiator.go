package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"wavelink/pkg/protocol"
)

// SignalSender relays an encoded negotiation payload to one peer. The
// Supervisor provides it; a send failure is surfaced locally, never thrown
// across the boundary.
type SignalSender func(targetID string, payload json.RawMessage) error

// Orchestrator drives one PeerLink state machine per remote identity.
// Initiation follows a fixed convention: the side that was already online
// offers to the joiner; the joiner only ever answers. Both sides deriving
// the role from the same join event is what makes offer collisions
// impossible without extra protocol.
type Orchestrator struct {
	send    SignalSender
	factory MediaLinkFactory
	log     *slog.Logger

	mu    sync.Mutex
	links map[string]*PeerLink

	// OnPeerConnected and OnPeerDisconnected notify the presence UI. Both
	// may be nil.
	OnPeerConnected    func(remoteID string)
	OnPeerDisconnected func(remoteID string)
}

// NewOrchestrator creates an orchestrator with no active links.
func NewOrchestrator(send SignalSender, factory MediaLinkFactory, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		send:    send,
		factory: factory,
		log:     log,
		links:   make(map[string]*PeerLink),
	}
}

// Link returns the live PeerLink for remoteID, or nil.
func (o *Orchestrator) Link(remoteID string) *PeerLink {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.links[remoteID]
}

// HandleRoster records the peers already online when we joined. As the
// joiner we create idle links and wait for their offers.
func (o *Orchestrator) HandleRoster(users []protocol.OnlineUser) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, u := range users {
		if _, ok := o.links[u.UserID]; !ok {
			o.links[u.UserID] = newPeerLink(u.UserID)
		}
	}
}

// HandleUserJoined reacts to a peer joining after us. We are the incumbent,
// so we initiate the offer.
func (o *Orchestrator) HandleUserJoined(ctx context.Context, remoteID string) {
	link := o.freshLink(remoteID)

	media, err := o.factory(o.mediaEvents(remoteID))
	if err != nil {
		o.log.Error("create media link", "peer", remoteID, "err", err)
		o.dropLink(remoteID)
		return
	}

	offer, err := link.initiate(ctx, media)
	if err != nil {
		o.log.Error("initiate negotiation", "peer", remoteID, "err", err)
		_ = media.Close()
		o.dropLink(remoteID)
		return
	}

	payload, err := protocol.OfferPayload(offer)
	if err != nil {
		o.log.Error("encode offer", "peer", remoteID, "err", err)
		o.dropLink(remoteID)
		return
	}
	if err := o.send(remoteID, payload); err != nil {
		o.log.Error("send offer", "peer", remoteID, "err", err)
		o.dropLink(remoteID)
	}
}

// HandleUserLeft tears the peer's link down. A later rejoin starts fresh.
func (o *Orchestrator) HandleUserLeft(remoteID string) {
	o.dropLink(remoteID)
}

// HandleSignal dispatches one relayed negotiation payload from a peer.
// Failures terminate only the affected link.
func (o *Orchestrator) HandleSignal(ctx context.Context, fromID string, raw json.RawMessage) {
	payload, err := protocol.ParseSignalPayload(raw)
	if err != nil {
		o.log.Warn("undecodable signal", "peer", fromID, "err", err)
		return
	}

	switch payload.Type {
	case protocol.SignalOffer:
		o.handleOffer(ctx, fromID, payload.Offer)
	case protocol.SignalAnswer:
		o.handleAnswer(ctx, fromID, payload.Answer)
	case protocol.SignalCandidate:
		o.handleCandidate(fromID, payload.Candidate)
	default:
		o.log.Warn("unknown signal kind", "peer", fromID, "kind", payload.Type)
	}
}

func (o *Orchestrator) handleOffer(ctx context.Context, fromID string, offer json.RawMessage) {
	link := o.ensureLink(fromID)
	if link.State() != LinkIdle {
		o.log.Warn("offer ignored", "peer", fromID, "state", link.State())
		return
	}

	media, err := o.factory(o.mediaEvents(fromID))
	if err != nil {
		o.log.Error("create media link", "peer", fromID, "err", err)
		o.dropLink(fromID)
		return
	}

	answer, err := link.acceptOffer(ctx, media, offer)
	if err != nil {
		o.log.Error("accept offer", "peer", fromID, "err", err)
		_ = media.Close()
		o.dropLink(fromID)
		return
	}

	payload, err := protocol.AnswerPayload(answer)
	if err != nil {
		o.log.Error("encode answer", "peer", fromID, "err", err)
		o.dropLink(fromID)
		return
	}
	if err := o.send(fromID, payload); err != nil {
		o.log.Error("send answer", "peer", fromID, "err", err)
		o.dropLink(fromID)
	}
}

func (o *Orchestrator) handleAnswer(ctx context.Context, fromID string, answer json.RawMessage) {
	link := o.Link(fromID)
	if link == nil {
		o.log.Warn("answer from unknown peer", "peer", fromID)
		return
	}
	if err := link.acceptAnswer(ctx, answer); err != nil {
		o.log.Error("accept answer", "peer", fromID, "err", err)
		o.dropLink(fromID)
	}
}

func (o *Orchestrator) handleCandidate(fromID string, candidate json.RawMessage) {
	link := o.Link(fromID)
	if link == nil {
		o.log.Debug("candidate from unknown peer", "peer", fromID)
		return
	}
	if err := link.addCandidate(candidate); err != nil {
		o.log.Warn("apply candidate", "peer", fromID, "err", err)
	}
}

// Reset tears down every link. Called when the transport reconnects; no
// negotiation state survives a reconnect.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	links := o.links
	o.links = make(map[string]*PeerLink)
	o.mu.Unlock()

	for _, link := range links {
		link.close()
	}
}

// mediaEvents wires media-layer callbacks for one peer.
func (o *Orchestrator) mediaEvents(remoteID string) MediaEvents {
	return MediaEvents{
		OnCandidate: func(candidate json.RawMessage) {
			payload, err := protocol.CandidatePayload(candidate)
			if err != nil {
				o.log.Error("encode candidate", "peer", remoteID, "err", err)
				return
			}
			if err := o.send(remoteID, payload); err != nil {
				o.log.Warn("send candidate", "peer", remoteID, "err", err)
			}
		},
		OnConnected: func() {
			if link := o.Link(remoteID); link != nil {
				link.markConnected()
			}
			o.log.Info("peer link established", "peer", remoteID)
			if o.OnPeerConnected != nil {
				o.OnPeerConnected(remoteID)
			}
		},
		OnFailed: func() {
			o.log.Warn("peer link failed", "peer", remoteID)
			o.dropLink(remoteID)
		},
	}
}

// ensureLink returns the existing link for remoteID or creates an idle one.
func (o *Orchestrator) ensureLink(remoteID string) *PeerLink {
	o.mu.Lock()
	defer o.mu.Unlock()
	if link, ok := o.links[remoteID]; ok {
		return link
	}
	link := newPeerLink(remoteID)
	o.links[remoteID] = link
	return link
}

// freshLink replaces any existing link for remoteID with a new idle one.
func (o *Orchestrator) freshLink(remoteID string) *PeerLink {
	o.mu.Lock()
	old := o.links[remoteID]
	link := newPeerLink(remoteID)
	o.links[remoteID] = link
	o.mu.Unlock()

	if old != nil {
		old.close()
	}
	return link
}

// dropLink closes and forgets the link for remoteID, notifying the UI if a
// link actually existed.
func (o *Orchestrator) dropLink(remoteID string) {
	o.mu.Lock()
	link := o.links[remoteID]
	delete(o.links, remoteID)
	o.mu.Unlock()

	if link == nil {
		return
	}
	link.close()
	if o.OnPeerDisconnected != nil {
		o.OnPeerDisconnected(remoteID)
	}
}
