package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// LinkState is the negotiation state of one PeerLink.
type LinkState string

const (
	LinkIdle          LinkState = "idle"
	LinkOfferSent     LinkState = "offer-sent"
	LinkOfferReceived LinkState = "offer-received"
	LinkAnswerSent    LinkState = "answer-sent"
	LinkConnected     LinkState = "connected"
	LinkClosed        LinkState = "closed" // terminal; a rejoin gets a fresh link
)

// MediaEvents carries callbacks the media layer fires asynchronously.
type MediaEvents struct {
	// OnCandidate fires for each locally gathered ICE candidate, already
	// encoded for relay.
	OnCandidate func(candidate json.RawMessage)
	// OnConnected fires once the media channel is established.
	OnConnected func()
	// OnFailed fires when an established or in-progress channel breaks.
	OnFailed func()
}

// MediaLink abstracts one peer media connection. The production
// implementation wraps a WebRTC peer connection; tests substitute a fake.
type MediaLink interface {
	// CreateOffer produces the local offer description.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// ApplyAnswer applies the remote answer to a previously created offer.
	ApplyAnswer(ctx context.Context, answer json.RawMessage) error
	// AddCandidate applies one remote ICE candidate. Callers must only
	// invoke it after a remote description is set.
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// MediaLinkFactory builds a MediaLink wired to the given event callbacks.
type MediaLinkFactory func(events MediaEvents) (MediaLink, error)

// PeerLink tracks negotiation with one remote identity. All transitions are
// serialized by the link's mutex; events for different peers proceed
// independently.
type PeerLink struct {
	remoteID string

	mu            sync.Mutex
	state         LinkState
	media         MediaLink
	remoteDescSet bool
	pending       []json.RawMessage // candidates queued until a remote description exists
}

func newPeerLink(remoteID string) *PeerLink {
	return &PeerLink{remoteID: remoteID, state: LinkIdle}
}

// RemoteID returns the remote identity this link negotiates with.
func (p *PeerLink) RemoteID() string {
	return p.remoteID
}

// State returns the current negotiation state.
func (p *PeerLink) State() LinkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// initiate creates the local offer and moves idle -> offer-sent. Only the
// incumbent side of a join calls this.
func (p *PeerLink) initiate(ctx context.Context, media MediaLink) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != LinkIdle {
		return nil, fmt.Errorf("client: initiate from state %s", p.state)
	}
	offer, err := media.CreateOffer(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: create offer for %s: %w", p.remoteID, err)
	}
	p.media = media
	p.state = LinkOfferSent
	return offer, nil
}

// acceptOffer applies a remote offer and produces the answer, moving
// idle -> offer-received -> answer-sent.
func (p *PeerLink) acceptOffer(ctx context.Context, media MediaLink, offer json.RawMessage) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != LinkIdle {
		return nil, fmt.Errorf("client: offer in state %s", p.state)
	}
	p.state = LinkOfferReceived
	answer, err := media.CreateAnswer(ctx, offer)
	if err != nil {
		p.state = LinkIdle
		return nil, fmt.Errorf("client: answer offer from %s: %w", p.remoteID, err)
	}
	p.media = media
	p.remoteDescSet = true
	p.state = LinkAnswerSent
	p.flushPendingLocked()
	return answer, nil
}

// acceptAnswer applies a remote answer, moving offer-sent -> connected.
// "connected" here means negotiation is complete; the media channel reports
// its own establishment via MediaEvents.OnConnected.
func (p *PeerLink) acceptAnswer(ctx context.Context, answer json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != LinkOfferSent {
		return fmt.Errorf("client: answer in state %s", p.state)
	}
	if err := p.media.ApplyAnswer(ctx, answer); err != nil {
		return fmt.Errorf("client: apply answer from %s: %w", p.remoteID, err)
	}
	p.remoteDescSet = true
	p.state = LinkConnected
	p.flushPendingLocked()
	return nil
}

// addCandidate applies a remote candidate, or queues it until a remote
// description is set. Candidates legitimately race ahead of the offer or
// answer they belong to.
func (p *PeerLink) addCandidate(candidate json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == LinkClosed {
		return nil
	}
	if !p.remoteDescSet {
		p.pending = append(p.pending, candidate)
		return nil
	}
	if err := p.media.AddCandidate(candidate); err != nil {
		return fmt.Errorf("client: add candidate from %s: %w", p.remoteID, err)
	}
	return nil
}

func (p *PeerLink) flushPendingLocked() {
	for _, candidate := range p.pending {
		if err := p.media.AddCandidate(candidate); err != nil {
			// A single bad candidate does not sink the negotiation.
			continue
		}
	}
	p.pending = nil
}

// markConnected records the media layer's establishment signal.
func (p *PeerLink) markConnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == LinkAnswerSent || p.state == LinkOfferSent || p.state == LinkConnected {
		p.state = LinkConnected
	}
}

// close releases negotiation resources. Terminal and idempotent.
func (p *PeerLink) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == LinkClosed {
		return
	}
	p.state = LinkClosed
	p.pending = nil
	if p.media != nil {
		_ = p.media.Close()
		p.media = nil
	}
}

// pendingCount reports queued candidates. Used by tests and debug logging.
func (p *PeerLink) pendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
