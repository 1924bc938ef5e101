package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DefaultSTUNURL is used when no STUN server is configured.
const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// rtcLink is the production MediaLink over a pion PeerConnection carrying a
// single bidirectional audio transceiver. Candidates trickle through the
// events callback as they are gathered.
type rtcLink struct {
	pc *webrtc.PeerConnection
}

// NewMediaFactory returns a MediaLinkFactory producing WebRTC audio links.
func NewMediaFactory(stunURL string) MediaLinkFactory {
	if stunURL == "" {
		stunURL = DefaultSTUNURL
	}
	return func(events MediaEvents) (MediaLink, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{stunURL}}},
		})
		if err != nil {
			return nil, fmt.Errorf("client: create peer connection: %w", err)
		}

		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("client: add audio transceiver: %w", err)
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || events.OnCandidate == nil {
				return
			}
			data, err := json.Marshal(c.ToJSON())
			if err != nil {
				return
			}
			events.OnCandidate(data)
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			switch state {
			case webrtc.PeerConnectionStateConnected:
				if events.OnConnected != nil {
					events.OnConnected()
				}
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
				if events.OnFailed != nil {
					events.OnFailed()
				}
			}
		})

		return &rtcLink{pc: pc}, nil
	}
}

func (l *rtcLink) CreateOffer(context.Context) (json.RawMessage, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("client: create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("client: set local offer: %w", err)
	}
	return json.Marshal(offer)
}

func (l *rtcLink) CreateAnswer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("client: decode offer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("client: set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("client: create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("client: set local answer: %w", err)
	}
	return json.Marshal(answer)
}

func (l *rtcLink) ApplyAnswer(_ context.Context, answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("client: decode answer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("client: set remote answer: %w", err)
	}
	return nil
}

func (l *rtcLink) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("client: decode candidate: %w", err)
	}
	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("client: add candidate: %w", err)
	}
	return nil
}

func (l *rtcLink) Close() error {
	return l.pc.Close()
}
