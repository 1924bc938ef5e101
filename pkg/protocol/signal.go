package protocol

import (
	"encoding/json"
	"fmt"
)

// Negotiation payload kinds carried inside Signal.Signal. The server relays
// these byte-for-byte; only clients interpret them.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
)

// SignalPayload is the client-side view of one relayed negotiation message.
// Exactly one of Offer, Answer, or Candidate is set, matching Type.
type SignalPayload struct {
	Type      string          `json:"type"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ParseSignalPayload decodes a relayed negotiation payload.
func ParseSignalPayload(data []byte) (SignalPayload, error) {
	var sp SignalPayload
	if err := json.Unmarshal(data, &sp); err != nil {
		return SignalPayload{}, fmt.Errorf("protocol: decode signal payload: %w", err)
	}
	if sp.Type == "" {
		return SignalPayload{}, fmt.Errorf("protocol: signal payload missing type")
	}
	return sp, nil
}

// OfferPayload wraps a local offer description for relay.
func OfferPayload(offer json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(SignalPayload{Type: SignalOffer, Offer: offer})
}

// AnswerPayload wraps a local answer description for relay.
func AnswerPayload(answer json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(SignalPayload{Type: SignalAnswer, Answer: answer})
}

// CandidatePayload wraps a local ICE candidate for relay.
func CandidatePayload(candidate json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(SignalPayload{Type: SignalCandidate, Candidate: candidate})
}
