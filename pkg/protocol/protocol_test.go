package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"wavelink/pkg/model"
)

func TestParseClientMessage(t *testing.T) {
	t.Parallel()

	type tcase struct {
		input   string
		want    ClientMessage
		wantErr bool
	}

	tcases := map[string]tcase{
		"auth": {
			input: `{"type":"auth","username":"alice"}`,
			want:  Auth{Username: "alice"},
		},
		"heartbeat": {
			input: `{"type":"heartbeat"}`,
			want:  Heartbeat{},
		},
		"status_change": {
			input: `{"type":"status_change","status":"busy"}`,
			want:  StatusChange{Status: "busy"},
		},
		"signal": {
			input: `{"type":"signal","targetUserId":"bob","signal":{"type":"offer","offer":{"sdp":"x"}}}`,
			want: Signal{
				TargetUserID: "bob",
				Signal:       json.RawMessage(`{"type":"offer","offer":{"sdp":"x"}}`),
			},
		},
		"unknown_kind": {
			input: `{"type":"dance"}`,
			want:  Unknown{Type: "dance"},
		},
		"missing_type": {
			input: `{"username":"alice"}`,
			want:  Unknown{},
		},
		"not_json": {
			input:   `{{{`,
			wantErr: true,
		},
		"json_array": {
			input:   `[1,2,3]`,
			wantErr: true,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseClientMessage([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected decode error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("message mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSignalRelayedVerbatim(t *testing.T) {
	t.Parallel()

	payload := `{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 UDP 2122252543 192.0.2.1 54400 typ host","sdpMid":"0"}}`
	msg, err := ParseClientMessage([]byte(`{"type":"signal","targetUserId":"bob","signal":` + payload + `}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sig, ok := msg.(Signal)
	if !ok {
		t.Fatalf("expected Signal, got %T", msg)
	}
	if string(sig.Signal) != payload {
		t.Fatalf("signal payload altered:\nwant %s\ngot  %s", payload, sig.Signal)
	}

	// Outbound relay must carry the same bytes.
	out, err := EncodeServerMessage(SignalRelay{FromUserID: "alice", Signal: sig.Signal})
	if err != nil {
		t.Fatalf("encode relay: %v", err)
	}
	relayed, err := ParseServerMessage(out)
	if err != nil {
		t.Fatalf("parse relay: %v", err)
	}
	sr := relayed.(SignalRelay)
	var want, got any
	if err := json.Unmarshal([]byte(payload), &want); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	if err := json.Unmarshal(sr.Signal, &got); err != nil {
		t.Fatalf("unmarshal got: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("relayed payload mismatch (-want +got):\n%s", diff)
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	t.Parallel()

	msgs := map[string]ServerMessage{
		"auth_success": AuthSuccess{
			UserID:   "alice",
			Username: "alice",
			OnlineUsers: []OnlineUser{
				{UserID: "bob", Username: "bob", Status: model.PresenceBusy},
			},
		},
		"auth_success_empty_roster": AuthSuccess{UserID: "al", Username: "al", OnlineUsers: []OnlineUser{}},
		"error":                     ErrorReply{Error: "Not authenticated"},
		"rate_limited":              ErrorReply{Error: "Too many messages", ResetIn: 7},
		"user_joined":               UserJoined{UserID: "bob", Username: "bob"},
		"user_left":                 UserLeft{UserID: "bob", Username: "bob"},
		"status_changed":            UserStatusChanged{UserID: "bob", Status: model.PresenceAway},
		"heartbeat_ack":             HeartbeatAck{},
	}

	for name, msg := range msgs {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeServerMessage(msg)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := ParseServerMessage(data)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(msg, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAuthSuccessEncodesEmptyRosterAsArray(t *testing.T) {
	t.Parallel()

	data, err := EncodeServerMessage(AuthSuccess{UserID: "al", Username: "al"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["onlineUsers"]) != "[]" {
		t.Fatalf("onlineUsers must encode as [], got %s", raw["onlineUsers"])
	}
	if string(raw["type"]) != `"auth_success"` {
		t.Fatalf("type field: got %s", raw["type"])
	}
}

func TestParseSignalPayload(t *testing.T) {
	t.Parallel()

	sp, err := ParseSignalPayload([]byte(`{"type":"answer","answer":{"type":"answer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sp.Type != SignalAnswer {
		t.Fatalf("type: want %q got %q", SignalAnswer, sp.Type)
	}
	if len(sp.Answer) == 0 {
		t.Fatal("answer body missing")
	}

	if _, err := ParseSignalPayload([]byte(`{"candidate":{}}`)); err == nil {
		t.Fatal("payload without type must be rejected")
	}
}
