package server

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"wavelink/pkg/model"
	"wavelink/pkg/protocol"
)

func newTestSession(userID string) *Session {
	return NewSession(newFakeConn(), userID, userID, "127.0.0.1")
}

func TestRegistryAddRejectsDuplicate(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	if err := r.Add(newTestSession("alice")); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := r.Add(newTestSession("alice")); !errors.Is(err, ErrAlreadyOnline) {
		t.Fatalf("duplicate add: want ErrAlreadyOnline, got %v", err)
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("count: want 1, got %d", got)
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	sess := newTestSession("alice")
	if err := r.Add(sess); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := r.Remove("alice"); got != sess {
		t.Fatalf("first remove: want session, got %v", got)
	}
	if got := r.Remove("alice"); got != nil {
		t.Fatalf("second remove: want nil, got %v", got)
	}
	if got := r.Remove("ghost"); got != nil {
		t.Fatalf("remove of unknown user: want nil, got %v", got)
	}
}

func TestRegistrySnapshotPreservesInsertionOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	for _, id := range []string{"carol", "alice", "bob"} {
		if err := r.Add(newTestSession(id)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	r.Remove("alice")
	if err := r.Add(newTestSession("alice")); err != nil {
		t.Fatalf("re-add alice: %v", err)
	}

	var got []string
	for _, sess := range r.Snapshot() {
		got = append(got, sess.UserID)
	}
	want := []string{"carol", "bob", "alice"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot order (-want +got):\n%s", diff)
	}
}

func TestRegistryRosterExcludesRequestedUser(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	alice := newTestSession("alice")
	bob := newTestSession("bob")
	bob.SetStatus(model.PresenceBusy)
	for _, sess := range []*Session{alice, bob} {
		if err := r.Add(sess); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	want := []protocol.OnlineUser{
		{UserID: "bob", Username: "bob", Status: model.PresenceBusy},
	}
	if diff := cmp.Diff(want, r.Roster("alice")); diff != "" {
		t.Fatalf("roster (-want +got):\n%s", diff)
	}
	if got := len(r.Roster("")); got != 2 {
		t.Fatalf("unfiltered roster: want 2 entries, got %d", got)
	}
}

func TestRegistryTouchIgnoresAbsentIdentity(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	r.Touch("ghost") // must not panic or create state

	sess := newTestSession("alice")
	if err := r.Add(sess); err != nil {
		t.Fatalf("add: %v", err)
	}
	before := sess.LastSeen()
	time.Sleep(5 * time.Millisecond)
	r.Touch("alice")
	if !sess.LastSeen().After(before) {
		t.Fatal("touch did not refresh liveness")
	}
}

func TestRegistrySetPresence(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	if _, err := r.SetPresence("ghost", model.PresenceBusy); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("absent identity: want ErrNotAuthenticated, got %v", err)
	}

	sess := newTestSession("alice")
	if err := r.Add(sess); err != nil {
		t.Fatalf("add: %v", err)
	}
	prior, err := r.SetPresence("alice", model.PresenceAway)
	if err != nil {
		t.Fatalf("set presence: %v", err)
	}
	if prior != model.PresenceOnline {
		t.Fatalf("prior state: want online, got %s", prior)
	}
	if got := sess.Status(); got != model.PresenceAway {
		t.Fatalf("status: want away, got %s", got)
	}
}

func TestRegistryBroadcastSkipsExcluded(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	alice := newTestSession("alice")
	bob := newTestSession("bob")
	for _, sess := range []*Session{alice, bob} {
		if err := r.Add(sess); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	delivered := r.Broadcast(protocol.UserJoined{UserID: "alice", Username: "alice"}, "alice")
	if delivered != 1 {
		t.Fatalf("delivered: want 1, got %d", delivered)
	}
	select {
	case <-alice.send:
		t.Fatal("excluded session must not receive the broadcast")
	default:
	}
	select {
	case data := <-bob.send:
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			t.Fatalf("parse broadcast: %v", err)
		}
		if _, ok := msg.(protocol.UserJoined); !ok {
			t.Fatalf("want UserJoined, got %T", msg)
		}
	default:
		t.Fatal("included session did not receive the broadcast")
	}
}
