package userstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Username != "alice" {
		t.Fatalf("username: want alice got %q", created.Username)
	}
	if created.CreatedAt.IsZero() || created.LastLogin.IsZero() {
		t.Fatal("timestamps must be set")
	}

	got, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at: want %v got %v", created.CreatedAt, got.CreatedAt)
	}
}

func TestCreateDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.Create(ctx, "alice"); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate create: want ErrExists, got %v", err)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing user, got %+v", got)
	}
}

func TestExists(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "alice")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("alice should not exist yet")
	}

	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err = s.Exists(ctx, "alice")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Fatal("alice should exist after create")
	}
}

func TestTouchLogin(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.TouchLogin(ctx, "alice"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastLogin.Before(created.LastLogin) {
		t.Fatalf("last_login went backwards: %v -> %v", created.LastLogin, got.LastLogin)
	}

	// Touching an unregistered name is a no-op, not an error.
	if err := s.TouchLogin(ctx, "nobody"); err != nil {
		t.Fatalf("touch missing: %v", err)
	}
}

func TestListUsernames(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	names, err := s.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("want empty list, got %v", names)
	}

	for _, name := range []string{"alice", "bob", "carol"} {
		if _, err := s.Create(ctx, name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	names, err = s.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("want 3 usernames, got %v", names)
	}
}
