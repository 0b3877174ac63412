package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/suite33/backoffice/shared/models"
)

func newTestSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSessionStore(client), mr
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	identity := models.UserIdentity{UserID: uuid.New(), Email: "ada@acme.test", Role: models.RoleAdmin}

	created, err := store.Create(ctx, "token-1", identity, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.SessionID == "" || created.Identity.SessionID != created.SessionID {
		t.Errorf("expected session id on session and identity, got %q / %q", created.SessionID, created.Identity.SessionID)
	}

	if mr.Exists("session:token-1") {
		t.Error("raw token must not be used as the key")
	}
	if !mr.Exists("session:" + HashToken("token-1")) {
		t.Error("expected hashed session key")
	}

	got, err := store.Get(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Identity.UserID != identity.UserID || got.Identity.Role != models.RoleAdmin {
		t.Errorf("unexpected identity %+v", got.Identity)
	}
}

func TestSessionStore_GetUnknown(t *testing.T) {
	store, _ := newTestSessionStore(t)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStore_Expired(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	if _, err := store.Create(ctx, "token-1", models.UserIdentity{UserID: uuid.New()}, time.Minute); err != nil {
		t.Fatal(err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Minute) }

	if _, err := store.Get(ctx, "token-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected expired session to be rejected, got %v", err)
	}
}

func TestSessionStore_TouchAndRevoke(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	if _, err := store.Create(ctx, "token-1", models.UserIdentity{UserID: uuid.New()}, time.Hour); err != nil {
		t.Fatal(err)
	}

	store.now = func() time.Time { return base.Add(10 * time.Minute) }
	loaded, err := store.Get(ctx, "token-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Touch(ctx, "token-1", loaded); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}

	got, err := store.Get(ctx, "token-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastUsedAt.Equal(base.Add(10 * time.Minute)) {
		t.Errorf("expected last used to move, got %s", got.LastUsedAt)
	}
	if !got.ExpiresAt.Equal(base.Add(time.Hour)) {
		t.Errorf("touch must not extend expiry, got %s", got.ExpiresAt)
	}

	if err := store.Revoke(ctx, "token-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "token-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected revoked session to be gone, got %v", err)
	}
}

func TestSessionStore_TouchAfterRevoke(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "token-1", models.UserIdentity{UserID: uuid.New()}, time.Hour); err != nil {
		t.Fatal(err)
	}
	loaded, err := store.Get(ctx, "token-1")
	if err != nil {
		t.Fatal(err)
	}

	// logout lands between the read and the touch
	if err := store.Revoke(ctx, "token-1"); err != nil {
		t.Fatal(err)
	}

	if err := store.Touch(ctx, "token-1", loaded); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if mr.Exists("session:" + HashToken("token-1")) {
		t.Error("touch must not recreate a revoked session")
	}
}

func TestSessionStore_TouchKeepsTTL(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "token-1", models.UserIdentity{UserID: uuid.New()}, time.Hour); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(20 * time.Minute)

	loaded, err := store.Get(ctx, "token-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Touch(ctx, "token-1", loaded); err != nil {
		t.Fatal(err)
	}

	if ttl := mr.TTL("session:" + HashToken("token-1")); ttl != 40*time.Minute {
		t.Errorf("expected remaining TTL of 40m, got %s", ttl)
	}
}

func TestSessionStore_RevokeAllForUser(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	target := uuid.New()
	other := uuid.New()

	for _, token := range []string{"a", "b"} {
		if _, err := store.Create(ctx, token, models.UserIdentity{UserID: target}, time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Create(ctx, "c", models.UserIdentity{UserID: other}, time.Hour); err != nil {
		t.Fatal(err)
	}

	revoked, err := store.RevokeAllForUser(ctx, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revoked != 2 {
		t.Errorf("expected 2 revoked sessions, got %d", revoked)
	}
	if _, err := store.Get(ctx, "c"); err != nil {
		t.Errorf("other user's session should survive, got %v", err)
	}
	for _, token := range []string{"a", "b"} {
		if _, err := store.Get(ctx, token); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("expected session %q revoked, got %v", token, err)
		}
	}
	if mr.Exists("user_sessions:" + target.String()) {
		t.Error("expected the user's session index to be removed")
	}

	// already logged out sessions are not counted again
	if _, err := store.Create(ctx, "d", models.UserIdentity{UserID: other}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := store.Revoke(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if revoked, err := store.RevokeAllForUser(ctx, other); err != nil || revoked != 1 {
		t.Errorf("expected 1 live session revoked, got %d (%v)", revoked, err)
	}
}

func TestNewSessionToken_Unique(t *testing.T) {
	a, err := NewSessionToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSessionToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b || len(a) < 40 {
		t.Errorf("expected distinct long tokens, got %q and %q", a, b)
	}
}
