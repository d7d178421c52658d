package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "test-token-hash", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	user, err := store.LookupRefreshSession(ctx, "test-token-hash")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "user-123" {
		t.Errorf("expected user ID user-123, got %s", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "expired-token", "user-456", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Hour)

	_, err := store.LookupRefreshSession(ctx, "expired-token")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for expired token, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveRefreshSession(ctx, "token-1", "user-1", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession 1 failed: %v", err)
	}
	if err := store.SaveRefreshSession(ctx, "token-2", "user-2", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession 2 failed: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("Revoke token-1 failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "token-1"); err == nil {
		t.Error("expected error for revoked token-1, got nil")
	}
	user2, err := store.LookupRefreshSession(ctx, "token-2")
	if err != nil {
		t.Fatalf("Lookup token-2 after revoke failed: %v", err)
	}
	if user2.ID != "user-2" {
		t.Errorf("expected user-2 after revoke, got %s", user2.ID)
	}

	if err := store.RevokeRefreshSession(ctx, "non-existent-token"); err != nil {
		t.Errorf("RevokeRefreshSession for non-existent token failed: %v", err)
	}
}

func TestRevokedAccessTokensExpire(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.RevokeAccessToken(ctx, "jti-1", time.Now().Add(15*time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected jti-1 revoked, got %v err=%v", revoked, err)
	}
	if other, _ := store.IsAccessTokenRevoked(ctx, "jti-2"); other {
		t.Fatal("expected jti-2 not revoked")
	}

	s.FastForward(20 * time.Minute)
	revoked, err = store.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected revocation to lapse with the token, got %v err=%v", revoked, err)
	}

	if err := store.RevokeAccessToken(ctx, "already-expired", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken for expired token failed: %v", err)
	}
}
