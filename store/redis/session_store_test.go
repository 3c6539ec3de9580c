package redisstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-warden/core"
	"github.com/redis/go-redis/v9"
)

func TestSessionKeyContract(t *testing.T) {
	store := &SessionStore{prefix: "warden"}
	if got := store.SessionKey(" tok_1 "); got != "warden:session:tok_1" {
		t.Fatalf("unexpected session key: %q", got)
	}

	custom := &SessionStore{prefix: "edge-a"}
	if got := custom.SessionKey("tok_2"); got != "edge-a:session:tok_2" {
		t.Fatalf("unexpected prefixed session key: %q", got)
	}
}

func TestNewSessionStoreRejectsMissingAddr(t *testing.T) {
	if _, err := NewSessionStore(core.RedisConfig{}); err == nil {
		t.Fatalf("expected missing addr to be rejected")
	}
	if _, err := NewSessionStoreWithClient(nil, "warden"); err == nil {
		t.Fatalf("expected nil client to be rejected")
	}
}

func TestNewSessionStoreWithClientDefaultsPrefix(t *testing.T) {
	store, err := NewSessionStoreWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "  ")
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	if !strings.HasPrefix(store.SessionKey("tok"), "warden:session:") {
		t.Fatalf("expected default warden prefix, got %q", store.SessionKey("tok"))
	}
}

func TestSessionRecordCarriesEveryField(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	revokedAt := now.Add(5 * time.Minute)
	session := core.Session{
		TokenID:      "tok_record",
		SecretDigest: []byte{0xca, 0xfe},
		Identity:     "user-1",
		Claims:       map[string]string{"role": "admin"},
		IssuedAt:     now,
		ExpiresAt:    now.Add(30 * time.Minute),
		Revoked:      true,
		RevokedAt:    &revokedAt,
		Origin:       core.SessionOriginFederated,
	}

	payload, err := json.Marshal(newSessionRecord(session))
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}

	var decoded sessionRecord
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	restored := decoded.toDomain()
	if restored.Identity != session.Identity || restored.Origin != session.Origin {
		t.Fatalf("expected identity and origin to survive, got %+v", restored)
	}
	if !restored.Revoked || restored.RevokedAt == nil || !restored.RevokedAt.Equal(revokedAt) {
		t.Fatalf("expected revocation state to survive, got %+v", restored)
	}
	if string(restored.SecretDigest) != string(session.SecretDigest) {
		t.Fatalf("expected secret digest to survive")
	}
}

func TestSessionStoreAgainstRedis(t *testing.T) {
	addr := os.Getenv("WARDEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WARDEN_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	store, err := NewSessionStore(core.RedisConfig{Addr: addr, KeyPrefix: "warden-test"})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}

	now := time.Now().UTC()
	session := core.Session{
		TokenID:      "tok_redis_roundtrip",
		SecretDigest: []byte{0x01, 0x02},
		Identity:     "user-redis",
		Claims:       map[string]string{"role": "member"},
		IssuedAt:     now,
		ExpiresAt:    now.Add(30 * time.Minute),
		Origin:       core.SessionOriginLocal,
	}
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("put session: %v", err)
	}
	defer func() { _ = store.Delete(ctx, session.TokenID) }()

	stored, err := store.Get(ctx, session.TokenID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Identity != session.Identity {
		t.Fatalf("expected identity %q, got %q", session.Identity, stored.Identity)
	}

	expired := session.Clone()
	expired.TokenID = "tok_redis_expired"
	expired.ExpiresAt = now.Add(-time.Hour)
	if err := store.Put(ctx, expired); err != nil {
		t.Fatalf("put expired session: %v", err)
	}

	swept, err := store.SweepExpired(ctx, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("sweep expired: %v", err)
	}
	if swept < 1 {
		t.Fatalf("expected the expired session to be swept, got %d", swept)
	}
	if _, err := store.Get(ctx, expired.TokenID); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected expired session gone after sweep, got %v", err)
	}

	if err := store.Delete(ctx, session.TokenID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := store.Delete(ctx, session.TokenID); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected repeat delete to report not found, got %v", err)
	}
}
