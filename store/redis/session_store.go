// Package redisstore keeps warden sessions in Redis so multiple processes can
// share one session space. Records carry their own expiry; Redis key TTLs act
// as a backstop so abandoned records disappear even if the sweep never runs.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-warden/core"
	"github.com/redis/go-redis/v9"
)

// retentionSlack keeps expired records readable until the sweep confirms
// them. Validation already rejects expired sessions, so the window only
// affects how long dead records linger.
const retentionSlack = 24 * time.Hour

type sessionRecord struct {
	TokenID      string            `json:"token_id"`
	SecretDigest []byte            `json:"secret_digest"`
	Identity     string            `json:"identity"`
	Claims       map[string]string `json:"claims,omitempty"`
	IssuedAt     time.Time         `json:"issued_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Revoked      bool              `json:"revoked,omitempty"`
	RevokedAt    *time.Time        `json:"revoked_at,omitempty"`
	Origin       string            `json:"origin"`
}

func newSessionRecord(session core.Session) sessionRecord {
	cloned := session.Clone()
	return sessionRecord{
		TokenID:      cloned.TokenID,
		SecretDigest: cloned.SecretDigest,
		Identity:     cloned.Identity,
		Claims:       cloned.Claims,
		IssuedAt:     cloned.IssuedAt.UTC(),
		ExpiresAt:    cloned.ExpiresAt.UTC(),
		Revoked:      cloned.Revoked,
		RevokedAt:    cloned.RevokedAt,
		Origin:       string(cloned.Origin),
	}
}

func (r sessionRecord) toDomain() core.Session {
	session := core.Session{
		TokenID:      r.TokenID,
		SecretDigest: r.SecretDigest,
		Identity:     r.Identity,
		Claims:       r.Claims,
		IssuedAt:     r.IssuedAt,
		ExpiresAt:    r.ExpiresAt,
		Revoked:      r.Revoked,
		RevokedAt:    r.RevokedAt,
		Origin:       core.SessionOrigin(r.Origin),
	}
	return session.Clone()
}

type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewSessionStore dials Redis with the given settings. The connection is
// established lazily; the first operation surfaces connectivity errors.
func NewSessionStore(cfg core.RedisConfig) (*SessionStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redisstore: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewSessionStoreWithClient(client, cfg.KeyPrefix)
}

// NewSessionStoreWithClient wraps a client the host already owns, e.g. a
// shared pool or a cluster client.
func NewSessionStoreWithClient(client redis.UniversalClient, keyPrefix string) (*SessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = "warden"
	}
	return &SessionStore{client: client, prefix: keyPrefix}, nil
}

// SessionKey returns the Redis key for a token id: <prefix>:session:<id>.
func (s *SessionStore) SessionKey(tokenID string) string {
	return s.prefix + ":session:" + strings.TrimSpace(tokenID)
}

func (s *SessionStore) Put(ctx context.Context, session core.Session) error {
	if s == nil || s.client == nil {
		return core.ErrStoreNotConfigured
	}
	tokenID := strings.TrimSpace(session.TokenID)
	if tokenID == "" {
		return core.ErrSessionNotFound
	}

	payload, err := json.Marshal(newSessionRecord(session))
	if err != nil {
		return fmt.Errorf("redisstore: encode session %s: %w", tokenID, err)
	}

	ttl := time.Until(session.ExpiresAt) + retentionSlack
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, s.SessionKey(tokenID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: store session %s: %w", tokenID, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, tokenID string) (core.Session, error) {
	if s == nil || s.client == nil {
		return core.Session{}, core.ErrStoreNotConfigured
	}

	payload, err := s.client.Get(ctx, s.SessionKey(tokenID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return core.Session{}, core.ErrSessionNotFound
		}
		return core.Session{}, fmt.Errorf("redisstore: load session %s: %w", tokenID, err)
	}

	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return core.Session{}, fmt.Errorf("redisstore: decode session %s: %w", tokenID, err)
	}
	return record.toDomain(), nil
}

func (s *SessionStore) Delete(ctx context.Context, tokenID string) error {
	if s == nil || s.client == nil {
		return core.ErrStoreNotConfigured
	}

	removed, err := s.client.Del(ctx, s.SessionKey(tokenID)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: delete session %s: %w", tokenID, err)
	}
	if removed == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// SweepExpired scans the session keyspace and removes revoked records and
// records past expiry plus grace. Redis TTLs already reap most of them; the
// scan keeps the sweep count honest and clears revoked-but-unexpired records.
func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	if s == nil || s.client == nil {
		return 0, core.ErrStoreNotConfigured
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if grace < 0 {
		grace = 0
	}

	swept := 0
	iter := s.client.Scan(ctx, 0, s.prefix+":session:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return swept, fmt.Errorf("redisstore: sweep load %s: %w", key, err)
		}

		var record sessionRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			// Undecodable records can never validate; reclaim them.
			if delErr := s.client.Del(ctx, key).Err(); delErr != nil {
				return swept, fmt.Errorf("redisstore: sweep delete %s: %w", key, delErr)
			}
			swept++
			continue
		}
		if !record.Revoked && record.ExpiresAt.Add(grace).After(now) {
			continue
		}
		removed, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return swept, fmt.Errorf("redisstore: sweep delete %s: %w", key, err)
		}
		swept += int(removed)
	}
	if err := iter.Err(); err != nil {
		return swept, fmt.Errorf("redisstore: sweep scan: %w", err)
	}
	return swept, nil
}

var _ core.SessionStore = (*SessionStore)(nil)
