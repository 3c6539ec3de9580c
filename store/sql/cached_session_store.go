package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-warden/core"
)

const sessionCacheKeyPrefix = "go-warden::session::v1"

// CachedSessionStore wraps a session store with a read-through cache keyed
// by token id. Writes and deletes invalidate their key so revocation is
// immediately visible through this layer; the sweep cannot enumerate swept
// ids, so entries it removed age out with the cache TTL, bounded by the
// service's cache_ttl setting.
type CachedSessionStore struct {
	base  core.SessionStore
	cache repositorycache.CacheService
}

func NewCachedSessionStore(base core.SessionStore, cacheService repositorycache.CacheService) (*CachedSessionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base session store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: session cache service is required")
	}
	return &CachedSessionStore{base: base, cache: cacheService}, nil
}

// SessionCacheKey returns the deterministic cache key for a token id:
// go-warden::session::v1::<token_id> with the id URL-path escaped.
func SessionCacheKey(tokenID string) (string, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return "", fmt.Errorf("sqlstore: token id is required")
	}
	return sessionCacheKeyPrefix + "::" + url.PathEscape(tokenID), nil
}

func (s *CachedSessionStore) Put(ctx context.Context, session core.Session) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached session store is not configured")
	}
	cacheKey, err := SessionCacheKey(session.TokenID)
	if err != nil {
		return err
	}
	if err := s.base.Put(ctx, session); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedSessionStore) Get(ctx context.Context, tokenID string) (core.Session, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Session{}, fmt.Errorf("sqlstore: cached session store is not configured")
	}
	cacheKey, err := SessionCacheKey(tokenID)
	if err != nil {
		return core.Session{}, core.ErrSessionNotFound
	}

	session, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Session, error) {
		fetched, fetchErr := s.base.Get(ctx, strings.TrimSpace(tokenID))
		if fetchErr != nil {
			return core.Session{}, fetchErr
		}
		return fetched.Clone(), nil
	})
	if err != nil {
		return core.Session{}, err
	}
	return session.Clone(), nil
}

func (s *CachedSessionStore) Delete(ctx context.Context, tokenID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached session store is not configured")
	}
	cacheKey, err := SessionCacheKey(tokenID)
	if err != nil {
		return core.ErrSessionNotFound
	}
	if err := s.base.Delete(ctx, strings.TrimSpace(tokenID)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedSessionStore) SweepExpired(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached session store is not configured")
	}
	return s.base.SweepExpired(ctx, now, grace)
}

var _ core.SessionStore = (*CachedSessionStore)(nil)
