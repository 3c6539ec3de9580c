// Package memorystore keeps warden sessions in process memory. It is the
// default backend for single-node deployments and tests: nothing survives a
// restart, which is acceptable for bearer sessions that can be re-issued.
package memorystore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-warden/core"
	"github.com/puzpuzpuz/xsync/v3"
)

// SessionStore is a concurrent in-memory session backend. Reads and writes
// clone records so callers never share mutable state with the store.
type SessionStore struct {
	sessions *xsync.MapOf[string, core.Session]
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: xsync.NewMapOf[string, core.Session](),
	}
}

func (s *SessionStore) Put(_ context.Context, session core.Session) error {
	if s == nil || s.sessions == nil {
		return core.ErrStoreNotConfigured
	}
	tokenID := strings.TrimSpace(session.TokenID)
	if tokenID == "" {
		return core.ErrSessionNotFound
	}
	s.sessions.Store(tokenID, session.Clone())
	return nil
}

func (s *SessionStore) Get(_ context.Context, tokenID string) (core.Session, error) {
	if s == nil || s.sessions == nil {
		return core.Session{}, core.ErrStoreNotConfigured
	}
	session, ok := s.sessions.Load(strings.TrimSpace(tokenID))
	if !ok {
		return core.Session{}, core.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) Delete(_ context.Context, tokenID string) error {
	if s == nil || s.sessions == nil {
		return core.ErrStoreNotConfigured
	}
	if _, ok := s.sessions.LoadAndDelete(strings.TrimSpace(tokenID)); !ok {
		return core.ErrSessionNotFound
	}
	return nil
}

// SweepExpired removes revoked records and records past expiry plus grace.
// Records inside the grace window stay present but still fail validation.
func (s *SessionStore) SweepExpired(_ context.Context, now time.Time, grace time.Duration) (int, error) {
	if s == nil || s.sessions == nil {
		return 0, core.ErrStoreNotConfigured
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if grace < 0 {
		grace = 0
	}

	swept := 0
	s.sessions.Range(func(tokenID string, session core.Session) bool {
		if session.Revoked || !session.ExpiresAt.Add(grace).After(now) {
			if _, ok := s.sessions.LoadAndDelete(tokenID); ok {
				swept++
			}
		}
		return true
	})
	return swept, nil
}

// Len reports the number of stored sessions, swept or not yet swept.
func (s *SessionStore) Len() int {
	if s == nil || s.sessions == nil {
		return 0
	}
	return s.sessions.Size()
}

var _ core.SessionStore = (*SessionStore)(nil)
