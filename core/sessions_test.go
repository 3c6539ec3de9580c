package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	failWith error
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: map[string]Session{}}
}

func (s *memorySessionStore) Put(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.sessions[session.TokenID] = session.Clone()
	return nil
}

func (s *memorySessionStore) Get(_ context.Context, tokenID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return Session{}, s.failWith
	}
	session, ok := s.sessions[tokenID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *memorySessionStore) Delete(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.sessions[tokenID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, tokenID)
	return nil
}

func (s *memorySessionStore) SweepExpired(_ context.Context, now time.Time, grace time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	removed := 0
	for tokenID, session := range s.sessions {
		if session.Sweepable(now, grace) {
			delete(s.sessions, tokenID)
			removed++
		}
	}
	return removed, nil
}

func (s *memorySessionStore) mutate(tokenID string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenID]
	if !ok {
		return false
	}
	fn(&session)
	s.sessions[tokenID] = session
	return true
}

// stubTracker is a minimal fixed-window tracker double for core tests; the
// full implementation lives in its own package.
type stubTracker struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	counts      map[string]int
	windowStart map[string]time.Time
	tokens      map[string]map[string]struct{}
	owners      map[string]string
}

func newStubTracker(limit int, window time.Duration) *stubTracker {
	return &stubTracker{
		limit:       limit,
		window:      window,
		counts:      map[string]int{},
		windowStart: map[string]time.Time{},
		tokens:      map[string]map[string]struct{}{},
		owners:      map[string]string{},
	}
}

func (t *stubTracker) Record(identity string, now time.Time) RateDecision {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.windowStart[identity]
	if !ok || !now.Before(start.Add(t.window)) {
		t.windowStart[identity] = now
		t.counts[identity] = 0
		start = now
	}
	if t.counts[identity] >= t.limit {
		return RateDecision{Allowed: false, RetryIn: start.Add(t.window).Sub(now)}
	}
	t.counts[identity]++
	return RateDecision{Allowed: true, Remaining: t.limit - t.counts[identity]}
}

func (t *stubTracker) Link(identity string, tokenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens[identity] == nil {
		t.tokens[identity] = map[string]struct{}{}
	}
	t.tokens[identity][tokenID] = struct{}{}
	t.owners[tokenID] = identity
}

func (t *stubTracker) Unlink(identity string, tokenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens[identity], tokenID)
	delete(t.owners, tokenID)
}

func (t *stubTracker) UnlinkAll(identity string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.tokens[identity]))
	for tokenID := range t.tokens[identity] {
		ids = append(ids, tokenID)
		delete(t.owners, tokenID)
	}
	delete(t.tokens, identity)
	return ids
}

func (t *stubTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerStats{Identities: len(t.tokens), Tokens: len(t.owners)}
}

func newSessionTestService(t *testing.T, clock *fakeClock, store SessionStore, tracker RateTracker, runtime Config, options ...Option) *Service {
	t.Helper()
	base := []Option{
		WithSessionStore(store),
		WithRateTracker(tracker),
		WithClock(clock.Now),
	}
	svc, err := NewService(runtime, append(base, options...)...)
	if err != nil {
		t.Fatalf("expected service to build, got %v", err)
	}
	return svc
}

func TestIssueAndValidateSessionRoundtrip(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{
		Identity: "user-1",
		Claims:   map[string]string{"role": "operator"},
		TTL:      30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("expected issue to succeed, got %v", err)
	}
	if issued.Token == "" || !strings.Contains(issued.Token, ".") {
		t.Fatalf("expected an id.secret bearer token, got %q", issued.Token)
	}
	if issued.Session.Origin != SessionOriginLocal {
		t.Fatalf("expected local origin, got %q", issued.Session.Origin)
	}

	result, err := svc.ValidateSession(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("expected validation to succeed, got %v", err)
	}
	if result.Identity != "user-1" {
		t.Fatalf("expected identity user-1, got %q", result.Identity)
	}
	if result.Claims["role"] != "operator" {
		t.Fatalf("expected claims to round-trip, got %v", result.Claims)
	}
	if !result.ExpiresAt.Equal(clock.Now().Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", result.ExpiresAt)
	}
}

func TestStoreKeepsOnlySecretDigest(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	_, secret, ok := parseBearerToken(issued.Token)
	if !ok {
		t.Fatalf("unexpected bearer shape %q", issued.Token)
	}

	stored, err := store.Get(context.Background(), issued.Session.TokenID)
	if err != nil {
		t.Fatalf("stored record missing: %v", err)
	}
	if string(stored.SecretDigest) == secret {
		t.Fatal("store must never hold the raw secret")
	}
	if !digestsEqual(stored.SecretDigest, secretDigest(secret)) {
		t.Fatal("stored digest does not match the issued secret")
	}
}

func TestValidateSessionFailuresAreUniform(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Minute})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	tokenID, _, _ := parseBearerToken(issued.Token)

	revokedToken := func() string {
		other, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-2", TTL: time.Minute})
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		otherID, _, _ := parseBearerToken(other.Token)
		if !store.mutate(otherID, func(s *Session) { s.Revoked = true }) {
			t.Fatal("expected stored session to mutate")
		}
		return other.Token
	}()

	cases := []struct {
		name     string
		bearer   string
		wantCode string
	}{
		{name: "malformed", bearer: "not-a-token", wantCode: WardenErrorTokenInvalid},
		{name: "unknown_id", bearer: "bm9wZQ.bm9wZQ", wantCode: WardenErrorTokenInvalid},
		{name: "tampered_secret", bearer: tokenID + ".d3Jvbmctc2VjcmV0", wantCode: WardenErrorTokenInvalid},
		{name: "revoked", bearer: revokedToken, wantCode: WardenErrorTokenRevoked},
	}

	var firstMessage string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ValidateSession(context.Background(), tc.bearer)
			if err == nil {
				t.Fatal("expected validation to fail")
			}
			if !IsUnauthorized(err) {
				t.Fatalf("expected uniform unauthorized, got %v", err)
			}
			if code := AuthFailureCode(err); code != tc.wantCode {
				t.Fatalf("expected internal code %q, got %q", tc.wantCode, code)
			}
			// The external shape never reveals the cause.
			if firstMessage == "" {
				firstMessage = err.Error()
			} else if err.Error() != firstMessage {
				t.Fatalf("expected identical external message, got %q and %q", firstMessage, err.Error())
			}
		})
	}
}

func TestExpiredSessionFailsValidationBeforeSweep(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Second})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := svc.ValidateSession(context.Background(), issued.Token); err != nil {
		t.Fatalf("expected fresh session to validate, got %v", err)
	}

	clock.Advance(1100 * time.Millisecond)
	_, err = svc.ValidateSession(context.Background(), issued.Token)
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for expired session, got %v", err)
	}
	if code := AuthFailureCode(err); code != WardenErrorTokenExpired {
		t.Fatalf("expected internal expired code, got %q", code)
	}
	// The record is still present: only the sweep may remove it.
	if _, getErr := store.Get(context.Background(), issued.Session.TokenID); getErr != nil {
		t.Fatalf("expected record to survive until sweep, got %v", getErr)
	}
}

func TestSweepRemovesExpiredSessionsAfterGrace(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	for i := 0; i < 3; i++ {
		if _, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Second}); err != nil {
			t.Fatalf("issue failed: %v", err)
		}
	}
	keeper, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Hour})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// Default grace is five minutes: one second past expiry removes nothing.
	clock.Advance(2 * time.Second)
	result, err := svc.SweepExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Removed != 0 {
		t.Fatalf("expected grace to defer removal, removed %d", result.Removed)
	}

	clock.Advance(10 * time.Minute)
	result, err = svc.SweepExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Removed != 3 {
		t.Fatalf("expected 3 removals, got %d", result.Removed)
	}
	if _, err := svc.ValidateSession(context.Background(), keeper.Token); err != nil {
		t.Fatalf("expected unexpired session to survive the sweep, got %v", err)
	}
}

func TestRevokeSessionIsIdempotent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Hour})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if err := svc.RevokeSession(context.Background(), issued.Token); err != nil {
		t.Fatalf("expected revoke to succeed, got %v", err)
	}
	if _, err := svc.ValidateSession(context.Background(), issued.Token); !IsUnauthorized(err) {
		t.Fatalf("expected revoked token to fail validation, got %v", err)
	}
	if err := svc.RevokeSession(context.Background(), issued.Token); err != nil {
		t.Fatalf("expected repeat revoke to succeed, got %v", err)
	}
}

func TestRevokeIdentityRevokesAllLinkedSessions(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	tracker := newStubTracker(100, time.Minute)
	svc := newSessionTestService(t, clock, store, tracker, Config{})

	var tokens []string
	for i := 0; i < 3; i++ {
		issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Hour})
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		tokens = append(tokens, issued.Token)
	}
	other, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-2", TTL: time.Hour})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	revoked, err := svc.RevokeIdentity(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected identity revocation to succeed, got %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", revoked)
	}
	for _, token := range tokens {
		if _, err := svc.ValidateSession(context.Background(), token); !IsUnauthorized(err) {
			t.Fatalf("expected linked token to fail validation, got %v", err)
		}
	}
	if _, err := svc.ValidateSession(context.Background(), other.Token); err != nil {
		t.Fatalf("expected other identity's session to survive, got %v", err)
	}

	// Repeat revocation finds nothing left to do.
	revoked, err = svc.RevokeIdentity(context.Background(), "user-1")
	if err != nil || revoked != 0 {
		t.Fatalf("expected idempotent repeat, got revoked=%d err=%v", revoked, err)
	}
}

func TestIssueSessionRateLimited(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(5, time.Second), Config{})

	for i := 0; i < 5; i++ {
		if _, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1"}); err != nil {
			t.Fatalf("issue %d failed: %v", i+1, err)
		}
	}
	_, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1"})
	if err == nil {
		t.Fatal("expected sixth issue inside the window to be limited")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %v", err)
	}
	if richErr.TextCode != WardenErrorRateLimited {
		t.Fatalf("expected %q, got %q", WardenErrorRateLimited, richErr.TextCode)
	}

	// Another identity is unaffected, and a new window clears the limit.
	if _, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-2"}); err != nil {
		t.Fatalf("expected other identity to issue, got %v", err)
	}
	clock.Advance(1100 * time.Millisecond)
	if _, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1"}); err != nil {
		t.Fatalf("expected new window to allow issuance, got %v", err)
	}
}

func TestRefreshSessionDisabledByDefault(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := svc.RefreshSession(context.Background(), RefreshSessionRequest{Token: issued.Token}); err == nil {
		t.Fatal("expected refresh to be rejected while disabled")
	}
}

func TestRefreshSessionExtendsExpiry(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{
		Sessions: SessionsConfig{AllowRefresh: true},
	})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Minute})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	clock.Advance(30 * time.Second)
	result, err := svc.RefreshSession(context.Background(), RefreshSessionRequest{Token: issued.Token, TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected refresh to succeed, got %v", err)
	}
	if !result.ExpiresAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("expected expiry to move with the refresh, got %s", result.ExpiresAt)
	}

	// An expired session can never be refreshed back to life.
	clock.Advance(2 * time.Minute)
	if _, err := svc.RefreshSession(context.Background(), RefreshSessionRequest{Token: issued.Token, TTL: time.Minute}); !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized refresh of expired session, got %v", err)
	}
}

type stubExchanger struct {
	assertion IdentityAssertion
	err       error
	lastReq   ExchangeRequest
}

func (e *stubExchanger) Exchange(_ context.Context, req ExchangeRequest) (IdentityAssertion, error) {
	e.lastReq = req
	if e.err != nil {
		return IdentityAssertion{}, e.err
	}
	return e.assertion, nil
}

func TestExchangeFederatedMintsLocalSession(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	exchanger := &stubExchanger{
		assertion: IdentityAssertion{
			Provider:  "google",
			Subject:   "subject-123",
			Claims:    map[string]string{"email": "user@example.test"},
			ExpiresAt: clock.Now().Add(20 * time.Minute),
		},
	}
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{},
		WithFederationExchanger(exchanger))

	issued, err := svc.ExchangeFederated(context.Background(), ExchangeRequest{
		Provider: "google",
		Code:     "auth-code",
	})
	if err != nil {
		t.Fatalf("expected exchange to succeed, got %v", err)
	}
	if issued.Session.Identity != "google:subject-123" {
		t.Fatalf("unexpected identity %q", issued.Session.Identity)
	}
	if issued.Session.Origin != SessionOriginFederated {
		t.Fatalf("expected federated origin, got %q", issued.Session.Origin)
	}
	// Session expiry never outlives the provider's assertion.
	if !issued.Session.ExpiresAt.Equal(clock.Now().Add(20 * time.Minute)) {
		t.Fatalf("expected expiry capped by the assertion, got %s", issued.Session.ExpiresAt)
	}

	result, err := svc.ValidateSession(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("expected federated session to validate, got %v", err)
	}
	if result.Claims["email"] != "user@example.test" || result.Claims["provider"] != "google" {
		t.Fatalf("expected assertion claims, got %v", result.Claims)
	}
}

func TestExchangeFederatedRejectionSurfaces(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	exchanger := &stubExchanger{
		err: goerrors.New("provider rejected the authorization code", goerrors.CategoryExternal).
			WithTextCode(WardenErrorFederationRejected),
	}
	svc := newSessionTestService(t, clock, newMemorySessionStore(), newStubTracker(100, time.Minute), Config{},
		WithFederationExchanger(exchanger))

	_, err := svc.ExchangeFederated(context.Background(), ExchangeRequest{Provider: "google", Code: "bad"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != WardenErrorFederationRejected {
		t.Fatalf("expected federation rejection to surface, got %v", err)
	}
	// No session was minted for the failed exchange.
	if stats := svc.Dependencies().RateTracker.Stats(); stats.Tokens != 0 {
		t.Fatalf("expected no linked tokens, got %d", stats.Tokens)
	}
}

func TestStoreOutageIsDistinctFromUnauthorized(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	issued, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	store.mu.Lock()
	store.failWith = context.DeadlineExceeded
	store.mu.Unlock()

	_, err = svc.ValidateSession(context.Background(), issued.Token)
	if err == nil {
		t.Fatal("expected store outage to fail validation")
	}
	if IsUnauthorized(err) {
		t.Fatal("a store outage must not masquerade as a bad credential")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != WardenErrorStoreUnavailable {
		t.Fatalf("expected store unavailable code, got %v", err)
	}
}

func TestStatusReportsTrackerAndSweep(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newMemorySessionStore()
	svc := newSessionTestService(t, clock, store, newStubTracker(100, time.Minute), Config{})

	if _, err := svc.IssueSession(context.Background(), IssueRequest{Identity: "user-1", TTL: time.Hour}); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := svc.SweepExpiredSessions(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	report, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.ServiceName != "warden" {
		t.Fatalf("unexpected service name %q", report.ServiceName)
	}
	if report.Sessions.TrackedIdentities != 1 || report.Sessions.LinkedTokens != 1 {
		t.Fatalf("unexpected tracker stats %+v", report.Sessions)
	}
	if !report.Sessions.LastSweepAt.Equal(clock.Now()) {
		t.Fatalf("expected sweep timestamp, got %s", report.Sessions.LastSweepAt)
	}
}
