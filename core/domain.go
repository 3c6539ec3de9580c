package core

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCertificateStateTransition = errors.New("core: invalid certificate state transition")
	ErrInvalidChallengeStateTransition   = errors.New("core: invalid challenge state transition")
	ErrCertificateNotFound               = errors.New("core: no active certificate for domain")
	ErrChallengeNotFound                 = errors.New("core: challenge not found")
	ErrSessionNotFound                   = errors.New("core: session not found")
	ErrStoreNotConfigured                = errors.New("core: session store not configured")
)

type CertificateState string

const (
	CertificateStatePending  CertificateState = "pending"
	CertificateStateActive   CertificateState = "active"
	CertificateStateRenewing CertificateState = "renewing"
	CertificateStateExpired  CertificateState = "expired"
)

// CertificateSnapshot is an immutable certificate/key pair for one domain.
// Writers never mutate a published snapshot; renewal publishes a new one
// through an atomic swap, so readers always hold a fully-old or fully-new
// value. The previous snapshot stays valid for in-flight TLS sessions that
// still reference it.
type CertificateSnapshot struct {
	Domain         string
	Leaf           *x509.Certificate
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	TLS            *tls.Certificate
	IssuedAt       time.Time
	ExpiresAt      time.Time
	State          CertificateState
}

// Validate enforces the activation gate: a snapshot may only become Active
// with a parsed leaf, a non-empty chain, a future expiry, and a domain match.
func (s *CertificateSnapshot) Validate(now time.Time) error {
	if s == nil {
		return fmt.Errorf("core: certificate snapshot is nil")
	}
	domain := strings.TrimSpace(s.Domain)
	if domain == "" {
		return fmt.Errorf("core: certificate domain is required")
	}
	if s.Leaf == nil {
		return fmt.Errorf("core: certificate leaf is missing for %q", domain)
	}
	if len(s.CertificatePEM) == 0 {
		return fmt.Errorf("core: certificate chain is empty for %q", domain)
	}
	if s.TLS == nil || len(s.TLS.Certificate) == 0 {
		return fmt.Errorf("core: tls certificate is empty for %q", domain)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !s.ExpiresAt.After(now) {
		return fmt.Errorf("core: certificate for %q expired at %s", domain, s.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if err := s.Leaf.VerifyHostname(domain); err != nil {
		return fmt.Errorf("core: certificate does not cover %q: %w", domain, err)
	}
	return nil
}

// WithState derives a copy of the snapshot in the given state. Published
// snapshots stay immutable, so every state change produces a new value.
func (s *CertificateSnapshot) WithState(state CertificateState) (*CertificateSnapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("core: certificate snapshot is nil")
	}
	if s.State != state && !certificateTransitionAllowed(s.State, state) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidCertificateStateTransition, s.State, state)
	}
	derived := *s
	derived.State = state
	return &derived, nil
}

// TimeToExpiry reports the remaining validity; zero or negative means expired.
func (s *CertificateSnapshot) TimeToExpiry(now time.Time) time.Duration {
	if s == nil || s.ExpiresAt.IsZero() {
		return 0
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.ExpiresAt.Sub(now)
}

func certificateTransitionAllowed(current, next CertificateState) bool {
	allowed := map[CertificateState]map[CertificateState]struct{}{
		CertificateStatePending: {
			CertificateStateActive:  {},
			CertificateStateExpired: {},
		},
		CertificateStateActive: {
			CertificateStateRenewing: {},
			CertificateStateExpired:  {},
		},
		CertificateStateRenewing: {
			CertificateStateActive:  {},
			CertificateStateExpired: {},
		},
		CertificateStateExpired: {
			CertificateStatePending: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type ChallengeState string

const (
	ChallengeStateIssued    ChallengeState = "issued"
	ChallengeStateSatisfied ChallengeState = "satisfied"
	ChallengeStateExpired   ChallengeState = "expired"
)

// Challenge is one domain-validation challenge published on the well-known
// path. It answers only while Issued and inside its validity window, and it
// transitions out of Issued exactly once.
type Challenge struct {
	Domain    string
	Token     string
	Response  string
	Path      string
	State     ChallengeState
	IssuedAt  time.Time
	NotAfter  time.Time
	UpdatedAt time.Time
}

func (c *Challenge) TransitionTo(state ChallengeState, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.State == state {
		c.UpdatedAt = now
		return nil
	}
	if !challengeTransitionAllowed(c.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidChallengeStateTransition, c.State, state)
	}
	c.State = state
	c.UpdatedAt = now
	return nil
}

// Answerable reports whether the challenge may still serve its response.
func (c *Challenge) Answerable(now time.Time) bool {
	if c == nil || c.State != ChallengeStateIssued {
		return false
	}
	if c.NotAfter.IsZero() {
		return true
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return now.Before(c.NotAfter)
}

func challengeTransitionAllowed(current, next ChallengeState) bool {
	allowed := map[ChallengeState]map[ChallengeState]struct{}{
		ChallengeStateIssued: {
			ChallengeStateSatisfied: {},
			ChallengeStateExpired:   {},
		},
		ChallengeStateSatisfied: {},
		ChallengeStateExpired:   {},
	}
	_, ok := allowed[current][next]
	return ok
}

// Session is one issued bearer credential. Stores index sessions by TokenID
// and keep only the secret digest; the raw secret leaves the process exactly
// once, in the bearer token returned to the caller at issue time.
type Session struct {
	TokenID      string
	SecretDigest []byte
	Identity     string
	Claims       map[string]string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	Origin       SessionOrigin
}

type SessionOrigin string

const (
	SessionOriginLocal     SessionOrigin = "local"
	SessionOriginFederated SessionOrigin = "federated"
)

// Expired reports whether the session is past its expiry. Present-but-expired
// records must never validate, even before the sweep removes them.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return !s.ExpiresAt.After(now)
}

// Sweepable reports whether the sweep cycle may delete the record: past
// expiry plus the grace window, or explicitly revoked.
func (s Session) Sweepable(now time.Time, grace time.Duration) bool {
	if s.Revoked {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if grace < 0 {
		grace = 0
	}
	return !s.ExpiresAt.Add(grace).After(now)
}

// Clone returns a copy safe to hand across goroutines.
func (s Session) Clone() Session {
	cloned := s
	cloned.SecretDigest = append([]byte(nil), s.SecretDigest...)
	cloned.Claims = copyStringMap(s.Claims)
	cloned.RevokedAt = cloneTimePointer(s.RevokedAt)
	return cloned
}

// RateEntry is the fixed-window counter kept per identity. Windows are
// monotonic and non-overlapping; the count never exceeds the limit inside an
// active window.
type RateEntry struct {
	Identity    string
	WindowStart time.Time
	Count       int
	Limit       int
}

// RateDecision is the outcome of recording one request against an identity.
type RateDecision struct {
	Allowed   bool
	Remaining int
	RetryIn   time.Duration
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
