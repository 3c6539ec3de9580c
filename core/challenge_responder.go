package core

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const defaultChallengeTTL = 10 * time.Minute

// WellKnownChallengePrefix is the unauthenticated plain-HTTP prefix the
// authority fetches during domain validation.
const WellKnownChallengePrefix = "/.well-known/acme-challenge/"

// ChallengePath returns the well-known path for a challenge token.
func ChallengePath(token string) string {
	return WellKnownChallengePrefix + strings.TrimSpace(token)
}

// MemoryChallengeSolver keeps issued challenges in process. Entries answer
// only while Issued and inside their validity window; Satisfied and Expired
// entries resolve to nothing, and stale entries are pruned on registration.
type MemoryChallengeSolver struct {
	mu      sync.Mutex
	ttl     time.Duration
	byToken map[string]Challenge
	byPath  map[string]string
	nowFn   func() time.Time
}

func NewMemoryChallengeSolver(ttl time.Duration) *MemoryChallengeSolver {
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	return &MemoryChallengeSolver{
		ttl:     ttl,
		byToken: map[string]Challenge{},
		byPath:  map[string]string{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryChallengeSolver) Register(challenge Challenge) error {
	if s == nil {
		return fmt.Errorf("core: challenge solver is not configured")
	}
	token := strings.TrimSpace(challenge.Token)
	if token == "" {
		return fmt.Errorf("core: challenge token is required")
	}
	if strings.TrimSpace(challenge.Response) == "" {
		return fmt.Errorf("core: challenge response is required")
	}
	if strings.TrimSpace(challenge.Path) == "" {
		challenge.Path = ChallengePath(token)
	}

	now := s.nowFn()
	if challenge.IssuedAt.IsZero() {
		challenge.IssuedAt = now
	}
	if challenge.NotAfter.IsZero() {
		challenge.NotAfter = challenge.IssuedAt.Add(s.ttl)
	}
	if challenge.State == "" {
		challenge.State = ChallengeStateIssued
	}
	challenge.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.byToken[token] = challenge
	s.byPath[challenge.Path] = token
	return nil
}

func (s *MemoryChallengeSolver) Resolve(path string) (Challenge, bool) {
	if s == nil {
		return Challenge{}, false
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Challenge{}, false
	}

	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byPath[path]
	if !ok {
		return Challenge{}, false
	}
	challenge, ok := s.byToken[token]
	if !ok || !challenge.Answerable(now) {
		return Challenge{}, false
	}
	return challenge, true
}

func (s *MemoryChallengeSolver) Satisfy(token string) error {
	return s.transition(token, ChallengeStateSatisfied)
}

func (s *MemoryChallengeSolver) Expire(token string) error {
	return s.transition(token, ChallengeStateExpired)
}

func (s *MemoryChallengeSolver) transition(token string, state ChallengeState) error {
	if s == nil {
		return fmt.Errorf("core: challenge solver is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("core: challenge token is required")
	}

	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.byToken[token]
	if !ok {
		return fmt.Errorf("%w: %q", ErrChallengeNotFound, token)
	}
	if err := challenge.TransitionTo(state, now); err != nil {
		return err
	}
	s.byToken[token] = challenge
	return nil
}

// pruneLocked drops entries that can no longer answer. Callers hold s.mu.
func (s *MemoryChallengeSolver) pruneLocked(now time.Time) {
	for token, challenge := range s.byToken {
		if challenge.Answerable(now) {
			continue
		}
		delete(s.byToken, token)
		delete(s.byPath, challenge.Path)
	}
}

// ChallengeHandler serves domain-validation responses over plain HTTP. A
// resolvable challenge answers 200 with the key authorization as the whole
// body; everything else is 404. This is the only surface the edge layer
// exposes unauthenticated.
type ChallengeHandler struct {
	solver ChallengeSolver
	logger Logger
}

func NewChallengeHandler(solver ChallengeSolver, logger Logger) *ChallengeHandler {
	return &ChallengeHandler{
		solver: solver,
		logger: glog.Ensure(logger),
	}
}

func (h *ChallengeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.solver == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}
	challenge, ok := h.solver.Resolve(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write([]byte(challenge.Response)); err != nil && h.logger != nil {
		h.logger.Debug("challenge response write failed", "path", r.URL.Path, "error", err)
	}
}

var (
	_ ChallengeSolver = (*MemoryChallengeSolver)(nil)
	_ http.Handler    = (*ChallengeHandler)(nil)
)
