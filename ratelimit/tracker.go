// Package ratelimit tracks per-identity issuance rate and the
// identity -> token back-references used for mass revocation.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-warden/core"
)

const (
	defaultWindow    = time.Minute
	defaultLimit     = 60
	defaultIdleAfter = 10 * time.Minute
)

// Tracker keeps fixed-window counters and the identity<->token index. Both
// directions mutate under one mutex, so a reader can never observe a token
// linked to an identity that does not know it. Everything is in-process and
// sub-millisecond; there is no I/O behind any method.
type Tracker struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	idleAfter time.Duration
	entries   map[string]*core.RateEntry
	tokens    map[string]map[string]struct{}
	owners    map[string]string
}

func NewTracker(cfg core.RateLimitConfig) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Limit < 1 {
		cfg.Limit = defaultLimit
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = defaultIdleAfter
	}
	return &Tracker{
		limit:     cfg.Limit,
		window:    cfg.Window,
		idleAfter: cfg.IdleAfter,
		entries:   map[string]*core.RateEntry{},
		tokens:    map[string]map[string]struct{}{},
		owners:    map[string]string{},
	}
}

// Record counts one request against the identity's current window. Windows
// are fixed and non-overlapping: the first request past the window edge
// starts a fresh one. A denied request does not consume from the next
// window.
func (t *Tracker) Record(identity string, now time.Time) core.RateDecision {
	identity = strings.TrimSpace(identity)
	if t == nil || identity == "" {
		return core.RateDecision{Allowed: true}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)

	entry, ok := t.entries[identity]
	if !ok || !now.Before(entry.WindowStart.Add(t.window)) {
		entry = &core.RateEntry{
			Identity:    identity,
			WindowStart: now,
			Limit:       t.limit,
		}
		t.entries[identity] = entry
	}
	if entry.Count >= t.limit {
		return core.RateDecision{
			Allowed: false,
			RetryIn: entry.WindowStart.Add(t.window).Sub(now),
		}
	}
	entry.Count++
	return core.RateDecision{
		Allowed:   true,
		Remaining: t.limit - entry.Count,
	}
}

// Link records a token as belonging to an identity.
func (t *Tracker) Link(identity string, tokenID string) {
	identity = strings.TrimSpace(identity)
	tokenID = strings.TrimSpace(tokenID)
	if t == nil || identity == "" || tokenID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.tokens[identity]
	if !ok {
		set = map[string]struct{}{}
		t.tokens[identity] = set
	}
	set[tokenID] = struct{}{}
	t.owners[tokenID] = identity
}

// Unlink drops one token from the index. Unknown pairs are a no-op.
func (t *Tracker) Unlink(identity string, tokenID string) {
	identity = strings.TrimSpace(identity)
	tokenID = strings.TrimSpace(tokenID)
	if t == nil || identity == "" || tokenID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.tokens[identity]; ok {
		delete(set, tokenID)
		if len(set) == 0 {
			delete(t.tokens, identity)
		}
	}
	if owner, ok := t.owners[tokenID]; ok && owner == identity {
		delete(t.owners, tokenID)
	}
}

// UnlinkAll removes every token linked to an identity and returns their ids.
// Both directions of the index are cleared in the same critical section.
func (t *Tracker) UnlinkAll(identity string) []string {
	identity = strings.TrimSpace(identity)
	if t == nil || identity == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.tokens[identity]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for tokenID := range set {
		ids = append(ids, tokenID)
		delete(t.owners, tokenID)
	}
	delete(t.tokens, identity)
	return ids
}

// Stats reports the index sizes for diagnostics.
func (t *Tracker) Stats() core.TrackerStats {
	if t == nil {
		return core.TrackerStats{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return core.TrackerStats{
		Identities: len(t.tokens),
		Tokens:     len(t.owners),
	}
}

// pruneLocked drops counters idle past their window plus the idle budget so
// one-off identities do not accumulate. The token index is untouched: links
// live until revocation or sweep removes their sessions. Callers hold t.mu.
func (t *Tracker) pruneLocked(now time.Time) {
	for identity, entry := range t.entries {
		if !entry.WindowStart.Add(t.window + t.idleAfter).After(now) {
			delete(t.entries, identity)
		}
	}
}

var _ core.RateTracker = (*Tracker)(nil)
