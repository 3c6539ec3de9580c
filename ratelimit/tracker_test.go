package ratelimit

import (
	"sort"
	"testing"
	"time"

	"github.com/goliatone/go-warden/core"
)

func newTestTracker(limit int, window time.Duration) *Tracker {
	return NewTracker(core.RateLimitConfig{
		Limit:     limit,
		Window:    window,
		IdleAfter: 10 * time.Minute,
	})
}

func TestRecordEnforcesFixedWindow(t *testing.T) {
	tracker := newTestTracker(5, time.Second)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		decision := tracker.Record("user-1", now.Add(time.Duration(i)*100*time.Millisecond))
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if decision.Remaining != 5-(i+1) {
			t.Fatalf("expected remaining %d, got %d", 5-(i+1), decision.Remaining)
		}
	}

	denied := tracker.Record("user-1", now.Add(500*time.Millisecond))
	if denied.Allowed {
		t.Fatal("sixth request inside the window should be denied")
	}
	if denied.RetryIn != 500*time.Millisecond {
		t.Fatalf("expected retry hint of 500ms, got %s", denied.RetryIn)
	}

	// The first request past the window edge starts a fresh window.
	fresh := tracker.Record("user-1", now.Add(time.Second))
	if !fresh.Allowed || fresh.Remaining != 4 {
		t.Fatalf("expected fresh window, got %+v", fresh)
	}
}

func TestRecordWindowsDoNotOverlap(t *testing.T) {
	tracker := newTestTracker(1, time.Second)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	if !tracker.Record("user-1", now).Allowed {
		t.Fatal("first request should be allowed")
	}
	// Denied requests never consume from the next window.
	for i := 0; i < 3; i++ {
		if tracker.Record("user-1", now.Add(900*time.Millisecond)).Allowed {
			t.Fatal("request inside the exhausted window should be denied")
		}
	}
	if !tracker.Record("user-1", now.Add(time.Second)).Allowed {
		t.Fatal("next window should start unconsumed")
	}
}

func TestRecordIsolatesIdentities(t *testing.T) {
	tracker := newTestTracker(1, time.Second)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	if !tracker.Record("user-1", now).Allowed {
		t.Fatal("user-1 should be allowed")
	}
	if tracker.Record("user-1", now).Allowed {
		t.Fatal("user-1 should be exhausted")
	}
	if !tracker.Record("user-2", now).Allowed {
		t.Fatal("user-2 has an independent window")
	}
}

func TestLinkUnlinkKeepsBothDirectionsConsistent(t *testing.T) {
	tracker := newTestTracker(5, time.Second)

	tracker.Link("user-1", "token-a")
	tracker.Link("user-1", "token-b")
	tracker.Link("user-2", "token-c")

	stats := tracker.Stats()
	if stats.Identities != 2 || stats.Tokens != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	tracker.Unlink("user-1", "token-a")
	stats = tracker.Stats()
	if stats.Identities != 2 || stats.Tokens != 2 {
		t.Fatalf("unexpected stats after unlink %+v", stats)
	}

	// Unlinking through the wrong identity changes nothing.
	tracker.Unlink("user-2", "token-b")
	if got := tracker.Stats(); got.Tokens != 2 {
		t.Fatalf("expected mismatched unlink to be a no-op, got %+v", got)
	}
}

func TestUnlinkAllReturnsEveryLinkedToken(t *testing.T) {
	tracker := newTestTracker(5, time.Second)
	tracker.Link("user-1", "token-a")
	tracker.Link("user-1", "token-b")
	tracker.Link("user-1", "token-c")
	tracker.Link("user-2", "token-d")

	ids := tracker.UnlinkAll("user-1")
	sort.Strings(ids)
	want := []string{"token-a", "token-b", "token-c"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d tokens, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}

	stats := tracker.Stats()
	if stats.Identities != 1 || stats.Tokens != 1 {
		t.Fatalf("expected only user-2's link to survive, got %+v", stats)
	}
	if again := tracker.UnlinkAll("user-1"); len(again) != 0 {
		t.Fatalf("expected repeat to find nothing, got %v", again)
	}
}

func TestIdleCountersArePruned(t *testing.T) {
	tracker := newTestTracker(5, time.Second)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	tracker.Record("user-1", now)
	tracker.Record("user-2", now)
	if len(tracker.entries) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(tracker.entries))
	}

	// Past window + idle budget the counters are reclaimed by the next call.
	tracker.Record("user-3", now.Add(time.Second+10*time.Minute))
	if len(tracker.entries) != 1 {
		t.Fatalf("expected idle counters to be pruned, got %d", len(tracker.entries))
	}
}

func TestDefaultsApplied(t *testing.T) {
	tracker := NewTracker(core.RateLimitConfig{})
	if tracker.limit != defaultLimit || tracker.window != defaultWindow || tracker.idleAfter != defaultIdleAfter {
		t.Fatalf("expected defaults, got limit=%d window=%s idle=%s", tracker.limit, tracker.window, tracker.idleAfter)
	}
}
