package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRenewalInitialBackoff = time.Second
	defaultRenewalMaxBackoff     = 2 * time.Minute
	defaultRenewalLockTTL        = 5 * time.Minute
)

// ExponentialBackoffScheduler doubles the delay per attempt up to Max.
type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRenewalInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRenewalMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MemoryRenewalLocker is the in-process RenewalLocker. Locks expire after
// their TTL so a crashed holder cannot wedge a domain forever.
type MemoryRenewalLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryRenewalLocker() *MemoryRenewalLocker {
	return &MemoryRenewalLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryRenewalLocker) Acquire(_ context.Context, domain string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: renewal locker is not configured")
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, fmt.Errorf("core: domain is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRenewalLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[domain]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: renewal lock already held for domain %q", domain)
	}
	l.locks[domain] = now.Add(ttl)
	return &memoryLockHandle{locker: l, domain: domain}, nil
}

type memoryLockHandle struct {
	locker *MemoryRenewalLocker
	domain string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.domain)
		h.locker.mu.Unlock()
	})
	return nil
}

var (
	_ RenewalLocker    = (*MemoryRenewalLocker)(nil)
	_ BackoffScheduler = ExponentialBackoffScheduler{}
)
