package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-warden/core"
)

const defaultWaitTimeout = 180 * time.Second

type pendingOutcome struct {
	assertion core.IdentityAssertion
	err       error
}

// PendingExchanges correlates browser-completed logins with the caller that
// started them: the caller Awaits a state id while the callback handler
// Completes it. Every state id resolves at most once.
type PendingExchanges struct {
	mu          sync.Mutex
	waiters     map[string]chan pendingOutcome
	waitTimeout time.Duration
}

func NewPendingExchanges(waitTimeout time.Duration) *PendingExchanges {
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &PendingExchanges{
		waiters:     map[string]chan pendingOutcome{},
		waitTimeout: waitTimeout,
	}
}

// Begin registers a state id before the user is redirected to the provider.
func (p *PendingExchanges) Begin(stateID string) error {
	stateID = strings.TrimSpace(stateID)
	if stateID == "" {
		return fmt.Errorf("identity: state id is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[stateID]; exists {
		return fmt.Errorf("identity: exchange %q is already pending", stateID)
	}
	p.waiters[stateID] = make(chan pendingOutcome, 1)
	return nil
}

// Complete resolves a pending exchange from the provider callback. Unknown
// or already-resolved state ids are rejected so a replayed callback cannot
// hijack a waiter. The waiter owns map removal, so completing before Await
// runs is safe.
func (p *PendingExchanges) Complete(stateID string, assertion core.IdentityAssertion, err error) error {
	stateID = strings.TrimSpace(stateID)

	p.mu.Lock()
	waiter, exists := p.waiters[stateID]
	p.mu.Unlock()
	if !exists {
		return fmt.Errorf("identity: no pending exchange for %q", stateID)
	}

	select {
	case waiter <- pendingOutcome{assertion: assertion, err: err}:
		return nil
	default:
		return fmt.Errorf("identity: exchange %q is already resolved", stateID)
	}
}

// Await blocks until the exchange completes, the context ends, or the wait
// budget runs out.
func (p *PendingExchanges) Await(ctx context.Context, stateID string) (core.IdentityAssertion, error) {
	stateID = strings.TrimSpace(stateID)

	p.mu.Lock()
	waiter, exists := p.waiters[stateID]
	p.mu.Unlock()
	if !exists {
		return core.IdentityAssertion{}, fmt.Errorf("identity: no pending exchange for %q", stateID)
	}

	timer := time.NewTimer(p.waitTimeout)
	defer timer.Stop()

	select {
	case outcome := <-waiter:
		p.abandon(stateID)
		return outcome.assertion, outcome.err
	case <-ctx.Done():
		p.abandon(stateID)
		return core.IdentityAssertion{}, ctx.Err()
	case <-timer.C:
		p.abandon(stateID)
		return core.IdentityAssertion{}, goerrors.New(
			fmt.Sprintf("identity: exchange %q was not completed in time", stateID),
			goerrors.CategoryExternal,
		).WithTextCode(core.WardenErrorFederationUnreachable)
	}
}

// Pending reports the number of unresolved exchanges.
func (p *PendingExchanges) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

func (p *PendingExchanges) abandon(stateID string) {
	p.mu.Lock()
	delete(p.waiters, stateID)
	p.mu.Unlock()
}
