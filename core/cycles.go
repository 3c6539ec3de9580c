package core

import (
	"context"
	"fmt"
	"time"
)

// RunRenewalPass runs one renewal check over every configured domain.
// Errors on one domain never stop the others; the last error is returned
// so the cycle can log it.
func (s *Service) RunRenewalPass(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	var lastErr error
	for _, domain := range s.config.Certificates.Domains {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.EnsureActive(ctx, domain); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// RunSweepPass runs one expired-session sweep.
func (s *Service) RunSweepPass(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	_, err := s.SweepExpiredSessions(ctx)
	return err
}

// StartCycles launches the renewal and sweep loops. Calling it twice is a
// no-op until Shutdown drains the previous run.
func (s *Service) StartCycles(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	s.cyclesMu.Lock()
	defer s.cyclesMu.Unlock()
	if s.cyclesStop != nil {
		return nil
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	s.cyclesStop = cancel

	if len(s.config.Certificates.Domains) > 0 {
		s.cyclesGroup.Add(1)
		go s.runCycle(cycleCtx, "certificate_renewal", s.config.Certificates.CheckInterval, s.RunRenewalPass)
	}
	if s.sessionStore != nil && s.config.Sessions.SweepInterval > 0 {
		s.cyclesGroup.Add(1)
		go s.runCycle(cycleCtx, "session_sweep", s.config.Sessions.SweepInterval, s.RunSweepPass)
	}
	return nil
}

// Shutdown stops the cycles and waits for in-flight passes to drain, bounded
// by the caller's context.
func (s *Service) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.cyclesMu.Lock()
	stop := s.cyclesStop
	s.cyclesStop = nil
	s.cyclesMu.Unlock()
	if stop == nil {
		return nil
	}
	stop()

	done := make(chan struct{})
	go func() {
		s.cyclesGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCycle executes pass immediately, then on every interval tick until the
// context is cancelled. Pass errors are logged and the loop keeps going.
func (s *Service) runCycle(ctx context.Context, name string, interval time.Duration, pass func(context.Context) error) {
	defer s.cyclesGroup.Done()
	if interval <= 0 {
		interval = time.Minute
	}

	for {
		if err := pass(ctx); err != nil && ctx.Err() == nil {
			s.logError(ctx, "cycle pass failed", map[string]any{
				"cycle": name,
				"error": err.Error(),
			})
		}
		if err := waitWithContext(ctx, interval); err != nil {
			return
		}
	}
}
