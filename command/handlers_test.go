package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-warden/core"
)

type stubMutatingService struct {
	ensureActiveFn   func(ctx context.Context, domain string) (core.RenewalResult, error)
	runRenewalPassFn func(ctx context.Context) error
	revokeSessionFn  func(ctx context.Context, bearer string) error
	revokeIdentityFn func(ctx context.Context, identity string) (int, error)
	sweepFn          func(ctx context.Context) (core.SweepResult, error)
	setLogLevelFn    func(level string) error
	shutdownFn       func(ctx context.Context) error
}

func (s stubMutatingService) EnsureActive(ctx context.Context, domain string) (core.RenewalResult, error) {
	if s.ensureActiveFn == nil {
		return core.RenewalResult{}, fmt.Errorf("unexpected EnsureActive call")
	}
	return s.ensureActiveFn(ctx, domain)
}

func (s stubMutatingService) RunRenewalPass(ctx context.Context) error {
	if s.runRenewalPassFn == nil {
		return fmt.Errorf("unexpected RunRenewalPass call")
	}
	return s.runRenewalPassFn(ctx)
}

func (s stubMutatingService) RevokeSession(ctx context.Context, bearer string) error {
	if s.revokeSessionFn == nil {
		return fmt.Errorf("unexpected RevokeSession call")
	}
	return s.revokeSessionFn(ctx, bearer)
}

func (s stubMutatingService) RevokeIdentity(ctx context.Context, identity string) (int, error) {
	if s.revokeIdentityFn == nil {
		return 0, fmt.Errorf("unexpected RevokeIdentity call")
	}
	return s.revokeIdentityFn(ctx, identity)
}

func (s stubMutatingService) SweepExpiredSessions(ctx context.Context) (core.SweepResult, error) {
	if s.sweepFn == nil {
		return core.SweepResult{}, fmt.Errorf("unexpected SweepExpiredSessions call")
	}
	return s.sweepFn(ctx)
}

func (s stubMutatingService) SetLogLevel(level string) error {
	if s.setLogLevelFn == nil {
		return fmt.Errorf("unexpected SetLogLevel call")
	}
	return s.setLogLevelFn(level)
}

func (s stubMutatingService) Shutdown(ctx context.Context) error {
	if s.shutdownFn == nil {
		return fmt.Errorf("unexpected Shutdown call")
	}
	return s.shutdownFn(ctx)
}

func TestRenewCertificateCommand_DomainForcesRenewalAndStoresResult(t *testing.T) {
	expected := core.RenewalResult{Domain: "api.example.com", Renewed: true, Attempts: 1}
	called := false

	svc := stubMutatingService{
		ensureActiveFn: func(_ context.Context, domain string) (core.RenewalResult, error) {
			called = true
			if domain != "api.example.com" {
				t.Fatalf("expected domain api.example.com, got %q", domain)
			}
			return expected, nil
		},
	}

	cmd := NewRenewCertificateCommand(svc)
	collector := gocmd.NewResult[core.RenewalResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, RenewCertificateMessage{Domain: "api.example.com"}); err != nil {
		t.Fatalf("execute renew: %v", err)
	}
	if !called {
		t.Fatalf("expected EnsureActive invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected renewal result to be stored")
	}
	if !result.Renewed || result.Domain != expected.Domain {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestRenewCertificateCommand_EmptyDomainRunsFullPass(t *testing.T) {
	called := false
	svc := stubMutatingService{
		runRenewalPassFn: func(_ context.Context) error {
			called = true
			return nil
		},
	}

	cmd := NewRenewCertificateCommand(svc)
	if err := cmd.Execute(context.Background(), RenewCertificateMessage{}); err != nil {
		t.Fatalf("execute renew pass: %v", err)
	}
	if !called {
		t.Fatalf("expected RunRenewalPass invocation")
	}
}

func TestRevocationCommands_DelegateToService(t *testing.T) {
	t.Run("session", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			revokeSessionFn: func(_ context.Context, bearer string) error {
				called = true
				if bearer != "tok_1.secret" {
					t.Fatalf("unexpected bearer: %q", bearer)
				}
				return nil
			},
		}
		cmd := NewRevokeSessionCommand(svc)
		if err := cmd.Execute(context.Background(), RevokeSessionMessage{Token: "tok_1.secret"}); err != nil {
			t.Fatalf("execute revoke session: %v", err)
		}
		if !called {
			t.Fatalf("expected RevokeSession invocation")
		}
	})

	t.Run("identity", func(t *testing.T) {
		svc := stubMutatingService{
			revokeIdentityFn: func(_ context.Context, identity string) (int, error) {
				if identity != "user:42" {
					t.Fatalf("unexpected identity: %q", identity)
				}
				return 3, nil
			},
		}
		cmd := NewRevokeIdentityCommand(svc)
		collector := gocmd.NewResult[RevocationResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)

		if err := cmd.Execute(ctx, RevokeIdentityMessage{Identity: "user:42"}); err != nil {
			t.Fatalf("execute revoke identity: %v", err)
		}
		stored, ok := collector.Load()
		if !ok {
			t.Fatalf("expected revocation result")
		}
		if stored.Revoked != 3 || stored.Identity != "user:42" {
			t.Fatalf("unexpected revocation result: %#v", stored)
		}
	})
}

func TestSweepStoreCommand_StoresSweepResult(t *testing.T) {
	sweptAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := stubMutatingService{
		sweepFn: func(_ context.Context) (core.SweepResult, error) {
			return core.SweepResult{Removed: 7, SweptAt: sweptAt}, nil
		},
	}

	cmd := NewSweepStoreCommand(svc)
	collector := gocmd.NewResult[core.SweepResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, SweepStoreMessage{}); err != nil {
		t.Fatalf("execute sweep: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected sweep result")
	}
	if stored.Removed != 7 || !stored.SweptAt.Equal(sweptAt) {
		t.Fatalf("unexpected sweep result: %#v", stored)
	}
}

func TestOperationalCommands_DelegateToService(t *testing.T) {
	t.Run("log level", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			setLogLevelFn: func(level string) error {
				called = true
				if level != "debug" {
					t.Fatalf("unexpected level: %q", level)
				}
				return nil
			},
		}
		cmd := NewSetLogLevelCommand(svc)
		if err := cmd.Execute(context.Background(), SetLogLevelMessage{Level: "debug"}); err != nil {
			t.Fatalf("execute set log level: %v", err)
		}
		if !called {
			t.Fatalf("expected SetLogLevel invocation")
		}
	})

	t.Run("shutdown", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			shutdownFn: func(_ context.Context) error {
				called = true
				return nil
			},
		}
		cmd := NewShutdownCommand(svc)
		if err := cmd.Execute(context.Background(), ShutdownMessage{}); err != nil {
			t.Fatalf("execute shutdown: %v", err)
		}
		if !called {
			t.Fatalf("expected Shutdown invocation")
		}
	})
}

func TestCommands_PropagateServiceErrors(t *testing.T) {
	cause := fmt.Errorf("store outage")
	svc := stubMutatingService{
		sweepFn: func(_ context.Context) (core.SweepResult, error) {
			return core.SweepResult{}, cause
		},
	}

	cmd := NewSweepStoreCommand(svc)
	if err := cmd.Execute(context.Background(), SweepStoreMessage{}); err != cause {
		t.Fatalf("expected service error to propagate, got %v", err)
	}
}
