package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-warden/core"
)

type stubStatusReader struct {
	statusFn func(ctx context.Context) (core.StatusReport, error)
}

func (s stubStatusReader) Status(ctx context.Context) (core.StatusReport, error) {
	if s.statusFn == nil {
		return core.StatusReport{}, fmt.Errorf("unexpected Status call")
	}
	return s.statusFn(ctx)
}

type stubSessionValidator struct {
	validateFn func(ctx context.Context, bearer string) (core.ValidationResult, error)
}

func (s stubSessionValidator) ValidateSession(ctx context.Context, bearer string) (core.ValidationResult, error) {
	if s.validateFn == nil {
		return core.ValidationResult{}, fmt.Errorf("unexpected ValidateSession call")
	}
	return s.validateFn(ctx, bearer)
}

func TestStatusQuery_QueryDelegates(t *testing.T) {
	generatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expected := core.StatusReport{
		ServiceName: "warden",
		Certificates: []core.CertificateStatus{
			{Domain: "api.example.com", State: core.CertificateStateActive},
		},
		Sessions:    core.SessionStats{TrackedIdentities: 2, LinkedTokens: 5},
		GeneratedAt: generatedAt,
	}
	called := false
	reader := stubStatusReader{
		statusFn: func(_ context.Context) (core.StatusReport, error) {
			called = true
			return expected, nil
		},
	}

	qry := NewStatusQuery(reader)
	result, err := qry.Query(context.Background(), StatusMessage{})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if !called {
		t.Fatalf("expected status reader invocation")
	}
	if result.ServiceName != "warden" || len(result.Certificates) != 1 {
		t.Fatalf("unexpected status report: %#v", result)
	}
	if result.Sessions.LinkedTokens != 5 {
		t.Fatalf("unexpected session stats: %#v", result.Sessions)
	}
}

func TestValidateSessionQuery_QueryDelegates(t *testing.T) {
	expected := core.ValidationResult{
		Identity:  "user:42",
		Claims:    map[string]string{"role": "admin"},
		ExpiresAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		Origin:    core.SessionOriginLocal,
	}
	called := false
	validator := stubSessionValidator{
		validateFn: func(_ context.Context, bearer string) (core.ValidationResult, error) {
			called = true
			if bearer != "tok_1.secret" {
				t.Fatalf("unexpected bearer: %q", bearer)
			}
			return expected, nil
		},
	}

	qry := NewValidateSessionQuery(validator)
	result, err := qry.Query(context.Background(), ValidateSessionMessage{Token: "tok_1.secret"})
	if err != nil {
		t.Fatalf("query validate session: %v", err)
	}
	if !called {
		t.Fatalf("expected validator invocation")
	}
	if result.Identity != expected.Identity || result.Claims["role"] != "admin" {
		t.Fatalf("unexpected validation result: %#v", result)
	}
}

func TestValidateSessionQuery_PropagatesValidatorError(t *testing.T) {
	cause := core.NewUnauthorizedError(core.WardenErrorTokenExpired, nil)
	validator := stubSessionValidator{
		validateFn: func(_ context.Context, _ string) (core.ValidationResult, error) {
			return core.ValidationResult{}, cause
		},
	}

	qry := NewValidateSessionQuery(validator)
	_, err := qry.Query(context.Background(), ValidateSessionMessage{Token: "tok_1.secret"})
	if err == nil {
		t.Fatalf("expected validator error to propagate")
	}
	if core.AuthFailureCode(err) != core.WardenErrorTokenExpired {
		t.Fatalf("expected token expired code, got %v", err)
	}
}
