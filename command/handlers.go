package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-warden/core"
)

// MutatingService is the slice of the warden service the commands drive.
// *core.Service satisfies it.
type MutatingService interface {
	EnsureActive(ctx context.Context, domain string) (core.RenewalResult, error)
	RunRenewalPass(ctx context.Context) error
	RevokeSession(ctx context.Context, bearer string) error
	RevokeIdentity(ctx context.Context, identity string) (int, error)
	SweepExpiredSessions(ctx context.Context) (core.SweepResult, error)
	SetLogLevel(level string) error
	Shutdown(ctx context.Context) error
}

// RevocationResult reports a bulk identity revocation.
type RevocationResult struct {
	Identity string
	Revoked  int
}

type RenewCertificateCommand struct {
	service MutatingService
}

func NewRenewCertificateCommand(service MutatingService) *RenewCertificateCommand {
	return &RenewCertificateCommand{service: service}
}

func (c *RenewCertificateCommand) Execute(ctx context.Context, msg RenewCertificateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: certificate service is required")
	}
	if msg.Domain == "" {
		return c.service.RunRenewalPass(ctx)
	}
	out, err := c.service.EnsureActive(ctx, msg.Domain)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeSessionCommand struct {
	service MutatingService
}

func NewRevokeSessionCommand(service MutatingService) *RevokeSessionCommand {
	return &RevokeSessionCommand{service: service}
}

func (c *RevokeSessionCommand) Execute(ctx context.Context, msg RevokeSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	return c.service.RevokeSession(ctx, msg.Token)
}

type RevokeIdentityCommand struct {
	service MutatingService
}

func NewRevokeIdentityCommand(service MutatingService) *RevokeIdentityCommand {
	return &RevokeIdentityCommand{service: service}
}

func (c *RevokeIdentityCommand) Execute(ctx context.Context, msg RevokeIdentityMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	revoked, err := c.service.RevokeIdentity(ctx, msg.Identity)
	if err != nil {
		return err
	}
	storeResult(ctx, RevocationResult{Identity: msg.Identity, Revoked: revoked})
	return nil
}

type SweepStoreCommand struct {
	service MutatingService
}

func NewSweepStoreCommand(service MutatingService) *SweepStoreCommand {
	return &SweepStoreCommand{service: service}
}

func (c *SweepStoreCommand) Execute(ctx context.Context, msg SweepStoreMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: store service is required")
	}
	out, err := c.service.SweepExpiredSessions(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SetLogLevelCommand struct {
	service MutatingService
}

func NewSetLogLevelCommand(service MutatingService) *SetLogLevelCommand {
	return &SetLogLevelCommand{service: service}
}

func (c *SetLogLevelCommand) Execute(ctx context.Context, msg SetLogLevelMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: logging service is required")
	}
	return c.service.SetLogLevel(msg.Level)
}

type ShutdownCommand struct {
	service MutatingService
}

func NewShutdownCommand(service MutatingService) *ShutdownCommand {
	return &ShutdownCommand{service: service}
}

func (c *ShutdownCommand) Execute(ctx context.Context, msg ShutdownMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: shutdown service is required")
	}
	return c.service.Shutdown(ctx)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
