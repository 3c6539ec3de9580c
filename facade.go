package warden

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-warden/adapters/gocommand"
	"github.com/goliatone/go-warden/bridge"
	wardencommand "github.com/goliatone/go-warden/command"
	"github.com/goliatone/go-warden/core"
	wardenquery "github.com/goliatone/go-warden/query"
)

// CommandQueryService is the full control surface the facade drives.
// *core.Service satisfies it.
type CommandQueryService interface {
	wardencommand.MutatingService
	wardenquery.StatusReader
	wardenquery.SessionValidator
}

type Commands struct {
	RenewCertificate *wardencommand.RenewCertificateCommand
	RevokeSession    *wardencommand.RevokeSessionCommand
	RevokeIdentity   *wardencommand.RevokeIdentityCommand
	SweepStore       *wardencommand.SweepStoreCommand
	SetLogLevel      *wardencommand.SetLogLevelCommand
	Shutdown         *wardencommand.ShutdownCommand
}

type Queries struct {
	Status          *wardenquery.StatusQuery
	ValidateSession *wardenquery.ValidateSessionQuery
}

// Facade bundles the command and query handlers over one service so hosts
// and the bridge server share a single wiring point.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("warden: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		RenewCertificate: wardencommand.NewRenewCertificateCommand(service),
		RevokeSession:    wardencommand.NewRevokeSessionCommand(service),
		RevokeIdentity:   wardencommand.NewRevokeIdentityCommand(service),
		SweepStore:       wardencommand.NewSweepStoreCommand(service),
		SetLogLevel:      wardencommand.NewSetLogLevelCommand(service),
		Shutdown:         wardencommand.NewShutdownCommand(service),
	}
	facade.queries = Queries{
		Status:          wardenquery.NewStatusQuery(service),
		ValidateSession: wardenquery.NewValidateSessionQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// RegisterHandlers subscribes every command and query with the go-command
// dispatcher and registers them with the adapter's registry. Returned
// subscriptions stay active until unsubscribed.
func (f *Facade) RegisterHandlers(adapter *gocommand.RegistryAdapter) ([]commanddispatcher.Subscription, error) {
	if f == nil {
		return nil, fmt.Errorf("warden: facade is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("warden: registry adapter is required")
	}

	var subscriptions []commanddispatcher.Subscription
	unsubscribeAll := func() {
		for _, sub := range subscriptions {
			if sub != nil {
				sub.Unsubscribe()
			}
		}
	}

	commandSubs := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.RenewCertificate)
		},
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.RevokeSession)
		},
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.RevokeIdentity)
		},
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.SweepStore)
		},
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.SetLogLevel)
		},
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.Shutdown)
		},
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribeQuery(adapter, f.queries.Status)
		},
		func() (commanddispatcher.Subscription, error) {
			return gocommand.RegisterAndSubscribeQuery(adapter, f.queries.ValidateSession)
		},
	}
	for _, register := range commandSubs {
		sub, err := register()
		if err != nil {
			unsubscribeAll()
			return nil, err
		}
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions, nil
}

// BridgeHandler adapts the facade to the control socket: envelope types map
// to the matching command or query, payloads decode into their messages, and
// command results travel back as the response payload.
func (f *Facade) BridgeHandler() bridge.Handler {
	return func(ctx context.Context, envelope bridge.Envelope) (any, error) {
		if f == nil {
			return nil, fmt.Errorf("warden: facade is required")
		}
		switch envelope.Type {
		case wardencommand.TypeRenewCertificate:
			msg, err := decodeBridgeMessage[wardencommand.RenewCertificateMessage](envelope.Payload)
			if err != nil {
				return nil, err
			}
			return runCommandWithResult[wardencommand.RenewCertificateMessage, core.RenewalResult](
				ctx, f.commands.RenewCertificate, msg)
		case wardencommand.TypeRevokeSession:
			msg, err := decodeBridgeMessage[wardencommand.RevokeSessionMessage](envelope.Payload)
			if err != nil {
				return nil, err
			}
			return nil, runCommand(ctx, f.commands.RevokeSession, msg)
		case wardencommand.TypeRevokeIdentity:
			msg, err := decodeBridgeMessage[wardencommand.RevokeIdentityMessage](envelope.Payload)
			if err != nil {
				return nil, err
			}
			return runCommandWithResult[wardencommand.RevokeIdentityMessage, wardencommand.RevocationResult](
				ctx, f.commands.RevokeIdentity, msg)
		case wardencommand.TypeSweepStore:
			return runCommandWithResult[wardencommand.SweepStoreMessage, core.SweepResult](
				ctx, f.commands.SweepStore, wardencommand.SweepStoreMessage{})
		case wardencommand.TypeSetLogLevel:
			msg, err := decodeBridgeMessage[wardencommand.SetLogLevelMessage](envelope.Payload)
			if err != nil {
				return nil, err
			}
			return nil, runCommand(ctx, f.commands.SetLogLevel, msg)
		case wardencommand.TypeShutdown:
			return nil, runCommand(ctx, f.commands.Shutdown, wardencommand.ShutdownMessage{})
		case wardenquery.TypeStatus:
			return f.queries.Status.Query(ctx, wardenquery.StatusMessage{})
		case wardenquery.TypeValidateSession:
			msg, err := decodeBridgeMessage[wardenquery.ValidateSessionMessage](envelope.Payload)
			if err != nil {
				return nil, err
			}
			if err := msg.Validate(); err != nil {
				return nil, err
			}
			return f.queries.ValidateSession.Query(ctx, msg)
		default:
			return nil, goerrors.New(
				fmt.Sprintf("warden: unknown message type %q", envelope.Type),
				goerrors.CategoryBadInput,
			).WithTextCode(core.WardenErrorBadInput)
		}
	}
}

type validatable interface {
	Validate() error
}

func decodeBridgeMessage[T any](payload json.RawMessage) (T, error) {
	var msg T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			return msg, goerrors.Wrap(err, goerrors.CategoryBadInput, "warden: payload decode failed").
				WithTextCode(core.WardenErrorBadInput)
		}
	}
	return msg, nil
}

func runCommand[T any](ctx context.Context, cmd gocmd.Commander[T], msg T) error {
	if v, ok := any(msg).(validatable); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return cmd.Execute(ctx, msg)
}

func runCommandWithResult[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (any, error) {
	collector := gocmd.NewResult[R]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := runCommand(ctx, cmd, msg); err != nil {
		return nil, err
	}
	result, ok := collector.Load()
	if !ok {
		return nil, nil
	}
	return result, nil
}
