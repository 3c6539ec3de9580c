// Package warden embeds certificate lifecycle management and session
// authentication into a host process: ACME renewal with atomic certificate
// swaps, opaque bearer sessions over pluggable stores, federated identity
// exchange, and a local control socket.
package warden

import "github.com/goliatone/go-warden/core"

type Config = core.Config

type FederationProviderConfig = core.FederationProviderConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type SessionStore = core.SessionStore
type RateTracker = core.RateTracker
type CertificateAuthority = core.CertificateAuthority
type ChallengeSolver = core.ChallengeSolver
type FederationExchanger = core.FederationExchanger
type AccountKeyProvider = core.AccountKeyProvider
type RenewalLocker = core.RenewalLocker
type BackoffScheduler = core.BackoffScheduler
type MetricsRecorder = core.MetricsRecorder

type Session = core.Session
type Challenge = core.Challenge

type IssueRequest = core.IssueRequest
type IssuedSession = core.IssuedSession
type ValidationResult = core.ValidationResult
type RefreshSessionRequest = core.RefreshSessionRequest
type ExchangeRequest = core.ExchangeRequest
type IdentityAssertion = core.IdentityAssertion

type RenewalResult = core.RenewalResult
type SweepResult = core.SweepResult
type CertificateStatus = core.CertificateStatus
type StatusReport = core.StatusReport

var ErrSessionNotFound = core.ErrSessionNotFound

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorFactory         = core.WithErrorFactory
	WithErrorMapper          = core.WithErrorMapper
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithSessionStore         = core.WithSessionStore
	WithRateTracker          = core.WithRateTracker
	WithCertificateAuthority = core.WithCertificateAuthority
	WithChallengeSolver      = core.WithChallengeSolver
	WithFederationExchanger  = core.WithFederationExchanger
	WithAccountKeyProvider   = core.WithAccountKeyProvider
	WithRenewalLocker        = core.WithRenewalLocker
	WithBackoffScheduler     = core.WithBackoffScheduler
	WithClock                = core.WithClock
	WithPersistenceClient    = core.WithPersistenceClient
	WithRepositoryFactory    = core.WithRepositoryFactory
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// New builds a Service from exactly the components passed in; nothing is
// derived from cfg. Most hosts want Setup instead.
func New(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
