package core

import (
	"context"
	"crypto"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// IssueRequest creates one session for an authenticated identity.
type IssueRequest struct {
	Identity string
	Claims   map[string]string
	TTL      time.Duration
	Origin   SessionOrigin
}

// IssuedSession carries the bearer token exactly once; only the digest-backed
// record survives in the store.
type IssuedSession struct {
	Token   string
	Session Session
}

// ValidationResult is what a successful bearer validation yields.
type ValidationResult struct {
	Identity  string
	Claims    map[string]string
	ExpiresAt time.Time
	Origin    SessionOrigin
}

// RefreshSessionRequest extends a session's expiry without reissuing its
// token identifier. Honored only when the configuration allows refresh.
type RefreshSessionRequest struct {
	Token string
	TTL   time.Duration
}

// ExchangeRequest delegates authentication to an external identity provider.
type ExchangeRequest struct {
	Provider    string
	Code        string
	RedirectURI string
	TTL         time.Duration
	Metadata    map[string]any
}

// IdentityAssertion is the normalized result of a federated exchange:
// provider wire formats never cross this boundary.
type IdentityAssertion struct {
	Provider  string
	Subject   string
	Claims    map[string]string
	ExpiresAt time.Time
}

// CertificateOrder tracks one in-flight issuance against the authority.
type CertificateOrder struct {
	Domain       string
	Challenge    Challenge
	OrderURL     string
	AuthzURL     string
	ChallengeURL string
}

// IssuedCertificate is the authority's final product for one domain.
type IssuedCertificate struct {
	Domain         string
	CertificatePEM []byte
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// RenewalResult reports one EnsureActive run.
type RenewalResult struct {
	Domain   string
	Renewed  bool
	Attempts int
	Snapshot *CertificateSnapshot
}

// SweepResult reports one expired-session sweep.
type SweepResult struct {
	Removed int
	SweptAt time.Time
}

// CertificateStatus is the per-domain diagnostics view.
type CertificateStatus struct {
	Domain        string
	State         CertificateState
	IssuedAt      time.Time
	ExpiresAt     time.Time
	TimeToExpiry  time.Duration
	LastRenewedAt time.Time
	LastError     string
}

// SessionStats summarizes the tracker and sweep state for diagnostics.
type SessionStats struct {
	TrackedIdentities int
	LinkedTokens      int
	LastSweepAt       time.Time
	LastSweepRemoved  int
}

// StatusReport is the diagnostics dump served over the bridge.
type StatusReport struct {
	ServiceName  string
	Certificates []CertificateStatus
	Sessions     SessionStats
	GeneratedAt  time.Time
}

// SessionStore is the pluggable credential store: an in-process concurrent
// map or a networked cache with the same semantics. All operations must be
// safe under concurrent callers. SweepExpired is the only operation allowed
// to delete records purely because of time; explicit revocation deletes
// through Delete at any moment.
type SessionStore interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, tokenID string) (Session, error)
	Delete(ctx context.Context, tokenID string) error
	SweepExpired(ctx context.Context, now time.Time, grace time.Duration) (int, error)
}

// RateTracker keeps the per-identity fixed-window counters and the
// identity -> token-id back-references used for mass revocation. Both
// directions change under one critical section. In-process and
// sub-millisecond: no context, no I/O.
type RateTracker interface {
	Record(identity string, now time.Time) RateDecision
	Link(identity string, tokenID string)
	Unlink(identity string, tokenID string)
	UnlinkAll(identity string) []string
	Stats() TrackerStats
}

// TrackerStats is a point-in-time size report for diagnostics.
type TrackerStats struct {
	Identities int
	Tokens     int
}

// CertificateAuthority abstracts the automated authority protocol. The ACME
// client implements it; tests use fakes. Every call must honor the context
// deadline the manager sets.
type CertificateAuthority interface {
	BeginOrder(ctx context.Context, domain string) (CertificateOrder, error)
	AcceptChallenge(ctx context.Context, order CertificateOrder) error
	AwaitAuthorization(ctx context.Context, order CertificateOrder) error
	Finalize(ctx context.Context, order CertificateOrder, keyPEM []byte) (IssuedCertificate, error)
}

// ChallengeSolver publishes and resolves domain-validation challenges.
type ChallengeSolver interface {
	Register(challenge Challenge) error
	Resolve(path string) (Challenge, bool)
	Satisfy(token string) error
	Expire(token string) error
}

// FederationExchanger verifies an authorization code with an external
// identity provider and returns a normalized assertion. Implementations must
// apply their own bounded timeout; local validation never goes through here.
type FederationExchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (IdentityAssertion, error)
}

// AccountKeyProvider supplies the authority account key.
type AccountKeyProvider interface {
	AccountKey(ctx context.Context) (crypto.Signer, error)
}

// LockHandle releases a held renewal lock.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// RenewalLocker serializes renewal for a domain across processes. The
// in-process single-flight already guarantees one renewal per domain inside
// one process; the locker extends that to shared deployments.
type RenewalLocker interface {
	Acquire(ctx context.Context, domain string, ttl time.Duration) (LockHandle, error)
}

// BackoffScheduler spaces retry attempts.
type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// StoreProvider exposes the stores a repository factory builds.
type StoreProvider interface {
	SessionStore() SessionStore
}

// RepositoryStoreFactory builds stores from a persistence client.
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type CommandMessage interface {
	Type() string
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
