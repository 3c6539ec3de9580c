package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	sessionStore      SessionStore
	rateTracker       RateTracker
	authority         CertificateAuthority
	challengeSolver   ChallengeSolver
	federation        FederationExchanger
	accountKeys       AccountKeyProvider
	renewalLocker     RenewalLocker
	backoffScheduler  BackoffScheduler
	persistenceClient any
	repositoryFactory any
	nowFn             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithSessionStore(store SessionStore) Option {
	return func(b *serviceBuilder) {
		b.sessionStore = store
	}
}

func WithRateTracker(tracker RateTracker) Option {
	return func(b *serviceBuilder) {
		b.rateTracker = tracker
	}
}

func WithCertificateAuthority(authority CertificateAuthority) Option {
	return func(b *serviceBuilder) {
		b.authority = authority
	}
}

func WithChallengeSolver(solver ChallengeSolver) Option {
	return func(b *serviceBuilder) {
		b.challengeSolver = solver
	}
}

func WithFederationExchanger(exchanger FederationExchanger) Option {
	return func(b *serviceBuilder) {
		b.federation = exchanger
	}
}

func WithAccountKeyProvider(provider AccountKeyProvider) Option {
	return func(b *serviceBuilder) {
		b.accountKeys = provider
	}
}

func WithRenewalLocker(locker RenewalLocker) Option {
	return func(b *serviceBuilder) {
		b.renewalLocker = locker
	}
}

func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.backoffScheduler = scheduler
	}
}

// WithClock injects the time source used by expiry checks and cycles.
// Tests rely on it to drive renewal and sweep timing deterministically.
func WithClock(nowFn func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.nowFn = nowFn
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("warden", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return wardenErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	certificates := map[string]any{}
	if includeZero || len(cfg.Certificates.Domains) > 0 {
		certificates["domains"] = append([]string(nil), cfg.Certificates.Domains...)
	}
	if includeZero || strings.TrimSpace(cfg.Certificates.DirectoryURL) != "" {
		certificates["directory_url"] = cfg.Certificates.DirectoryURL
	}
	if includeZero || strings.TrimSpace(cfg.Certificates.ContactEmail) != "" {
		certificates["contact_email"] = cfg.Certificates.ContactEmail
	}
	if includeZero || cfg.Certificates.RenewWithin > 0 {
		certificates["renew_within"] = cfg.Certificates.RenewWithin
	}
	if includeZero || cfg.Certificates.CheckInterval > 0 {
		certificates["check_interval"] = cfg.Certificates.CheckInterval
	}
	if includeZero || cfg.Certificates.MaxAttempts > 0 {
		certificates["max_attempts"] = cfg.Certificates.MaxAttempts
	}
	if includeZero || cfg.Certificates.ChallengeTTL > 0 {
		certificates["challenge_ttl"] = cfg.Certificates.ChallengeTTL
	}
	if includeZero || cfg.Certificates.PollTimeout > 0 {
		certificates["poll_timeout"] = cfg.Certificates.PollTimeout
	}
	if includeZero || cfg.Certificates.RequestTimeout > 0 {
		certificates["request_timeout"] = cfg.Certificates.RequestTimeout
	}
	if includeZero || cfg.Certificates.BackoffInitial > 0 {
		certificates["backoff_initial"] = cfg.Certificates.BackoffInitial
	}
	if includeZero || cfg.Certificates.BackoffMax > 0 {
		certificates["backoff_max"] = cfg.Certificates.BackoffMax
	}
	if includeZero || cfg.Certificates.LockTTL > 0 {
		certificates["lock_ttl"] = cfg.Certificates.LockTTL
	}
	if includeZero || strings.TrimSpace(cfg.Certificates.AccountKeyPEM) != "" {
		certificates["account_key_pem"] = cfg.Certificates.AccountKeyPEM
	}
	if len(certificates) > 0 {
		layer["certificates"] = certificates
	}

	sessions := map[string]any{}
	if includeZero || cfg.Sessions.DefaultTTL > 0 {
		sessions["default_ttl"] = cfg.Sessions.DefaultTTL
	}
	if includeZero || cfg.Sessions.MaxTTL > 0 {
		sessions["max_ttl"] = cfg.Sessions.MaxTTL
	}
	if includeZero || cfg.Sessions.SweepInterval > 0 {
		sessions["sweep_interval"] = cfg.Sessions.SweepInterval
	}
	if includeZero || cfg.Sessions.SweepGrace > 0 {
		sessions["sweep_grace"] = cfg.Sessions.SweepGrace
	}
	if includeZero || cfg.Sessions.AllowRefresh {
		sessions["allow_refresh"] = cfg.Sessions.AllowRefresh
	}
	if len(sessions) > 0 {
		layer["sessions"] = sessions
	}

	rateLimit := map[string]any{}
	if includeZero || cfg.RateLimit.Window > 0 {
		rateLimit["window"] = cfg.RateLimit.Window
	}
	if includeZero || cfg.RateLimit.Limit > 0 {
		rateLimit["limit"] = cfg.RateLimit.Limit
	}
	if includeZero || cfg.RateLimit.IdleAfter > 0 {
		rateLimit["idle_after"] = cfg.RateLimit.IdleAfter
	}
	if len(rateLimit) > 0 {
		layer["rate_limit"] = rateLimit
	}

	store := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Store.Backend) != "" {
		store["backend"] = cfg.Store.Backend
	}
	if includeZero || cfg.Store.CacheTTL > 0 {
		store["cache_ttl"] = cfg.Store.CacheTTL
	}
	redis := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Store.Redis.Addr) != "" {
		redis["addr"] = cfg.Store.Redis.Addr
	}
	if includeZero || strings.TrimSpace(cfg.Store.Redis.Username) != "" {
		redis["username"] = cfg.Store.Redis.Username
	}
	if includeZero || strings.TrimSpace(cfg.Store.Redis.Password) != "" {
		redis["password"] = cfg.Store.Redis.Password
	}
	if includeZero || cfg.Store.Redis.DB != 0 {
		redis["db"] = cfg.Store.Redis.DB
	}
	if includeZero || strings.TrimSpace(cfg.Store.Redis.KeyPrefix) != "" {
		redis["key_prefix"] = cfg.Store.Redis.KeyPrefix
	}
	if len(redis) > 0 {
		store["redis"] = redis
	}
	sqlSettings := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Store.SQL.Driver) != "" {
		sqlSettings["driver"] = cfg.Store.SQL.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Store.SQL.DSN) != "" {
		sqlSettings["dsn"] = cfg.Store.SQL.DSN
	}
	if len(sqlSettings) > 0 {
		store["sql"] = sqlSettings
	}
	if len(store) > 0 {
		layer["store"] = store
	}

	bridge := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Bridge.SocketPath) != "" {
		bridge["socket_path"] = cfg.Bridge.SocketPath
	}
	if includeZero || cfg.Bridge.MaxFrameBytes > 0 {
		bridge["max_frame_bytes"] = cfg.Bridge.MaxFrameBytes
	}
	if len(bridge) > 0 {
		layer["bridge"] = bridge
	}

	federation := map[string]any{}
	if includeZero || cfg.Federation.WaitTimeout > 0 {
		federation["wait_timeout"] = cfg.Federation.WaitTimeout
	}
	if len(cfg.Federation.Providers) > 0 {
		providers := make([]map[string]any, 0, len(cfg.Federation.Providers))
		for _, provider := range cfg.Federation.Providers {
			providers = append(providers, map[string]any{
				"name":          provider.Name,
				"kind":          provider.Kind,
				"token_url":     provider.TokenURL,
				"userinfo_url":  provider.UserinfoURL,
				"client_id":     provider.ClientID,
				"client_secret": provider.ClientSecret,
				"redirect_uri":  provider.RedirectURI,
				"timeout":       provider.Timeout,
			})
		}
		federation["providers"] = providers
	}
	if len(federation) > 0 {
		layer["federation"] = federation
	}
	return layer
}
