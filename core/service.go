package core

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the warden core: it owns certificate lifecycle per domain,
// session issuance/validation, and the background cycles that keep both
// fresh. Hosts embed it and plug its handlers into their own transport.
type Service struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	sessionStore     SessionStore
	rateTracker      RateTracker
	authority        CertificateAuthority
	challengeSolver  ChallengeSolver
	federation       FederationExchanger
	accountKeys      AccountKeyProvider
	renewalLocker    RenewalLocker
	backoffScheduler BackoffScheduler
	nowFn            func() time.Time

	persistenceClient any
	repositoryFactory any

	// holders publishes one atomic snapshot cell per managed domain.
	holdersMu sync.Mutex
	holders   map[string]*certificateHolder

	// renewals serializes in-flight renewal per domain: a second trigger
	// joins the in-flight call instead of starting a duplicate exchange.
	renewMu  sync.Mutex
	renewals map[string]*renewalCall

	statusMu   sync.Mutex
	certStatus map[string]CertificateStatus
	lastSweep  SweepResult

	cyclesMu    sync.Mutex
	cyclesStop  context.CancelFunc
	cyclesGroup sync.WaitGroup
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	SessionStore     SessionStore
	RateTracker      RateTracker
	Authority        CertificateAuthority
	ChallengeSolver  ChallengeSolver
	Federation       FederationExchanger
	AccountKeys      AccountKeyProvider
	RenewalLocker    RenewalLocker
	BackoffScheduler BackoffScheduler
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("warden", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("warden"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.sessionStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				builder.sessionStore = storeProvider.SessionStore()
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.sessionStore = storeProvider.SessionStore()
		}
	}

	if builder.challengeSolver == nil {
		builder.challengeSolver = NewMemoryChallengeSolver(finalConfig.Certificates.ChallengeTTL)
	}
	if builder.renewalLocker == nil {
		builder.renewalLocker = NewMemoryRenewalLocker()
	}
	if builder.backoffScheduler == nil {
		builder.backoffScheduler = ExponentialBackoffScheduler{
			Initial: finalConfig.Certificates.BackoffInitial,
			Max:     finalConfig.Certificates.BackoffMax,
		}
	}
	nowFn := builder.nowFn
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		sessionStore:      builder.sessionStore,
		rateTracker:       builder.rateTracker,
		authority:         builder.authority,
		challengeSolver:   builder.challengeSolver,
		federation:        builder.federation,
		accountKeys:       builder.accountKeys,
		renewalLocker:     builder.renewalLocker,
		backoffScheduler:  builder.backoffScheduler,
		nowFn:             nowFn,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		holders:           map[string]*certificateHolder{},
		renewals:          map[string]*renewalCall{},
		certStatus:        map[string]CertificateStatus{},
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		SessionStore:     s.sessionStore,
		RateTracker:      s.rateTracker,
		Authority:        s.authority,
		ChallengeSolver:  s.challengeSolver,
		Federation:       s.federation,
		AccountKeys:      s.accountKeys,
		RenewalLocker:    s.renewalLocker,
		BackoffScheduler: s.backoffScheduler,
	}
}

// SetLogLevel adjusts the resolved logger provider when it supports
// level changes at runtime; it is a no-op otherwise.
func (s *Service) SetLogLevel(level string) error {
	if s == nil {
		return nil
	}
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return s.mapError(s.errorFactory("core: log level is required", goerrors.CategoryBadInput))
	}
	if setter, ok := s.loggerProvider.(interface{ SetLevel(string) error }); ok {
		return setter.SetLevel(level)
	}
	if setter, ok := any(s.logger).(interface{ SetLevel(string) error }); ok {
		return setter.SetLevel(level)
	}
	s.logInfo(context.Background(), "log level change requested but provider does not support it", map[string]any{
		"level": level,
	})
	return nil
}

func (s *Service) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
