package warden

import (
	"fmt"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	acmeclient "github.com/goliatone/go-warden/acme"
	"github.com/goliatone/go-warden/core"
	"github.com/goliatone/go-warden/identity"
	"github.com/goliatone/go-warden/ratelimit"
	"github.com/goliatone/go-warden/security"
	memorystore "github.com/goliatone/go-warden/store/memory"
	redisstore "github.com/goliatone/go-warden/store/redis"
	sqlstore "github.com/goliatone/go-warden/store/sql"
)

// Setup builds a Service with the default component set derived from cfg:
// the configured session store backend, the fixed-window rate tracker, the
// ACME authority when domains are configured, and the federation exchanger
// when providers are configured. Options passed by the host are applied
// after the derived defaults, so explicit injections win.
func Setup(cfg Config, options ...Option) (*Service, error) {
	defaults, err := defaultComponents(cfg)
	if err != nil {
		return nil, err
	}
	return core.NewService(cfg, append(defaults, options...)...)
}

func defaultComponents(cfg Config) ([]Option, error) {
	var options []Option

	store, err := buildSessionStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	if store != nil {
		options = append(options, core.WithSessionStore(store))
	}

	options = append(options, core.WithRateTracker(ratelimit.NewTracker(cfg.RateLimit)))

	if len(cfg.Certificates.Domains) > 0 {
		keys, err := buildAccountKeyProvider(cfg.Certificates)
		if err != nil {
			return nil, err
		}
		authority, err := acmeclient.New(cfg.Certificates, keys)
		if err != nil {
			return nil, err
		}
		options = append(options,
			core.WithAccountKeyProvider(keys),
			core.WithCertificateAuthority(authority),
		)
	}

	if len(cfg.Federation.Providers) > 0 {
		exchanger, err := identity.NewExchanger(cfg.Federation)
		if err != nil {
			return nil, err
		}
		options = append(options, core.WithFederationExchanger(exchanger))
	}

	return options, nil
}

func buildSessionStore(cfg core.StoreConfig) (core.SessionStore, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", core.StoreBackendMemory:
		return memorystore.NewSessionStore(), nil
	case core.StoreBackendRedis:
		return redisstore.NewSessionStore(cfg.Redis)
	case core.StoreBackendSQL:
		if strings.TrimSpace(cfg.SQL.DSN) == "" {
			return nil, fmt.Errorf("warden: store sql dsn is required for the sql backend")
		}
		db, err := sqlstore.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		factory, err := sqlstore.NewRepositoryFactoryFromDB(db)
		if err != nil {
			return nil, err
		}
		base := factory.SessionStore()
		if cfg.CacheTTL <= 0 {
			return base, nil
		}
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("warden: session cache setup failed: %w", err)
		}
		return sqlstore.NewCachedSessionStore(base, cacheService)
	default:
		return nil, fmt.Errorf("warden: unknown store backend %q", cfg.Backend)
	}
}

func buildAccountKeyProvider(cfg core.CertificatesConfig) (core.AccountKeyProvider, error) {
	if pem := strings.TrimSpace(cfg.AccountKeyPEM); pem != "" {
		return security.NewStaticAccountKeyProvider([]byte(pem))
	}
	return security.NewGeneratedAccountKeyProvider(), nil
}
