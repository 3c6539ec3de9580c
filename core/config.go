package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
	StoreBackendSQL    = "sql"
)

type CertificatesConfig struct {
	Domains        []string      `koanf:"domains" mapstructure:"domains"`
	DirectoryURL   string        `koanf:"directory_url" mapstructure:"directory_url"`
	ContactEmail   string        `koanf:"contact_email" mapstructure:"contact_email"`
	RenewWithin    time.Duration `koanf:"renew_within" mapstructure:"renew_within"`
	CheckInterval  time.Duration `koanf:"check_interval" mapstructure:"check_interval"`
	ChallengeTTL   time.Duration `koanf:"challenge_ttl" mapstructure:"challenge_ttl"`
	PollTimeout    time.Duration `koanf:"poll_timeout" mapstructure:"poll_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BackoffInitial time.Duration `koanf:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max" mapstructure:"backoff_max"`
	LockTTL        time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
	// AccountKeyPEM pins the ACME account key. When empty a process-lifetime
	// key is generated, which re-registers the account on restart.
	AccountKeyPEM string `koanf:"account_key_pem" mapstructure:"account_key_pem"`
}

type SessionsConfig struct {
	DefaultTTL    time.Duration `koanf:"default_ttl" mapstructure:"default_ttl"`
	MaxTTL        time.Duration `koanf:"max_ttl" mapstructure:"max_ttl"`
	AllowRefresh  bool          `koanf:"allow_refresh" mapstructure:"allow_refresh"`
	SweepInterval time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
	SweepGrace    time.Duration `koanf:"sweep_grace" mapstructure:"sweep_grace"`
}

type RateLimitConfig struct {
	Window    time.Duration `koanf:"window" mapstructure:"window"`
	Limit     int           `koanf:"limit" mapstructure:"limit"`
	IdleAfter time.Duration `koanf:"idle_after" mapstructure:"idle_after"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr" mapstructure:"addr"`
	Username  string `koanf:"username" mapstructure:"username"`
	Password  string `koanf:"password" mapstructure:"password"`
	DB        int    `koanf:"db" mapstructure:"db"`
	KeyPrefix string `koanf:"key_prefix" mapstructure:"key_prefix"`
}

type SQLConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
}

type StoreConfig struct {
	Backend  string        `koanf:"backend" mapstructure:"backend"`
	CacheTTL time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
	Redis    RedisConfig   `koanf:"redis" mapstructure:"redis"`
	SQL      SQLConfig     `koanf:"sql" mapstructure:"sql"`
}

type BridgeConfig struct {
	SocketPath    string `koanf:"socket_path" mapstructure:"socket_path"`
	MaxFrameBytes int    `koanf:"max_frame_bytes" mapstructure:"max_frame_bytes"`
}

type FederationProviderConfig struct {
	Name         string        `koanf:"name" mapstructure:"name"`
	Kind         string        `koanf:"kind" mapstructure:"kind"`
	TokenURL     string        `koanf:"token_url" mapstructure:"token_url"`
	UserinfoURL  string        `koanf:"userinfo_url" mapstructure:"userinfo_url"`
	ClientID     string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string        `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Timeout      time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type FederationConfig struct {
	Providers   []FederationProviderConfig `koanf:"providers" mapstructure:"providers"`
	WaitTimeout time.Duration              `koanf:"wait_timeout" mapstructure:"wait_timeout"`
}

type Config struct {
	ServiceName  string             `koanf:"service_name" mapstructure:"service_name"`
	Certificates CertificatesConfig `koanf:"certificates" mapstructure:"certificates"`
	Sessions     SessionsConfig     `koanf:"sessions" mapstructure:"sessions"`
	RateLimit    RateLimitConfig    `koanf:"rate_limit" mapstructure:"rate_limit"`
	Store        StoreConfig        `koanf:"store" mapstructure:"store"`
	Bridge       BridgeConfig       `koanf:"bridge" mapstructure:"bridge"`
	Federation   FederationConfig   `koanf:"federation" mapstructure:"federation"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "warden",
		Certificates: CertificatesConfig{
			DirectoryURL:   "https://acme-v02.api.letsencrypt.org/directory",
			RenewWithin:    30 * 24 * time.Hour,
			CheckInterval:  24 * time.Hour,
			ChallengeTTL:   10 * time.Minute,
			PollTimeout:    2 * time.Minute,
			RequestTimeout: 30 * time.Second,
			MaxAttempts:    5,
			BackoffInitial: time.Second,
			BackoffMax:     2 * time.Minute,
			LockTTL:        5 * time.Minute,
		},
		Sessions: SessionsConfig{
			DefaultTTL:    30 * time.Minute,
			MaxTTL:        24 * time.Hour,
			SweepInterval: time.Minute,
			SweepGrace:    5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Window:    time.Minute,
			Limit:     60,
			IdleAfter: 10 * time.Minute,
		},
		Store: StoreConfig{
			Backend:  StoreBackendMemory,
			CacheTTL: 30 * time.Second,
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "warden",
			},
			SQL: SQLConfig{
				Driver: "postgres",
			},
		},
		Bridge: BridgeConfig{
			MaxFrameBytes: 1 << 20,
		},
		Federation: FederationConfig{
			WaitTimeout: 180 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.TrimSpace(strings.ToLower(c.Store.Backend)) {
	case StoreBackendMemory, StoreBackendRedis:
	case StoreBackendSQL:
		if strings.TrimSpace(c.Store.SQL.Driver) == "" {
			return fmt.Errorf("core: store sql driver is required for the sql backend")
		}
	case "":
		return fmt.Errorf("core: store backend is required")
	default:
		return fmt.Errorf("core: unknown store backend %q", c.Store.Backend)
	}
	if len(c.Certificates.Domains) > 0 && strings.TrimSpace(c.Certificates.DirectoryURL) == "" {
		return fmt.Errorf("core: certificates directory_url is required when domains are configured")
	}
	if c.Certificates.MaxAttempts < 1 {
		return fmt.Errorf("core: certificates max_attempts must be at least 1")
	}
	if c.Sessions.DefaultTTL <= 0 {
		return fmt.Errorf("core: sessions default_ttl must be positive")
	}
	if c.Sessions.MaxTTL > 0 && c.Sessions.MaxTTL < c.Sessions.DefaultTTL {
		return fmt.Errorf("core: sessions max_ttl must not undercut default_ttl")
	}
	if c.RateLimit.Window > 0 && c.RateLimit.Limit < 1 {
		return fmt.Errorf("core: rate_limit limit must be at least 1 when a window is set")
	}
	if c.Bridge.MaxFrameBytes <= 0 {
		return fmt.Errorf("core: bridge max_frame_bytes must be positive")
	}
	for _, provider := range c.Federation.Providers {
		if strings.TrimSpace(provider.Name) == "" {
			return fmt.Errorf("core: federation provider name is required")
		}
		if strings.TrimSpace(provider.TokenURL) == "" {
			return fmt.Errorf("core: federation provider %q token_url is required", provider.Name)
		}
		if strings.TrimSpace(provider.UserinfoURL) == "" {
			return fmt.Errorf("core: federation provider %q userinfo_url is required", provider.Name)
		}
	}
	return nil
}
