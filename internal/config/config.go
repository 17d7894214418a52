// Package config provides configuration loading using koanf.
// Precedence: environment (CHECKOUT_ prefix) → compiled defaults.
package config

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// EnvPrefix is stripped from every environment variable before mapping.
// A double underscore separates nesting levels: CHECKOUT_API__BASE_URL → api.base_url.
const EnvPrefix = "CHECKOUT_"

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config holds all client configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// HTTPPort serves /healthz and /readyz.
	HTTPPort int `koanf:"http_port"`

	API     APIConfig     `koanf:"api"`
	Routes  RoutesConfig  `koanf:"routes"`
	Host    HostConfig    `koanf:"host"`
	Storage StorageConfig `koanf:"storage"`
	Redis   RedisConfig   `koanf:"redis"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// APIConfig configures the remote checkout API and the refresh protocol.
type APIConfig struct {
	BaseURL          string        `koanf:"base_url"`
	RequestTimeout   time.Duration `koanf:"request_timeout"`
	RefreshPath      string        `koanf:"refresh_path"`
	VerifyPath       string        `koanf:"verify_path"`
	RefreshTimeout   time.Duration `koanf:"refresh_timeout"`
	MaxResponseBytes int64         `koanf:"max_response_bytes"`
}

// RoutesConfig holds the route classification consumed by the guard.
type RoutesConfig struct {
	LoginPath string   `koanf:"login_path"`
	Public    []string `koanf:"public"`
}

// HostConfig configures the cross-frame messenger.
type HostConfig struct {
	// AllowedOrigins is the inbound origin allow-list. Empty rejects every
	// message; "*" accepts any origin and is refused in prod.
	AllowedOrigins []string `koanf:"allowed_origins"`
	// BridgeURL is the host relay WebSocket. Empty disables the bridge.
	BridgeURL    string        `koanf:"bridge_url"`
	Origin       string        `koanf:"origin"`        // Origin this client presents to the relay
	TargetOrigin string        `koanf:"target_origin"` // Target origin for outbound messages
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// LaunchCode is the one-time code the host issued for this checkout. When
	// set, it is exchanged for a session at startup.
	LaunchCode string `koanf:"launch_code"`
}

// StorageConfig selects where the persisted session record lives.
type StorageConfig struct {
	Backend   string        `koanf:"backend"` // "memory" or "redis"
	KeyPrefix string        `koanf:"key_prefix"`
	TTL       time.Duration `koanf:"ttl"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",
		HTTPPort:    8090,

		API: APIConfig{
			BaseURL:          "http://localhost:8083",
			RequestTimeout:   domain.RequestTimeout,
			RefreshPath:      domain.DefaultRefreshPath,
			VerifyPath:       domain.DefaultVerifyPath,
			RefreshTimeout:   domain.RefreshTimeout,
			MaxResponseBytes: domain.MaxResponseBytes,
		},
		Routes: RoutesConfig{
			LoginPath: domain.DefaultLoginPath,
		},
		Host: HostConfig{
			TargetOrigin: "*",
			WriteTimeout: domain.HostWriteTimeout,
		},
		Storage: StorageConfig{
			Backend:   StorageMemory,
			KeyPrefix: "checkout:session:",
			TTL:       domain.SessionRecordTTL,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		OTEL: OTELConfig{
			ServiceName: "checkout-client",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables prefixed with CHECKOUT_ (highest)
// 2. Compiled defaults (lowest)
//
// Required keys missing in prod → startup failure.
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Slice defaults are applied after unmarshalling: decoding into a
	// non-empty slice overwrites by index and would keep stale tail entries.
	cfg.Routes.Public = trimAll(cfg.Routes.Public)
	if len(cfg.Routes.Public) == 0 {
		cfg.Routes.Public = slices.Clone(domain.DefaultPublicPaths)
	}
	cfg.Host.AllowedOrigins = trimAll(cfg.Host.AllowedOrigins)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKey maps CHECKOUT_API__BASE_URL to api.base_url.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// validate checks value ranges everywhere and required keys in prod.
func validate(cfg *Config) error {
	if cfg.API.RequestTimeout <= 0 {
		return fmt.Errorf("%w: api.request_timeout must be positive", domain.ErrConfigInvalid)
	}
	if cfg.API.RefreshTimeout <= 0 {
		return fmt.Errorf("%w: api.refresh_timeout must be positive", domain.ErrConfigInvalid)
	}
	switch cfg.Storage.Backend {
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("%w: storage.backend %q", domain.ErrConfigInvalid, cfg.Storage.Backend)
	}

	if !cfg.IsProd() {
		return nil
	}

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url", domain.ErrConfigRequired)
	}
	if len(cfg.Host.AllowedOrigins) == 0 {
		return fmt.Errorf("%w: host.allowed_origins", domain.ErrConfigRequired)
	}
	if slices.Contains(cfg.Host.AllowedOrigins, "*") {
		return fmt.Errorf("%w: host.allowed_origins must not contain \"*\" in prod", domain.ErrConfigInvalid)
	}
	if cfg.Storage.Backend == StorageRedis && cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
