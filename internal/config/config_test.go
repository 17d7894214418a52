package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/aelexs/embedded-checkout/internal/config"
	"github.com/aelexs/embedded-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 8090, cfg.HTTPPort)

	// API
	assert.Equal(t, domain.RequestTimeout, cfg.API.RequestTimeout)
	assert.Equal(t, domain.RefreshTimeout, cfg.API.RefreshTimeout)
	assert.Equal(t, domain.DefaultRefreshPath, cfg.API.RefreshPath)
	assert.Equal(t, domain.DefaultVerifyPath, cfg.API.VerifyPath)
	assert.Equal(t, int64(domain.MaxResponseBytes), cfg.API.MaxResponseBytes)

	// Routes
	assert.Equal(t, domain.DefaultLoginPath, cfg.Routes.LoginPath)
	assert.Equal(t, domain.DefaultPublicPaths, cfg.Routes.Public)

	// Host: restrictive by default
	assert.Empty(t, cfg.Host.AllowedOrigins)
	assert.Empty(t, cfg.Host.BridgeURL)
	assert.Empty(t, cfg.Host.LaunchCode)
	assert.Equal(t, domain.HostWriteTimeout, cfg.Host.WriteTimeout)

	// Storage
	assert.Equal(t, config.StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, domain.SessionRecordTTL, cfg.Storage.TTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, domain.RedisTimeout, cfg.Redis.Timeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHECKOUT_LOG_LEVEL", "debug")
	t.Setenv("CHECKOUT_API__BASE_URL", "https://api.example.com")
	t.Setenv("CHECKOUT_API__REQUEST_TIMEOUT", "3s")
	t.Setenv("CHECKOUT_ROUTES__PUBLIC", "/login, /help")
	t.Setenv("CHECKOUT_HOST__ALLOWED_ORIGINS", "https://shop.example.com,https://app.example.com")
	t.Setenv("CHECKOUT_STORAGE__BACKEND", "redis")
	t.Setenv("CHECKOUT_HOST__LAUNCH_CODE", "lc_123")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, []string{"/login", "/help"}, cfg.Routes.Public)
	assert.Equal(t, []string{"https://shop.example.com", "https://app.example.com"}, cfg.Host.AllowedOrigins)
	assert.Equal(t, config.StorageRedis, cfg.Storage.Backend)
	assert.Equal(t, "lc_123", cfg.Host.LaunchCode)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "unknown storage backend",
			env:     map[string]string{"CHECKOUT_STORAGE__BACKEND": "sqlite"},
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name: "prod requires allowed origins",
			env: map[string]string{
				"CHECKOUT_ENVIRONMENT": "prod",
			},
			wantErr: domain.ErrConfigRequired,
		},
		{
			name: "prod refuses wildcard origin",
			env: map[string]string{
				"CHECKOUT_ENVIRONMENT":           "prod",
				"CHECKOUT_HOST__ALLOWED_ORIGINS": "*",
			},
			wantErr: domain.ErrConfigInvalid,
		},
		{
			name:    "non-positive request timeout",
			env:     map[string]string{"CHECKOUT_API__REQUEST_TIMEOUT": "0s"},
			wantErr: domain.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProdWithAllowList(t *testing.T) {
	t.Setenv("CHECKOUT_ENVIRONMENT", "prod")
	t.Setenv("CHECKOUT_HOST__ALLOWED_ORIGINS", "https://shop.example.com")

	cfg, err := config.Load(context.Background())

	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsLocal())
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want bool
	}{
		{"local returns true", "local", true},
		{"prod returns false", "prod", false},
		{"dev returns false", "dev", false},
		{"empty returns false", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env}

			assert.Equal(t, tt.want, cfg.IsLocal())
		})
	}
}
