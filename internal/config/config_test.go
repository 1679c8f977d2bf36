package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()

	assert.Equal(t, "HS256", s.Auth.JWTAlgorithm)
	assert.Equal(t, 8*time.Hour, s.Auth.TokenTTL)
	assert.Equal(t, 5, s.Auth.FailedLoginThreshold)
	assert.Equal(t, "sqlite", s.Database.Driver)
	assert.Equal(t, 10, s.Database.MaxOpenConns)
	assert.Equal(t, "memory", s.Cache.Backend)
	assert.Equal(t, 20*time.Second, s.Gateway.ToolTimeout)
	assert.Equal(t, "__", s.Gateway.NameSeparator)
	assert.Equal(t, 30*time.Second, s.Federation.HealthInterval)
	assert.Equal(t, 3, s.Federation.FailureThreshold)
	assert.Equal(t, 300*time.Second, s.Plugins.ElicitationTimeout)
	assert.Equal(t, 50, s.Pagination.DefaultPageSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_JWT_ALGORITHM", "RS256")
	t.Setenv("GATEWAY_DB_DRIVER", "postgres")
	t.Setenv("GATEWAY_DB_URL", "postgres://gw:secret@db:5432/gateway")
	t.Setenv("GATEWAY_TOOL_TIMEOUT", "45s")
	t.Setenv("GATEWAY_FEDERATION_HEALTH_INTERVAL", "1m")
	t.Setenv("GATEWAY_SSO_ADMIN_DOMAINS", "corp.example, ops.example ,")

	s := Load()

	assert.Equal(t, "RS256", s.Auth.JWTAlgorithm)
	assert.Equal(t, "postgres", s.Database.Driver)
	assert.Equal(t, "postgres://gw:secret@db:5432/gateway", s.Database.URL)
	assert.Equal(t, 45*time.Second, s.Gateway.ToolTimeout)
	assert.Equal(t, time.Minute, s.Federation.HealthInterval)
	assert.Equal(t, []string{"corp.example", "ops.example"}, s.Auth.SSOAdminDomains)
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("GATEWAY_TOOL_TIMEOUT", "not-a-duration")
	t.Setenv("GATEWAY_DB_POOL_SIZE", "many")
	t.Setenv("GATEWAY_PLUGINS_ENABLED", "yes-please")

	s := Load()

	assert.Equal(t, 20*time.Second, s.Gateway.ToolTimeout)
	assert.Equal(t, 10, s.Database.MaxOpenConns)
	assert.False(t, s.Plugins.Enabled)
}

func TestAuthConfigValidate(t *testing.T) {
	tests := []struct {
		name          string
		config        AuthConfig
		expectedError string
	}{
		{
			name: "valid HS256",
			config: AuthConfig{
				JWTAlgorithm:         "HS256",
				JWTSecret:            strings.Repeat("k", 32),
				Audience:             "mcp-gateway",
				Issuer:               "mcp-gateway",
				FailedLoginThreshold: 5,
			},
		},
		{
			name: "HS256 without secret",
			config: AuthConfig{
				JWTAlgorithm:         "HS256",
				Audience:             "mcp-gateway",
				Issuer:               "mcp-gateway",
				FailedLoginThreshold: 5,
			},
			expectedError: "JWT secret is required",
		},
		{
			name: "HS256 with short secret",
			config: AuthConfig{
				JWTAlgorithm:         "HS256",
				JWTSecret:            "short",
				Audience:             "mcp-gateway",
				Issuer:               "mcp-gateway",
				FailedLoginThreshold: 5,
			},
			expectedError: "at least 32 bytes",
		},
		{
			name: "RS256 without key file",
			config: AuthConfig{
				JWTAlgorithm:         "RS256",
				Audience:             "mcp-gateway",
				Issuer:               "mcp-gateway",
				FailedLoginThreshold: 5,
			},
			expectedError: "private key file is required",
		},
		{
			name: "unsupported algorithm",
			config: AuthConfig{
				JWTAlgorithm: "none",
			},
			expectedError: "unsupported JWT algorithm",
		},
		{
			name: "missing issuer",
			config: AuthConfig{
				JWTAlgorithm:         "HS256",
				JWTSecret:            strings.Repeat("k", 32),
				Audience:             "mcp-gateway",
				FailedLoginThreshold: 5,
			},
			expectedError: "issuer must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGatewayConfigValidate(t *testing.T) {
	tests := []struct {
		name          string
		config        GatewayConfig
		expectedError string
	}{
		{
			name:   "valid",
			config: GatewayConfig{Name: "edge", NameSeparator: "__", ToolTimeout: 20 * time.Second},
		},
		{
			name:          "empty name",
			config:        GatewayConfig{NameSeparator: "__", ToolTimeout: time.Second},
			expectedError: "gateway name must not be empty",
		},
		{
			name:          "name contains separator",
			config:        GatewayConfig{Name: "edge__west", NameSeparator: "__", ToolTimeout: time.Second},
			expectedError: "must not contain the name separator",
		},
		{
			name:          "non-positive tool timeout",
			config:        GatewayConfig{Name: "edge", NameSeparator: "__"},
			expectedError: "tool timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	s := Load()
	s.Auth.JWTSecret = strings.Repeat("k", 32)
	require.NoError(t, s.Validate())

	s.Database.Driver = "oracle"
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database config")
}

func TestDatabaseConfigValidate(t *testing.T) {
	c := DatabaseConfig{Driver: "postgres", URL: "", MaxOpenConns: 10}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL must not be empty")

	c = DatabaseConfig{Driver: "sqlite", URL: ":memory:", MaxOpenConns: 1}
	assert.NoError(t, c.Validate())
}

func TestCacheConfigValidate(t *testing.T) {
	c := CacheConfig{Backend: "redis"}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis URL must not be empty")

	c = CacheConfig{Backend: "redis", RedisURL: "redis://localhost:6379/0"}
	assert.NoError(t, c.Validate())
}
