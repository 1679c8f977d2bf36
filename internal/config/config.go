// Package config assembles the gateway's runtime settings from environment
// variables. Command-line flags may override individual fields after Load;
// flags win over environment, environment wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds every tunable the gateway reads at startup, grouped by
// concern. Zero values are never used directly; Load fills defaults.
type Settings struct {
	Auth       AuthConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Gateway    GatewayConfig
	Federation FederationConfig
	Plugins    PluginsConfig
	Pagination PaginationConfig
	RateLimit  RateLimitConfig
	Secrets    SecretsConfig
}

// AuthConfig configures identity and token issuance.
type AuthConfig struct {
	// JWTAlgorithm selects the signing algorithm. One of HS256, HS384,
	// HS512, RS256, RS384, RS512, ES256, ES384, ES512.
	JWTAlgorithm string

	// JWTSecret is the shared secret for HS* algorithms.
	JWTSecret string

	// JWTPrivateKeyFile and JWTPublicKeyFile hold PEM key material for
	// RS*/ES* algorithms.
	JWTPrivateKeyFile string
	JWTPublicKeyFile  string

	// Audience and Issuer are verified on every token.
	Audience string
	Issuer   string

	// TokenTTL bounds interactive session tokens. API tokens use
	// APITokenTTL; zero means non-expiring.
	TokenTTL    time.Duration
	APITokenTTL time.Duration

	// FailedLoginThreshold locks the account after this many consecutive
	// failures; LockoutDuration is how long the lock holds.
	FailedLoginThreshold int
	LockoutDuration      time.Duration

	// SSOAdminDomains lists email domains whose SSO users are granted
	// platform admin on first login. Empty disables auto-assignment.
	SSOAdminDomains []string

	// SSOAllowedDomains restricts SSO registration to the listed email
	// domains. Empty allows any domain.
	SSOAllowedDomains []string
}

// Validate checks the auth configuration for startup-blocking problems.
func (c *AuthConfig) Validate() error {
	switch {
	case strings.HasPrefix(c.JWTAlgorithm, "HS"):
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required for algorithm %s", c.JWTAlgorithm)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 bytes, got %d", len(c.JWTSecret))
		}
	case strings.HasPrefix(c.JWTAlgorithm, "RS"), strings.HasPrefix(c.JWTAlgorithm, "ES"):
		if c.JWTPrivateKeyFile == "" {
			return fmt.Errorf("JWT private key file is required for algorithm %s", c.JWTAlgorithm)
		}
	default:
		return fmt.Errorf("unsupported JWT algorithm: %s", c.JWTAlgorithm)
	}
	if c.Issuer == "" {
		return fmt.Errorf("JWT issuer must not be empty")
	}
	if c.Audience == "" {
		return fmt.Errorf("JWT audience must not be empty")
	}
	if c.FailedLoginThreshold < 1 {
		return fmt.Errorf("failed login threshold must be at least 1, got %d", c.FailedLoginThreshold)
	}
	return nil
}

// DatabaseConfig configures the relational catalog store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// URL is the driver-specific DSN. For sqlite this is a file path or
	// ":memory:"; for postgres a standard connection string.
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnTimeout     time.Duration

	// RetryAttempts and RetryInterval govern the exponential backoff
	// applied to transient store failures before surfacing Internal.
	RetryAttempts int
	RetryInterval time.Duration
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
	if c.URL == "" {
		return fmt.Errorf("database URL must not be empty")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("database pool size must be at least 1, got %d", c.MaxOpenConns)
	}
	return nil
}

// CacheConfig configures the shared cache used for catalog lookups, token
// revocation checks, and rate-limit buckets.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string

	// RedisURL is the redis connection URL (redis://host:port/db) when
	// Backend is "redis".
	RedisURL string

	DefaultTTL    time.Duration
	RetryAttempts int
	RetryInterval time.Duration
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL must not be empty when cache backend is redis")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Backend)
	}
	return nil
}

// GatewayConfig configures the MCP serving surface.
type GatewayConfig struct {
	// Name identifies this gateway to peers and prefixes federated tool
	// names.
	Name string

	// ID is this gateway's stable identifier, advertised during
	// federation handshakes for loop detection. Generated and persisted
	// on first start when empty.
	ID string

	// BasePath prefixes all HTTP endpoints.
	BasePath string

	// AllowedOrigins is the raw comma-separated CORS origin list.
	// Empty allows every origin.
	AllowedOrigins string

	// NameSeparator joins a gateway name and a tool name into a
	// qualified name, e.g. "peer__search".
	NameSeparator string

	SessionTimeout time.Duration
	SSEKeepalive   time.Duration

	// ToolTimeout and MaxRetries are per-call defaults, overridable per
	// tool in the catalog.
	ToolTimeout time.Duration
	MaxRetries  int

	// MaxResponseBytes caps upstream response bodies read into memory.
	MaxResponseBytes int64
}

// Validate checks the gateway configuration.
func (c *GatewayConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("gateway name must not be empty")
	}
	if strings.Contains(c.Name, c.NameSeparator) {
		return fmt.Errorf("gateway name %q must not contain the name separator %q", c.Name, c.NameSeparator)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive, got %s", c.ToolTimeout)
	}
	return nil
}

// FederationConfig configures peer-gateway behavior.
type FederationConfig struct {
	HealthInterval   time.Duration
	HealthTimeout    time.Duration
	FailureThreshold int
	HandshakeTimeout time.Duration
	ResyncInterval   time.Duration

	// PurgeGrace is how long a federated entity that disappeared
	// upstream stays disabled before its row is removed.
	PurgeGrace time.Duration
}

// PluginsConfig configures the hook framework.
type PluginsConfig struct {
	Enabled    bool
	ConfigFile string

	// Timeout bounds in-process hook execution; ExternalTimeout bounds
	// calls to external plugin processes.
	Timeout         time.Duration
	ExternalTimeout time.Duration

	// FailOnError converts unexpected plugin failures into PluginError
	// responses instead of logging and continuing.
	FailOnError bool

	// ParallelBands allows plugins sharing a priority value to run
	// concurrently when all of them are marked side-effect free.
	ParallelBands bool

	ElicitationTimeout time.Duration
}

// PaginationConfig configures list endpoints.
type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int

	// CursorThreshold is the offset beyond which list endpoints switch
	// from offset pagination to cursor pagination.
	CursorThreshold int
}

// Validate checks the pagination configuration.
func (c *PaginationConfig) Validate() error {
	if c.DefaultPageSize < 1 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid pagination bounds: default %d, max %d", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

// RateLimitConfig configures token buckets and connection caps.
type RateLimitConfig struct {
	// UserRPS/UserBurst bound requests per authenticated user;
	// ToolRPS/ToolBurst bound invocations per tool. Zero disables the
	// respective limiter.
	UserRPS   float64
	UserBurst int
	ToolRPS   float64
	ToolBurst int

	// MaxInFlightPerHost caps concurrent upstream calls per
	// (gateway, host) pair. Saturation surfaces as RateLimited.
	MaxInFlightPerHost int
}

// SecretsConfig configures encryption of credentials at rest and the
// certificate signer.
type SecretsConfig struct {
	// EncryptionKey is the hex- or base64-encoded 32-byte AES key used
	// to encrypt stored auth values. Required when any catalog entity
	// carries credentials.
	EncryptionKey string

	// SigningKeyFile holds the Ed25519 private key for signed
	// certificates; PreviousKeyFile allows verification during rotation.
	SigningKeyFile  string
	PreviousKeyFile string
}

// Load builds Settings from the environment, applying defaults for every
// unset key.
func Load() Settings {
	return Settings{
		Auth: AuthConfig{
			JWTAlgorithm:         getEnvOrDefault("GATEWAY_JWT_ALGORITHM", "HS256"),
			JWTSecret:            os.Getenv("GATEWAY_JWT_SECRET"),
			JWTPrivateKeyFile:    os.Getenv("GATEWAY_JWT_PRIVATE_KEY_FILE"),
			JWTPublicKeyFile:     os.Getenv("GATEWAY_JWT_PUBLIC_KEY_FILE"),
			Audience:             getEnvOrDefault("GATEWAY_JWT_AUDIENCE", "mcp-gateway"),
			Issuer:               getEnvOrDefault("GATEWAY_JWT_ISSUER", "mcp-gateway"),
			TokenTTL:             getEnvDurationOrDefault("GATEWAY_TOKEN_TTL", 8*time.Hour),
			APITokenTTL:          getEnvDurationOrDefault("GATEWAY_API_TOKEN_TTL", 0),
			FailedLoginThreshold: getEnvIntOrDefault("GATEWAY_FAILED_LOGIN_THRESHOLD", 5),
			LockoutDuration:      getEnvDurationOrDefault("GATEWAY_LOCKOUT_DURATION", 15*time.Minute),
			SSOAdminDomains:      splitNonEmpty(os.Getenv("GATEWAY_SSO_ADMIN_DOMAINS")),
			SSOAllowedDomains:    splitNonEmpty(os.Getenv("GATEWAY_SSO_ALLOWED_DOMAINS")),
		},
		Database: DatabaseConfig{
			Driver:          getEnvOrDefault("GATEWAY_DB_DRIVER", "sqlite"),
			URL:             getEnvOrDefault("GATEWAY_DB_URL", "mcp-gateway.db"),
			MaxOpenConns:    getEnvIntOrDefault("GATEWAY_DB_POOL_SIZE", 10),
			MaxIdleConns:    getEnvIntOrDefault("GATEWAY_DB_POOL_IDLE", 5),
			ConnMaxLifetime: getEnvDurationOrDefault("GATEWAY_DB_POOL_RECYCLE", 30*time.Minute),
			ConnTimeout:     getEnvDurationOrDefault("GATEWAY_DB_TIMEOUT", 10*time.Second),
			RetryAttempts:   getEnvIntOrDefault("GATEWAY_DB_RETRY_ATTEMPTS", 3),
			RetryInterval:   getEnvDurationOrDefault("GATEWAY_DB_RETRY_INTERVAL", 500*time.Millisecond),
		},
		Cache: CacheConfig{
			Backend:       getEnvOrDefault("GATEWAY_CACHE_BACKEND", "memory"),
			RedisURL:      os.Getenv("GATEWAY_CACHE_REDIS_URL"),
			DefaultTTL:    getEnvDurationOrDefault("GATEWAY_CACHE_TTL", 5*time.Minute),
			RetryAttempts: getEnvIntOrDefault("GATEWAY_CACHE_RETRY_ATTEMPTS", 3),
			RetryInterval: getEnvDurationOrDefault("GATEWAY_CACHE_RETRY_INTERVAL", 100*time.Millisecond),
		},
		Gateway: GatewayConfig{
			Name:             getEnvOrDefault("GATEWAY_NAME", "gateway"),
			ID:               os.Getenv("GATEWAY_ID"),
			BasePath:         getEnvOrDefault("GATEWAY_BASE_PATH", "/"),
			AllowedOrigins:   os.Getenv("GATEWAY_ALLOWED_ORIGINS"),
			NameSeparator:    getEnvOrDefault("GATEWAY_NAME_SEPARATOR", "__"),
			SessionTimeout:   getEnvDurationOrDefault("GATEWAY_SESSION_TIMEOUT", 30*time.Minute),
			SSEKeepalive:     getEnvDurationOrDefault("GATEWAY_SSE_KEEPALIVE", 15*time.Second),
			ToolTimeout:      getEnvDurationOrDefault("GATEWAY_TOOL_TIMEOUT", 20*time.Second),
			MaxRetries:       getEnvIntOrDefault("GATEWAY_TOOL_MAX_RETRIES", 3),
			MaxResponseBytes: int64(getEnvIntOrDefault("GATEWAY_MAX_RESPONSE_BYTES", 10*1024*1024)),
		},
		Federation: FederationConfig{
			HealthInterval:   getEnvDurationOrDefault("GATEWAY_FEDERATION_HEALTH_INTERVAL", 30*time.Second),
			HealthTimeout:    getEnvDurationOrDefault("GATEWAY_FEDERATION_HEALTH_TIMEOUT", 10*time.Second),
			FailureThreshold: getEnvIntOrDefault("GATEWAY_FEDERATION_FAILURE_THRESHOLD", 3),
			HandshakeTimeout: getEnvDurationOrDefault("GATEWAY_FEDERATION_HANDSHAKE_TIMEOUT", 10*time.Second),
			ResyncInterval:   getEnvDurationOrDefault("GATEWAY_FEDERATION_RESYNC_INTERVAL", 5*time.Minute),
			PurgeGrace:       getEnvDurationOrDefault("GATEWAY_FEDERATION_PURGE_GRACE", 24*time.Hour),
		},
		Plugins: PluginsConfig{
			Enabled:            getEnvBoolOrDefault("GATEWAY_PLUGINS_ENABLED", false),
			ConfigFile:         getEnvOrDefault("GATEWAY_PLUGINS_CONFIG_FILE", "plugins.yaml"),
			Timeout:            getEnvDurationOrDefault("GATEWAY_PLUGINS_TIMEOUT", 30*time.Second),
			ExternalTimeout:    getEnvDurationOrDefault("GATEWAY_PLUGINS_EXTERNAL_TIMEOUT", 30*time.Second),
			FailOnError:        getEnvBoolOrDefault("GATEWAY_PLUGINS_FAIL_ON_ERROR", false),
			ParallelBands:      getEnvBoolOrDefault("GATEWAY_PLUGINS_PARALLEL_BANDS", false),
			ElicitationTimeout: getEnvDurationOrDefault("GATEWAY_ELICITATION_TIMEOUT", 300*time.Second),
		},
		Pagination: PaginationConfig{
			DefaultPageSize: getEnvIntOrDefault("GATEWAY_PAGE_SIZE_DEFAULT", 50),
			MaxPageSize:     getEnvIntOrDefault("GATEWAY_PAGE_SIZE_MAX", 500),
			CursorThreshold: getEnvIntOrDefault("GATEWAY_CURSOR_THRESHOLD", 10000),
		},
		RateLimit: RateLimitConfig{
			UserRPS:            getEnvFloatOrDefault("GATEWAY_RATE_USER_RPS", 0),
			UserBurst:          getEnvIntOrDefault("GATEWAY_RATE_USER_BURST", 20),
			ToolRPS:            getEnvFloatOrDefault("GATEWAY_RATE_TOOL_RPS", 0),
			ToolBurst:          getEnvIntOrDefault("GATEWAY_RATE_TOOL_BURST", 10),
			MaxInFlightPerHost: getEnvIntOrDefault("GATEWAY_MAX_INFLIGHT_PER_HOST", 64),
		},
		Secrets: SecretsConfig{
			EncryptionKey:   os.Getenv("GATEWAY_ENCRYPTION_KEY"),
			SigningKeyFile:  os.Getenv("GATEWAY_SIGNING_KEY_FILE"),
			PreviousKeyFile: os.Getenv("GATEWAY_PREVIOUS_SIGNING_KEY_FILE"),
		},
	}
}

// Validate runs every section's validation and returns the first failure.
func (s *Settings) Validate() error {
	if err := s.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := s.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := s.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if err := s.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if err := s.Pagination.Validate(); err != nil {
		return fmt.Errorf("pagination config: %w", err)
	}
	return nil
}

// getEnvOrDefault returns the value of an environment variable or a default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the boolean value of an environment variable or a default value.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvIntOrDefault returns the integer value of an environment variable or a default value.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvFloatOrDefault returns the float64 value of an environment variable or a default value.
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the duration value of an environment variable or a default value.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// splitNonEmpty splits a comma-separated list, trimming whitespace and
// dropping empty elements.
func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
