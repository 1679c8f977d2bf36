package server

import (
	"errors"
	"log/slog"

	"github.com/giantswarm/mcp-gateway/internal/audit"
	"github.com/giantswarm/mcp-gateway/internal/auth"
	"github.com/giantswarm/mcp-gateway/internal/cache"
	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/dispatch"
	"github.com/giantswarm/mcp-gateway/internal/federation"
	"github.com/giantswarm/mcp-gateway/internal/gatewaysrv"
	"github.com/giantswarm/mcp-gateway/internal/instrumentation"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/internal/sessions"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// Option is a functional option for configuring ServerContext.
type Option func(*ServerContext) error

// WithSettings sets the gateway configuration for the ServerContext.
func WithSettings(settings *config.Settings) Option {
	return func(sc *ServerContext) error {
		if settings == nil {
			return ErrMissingSettings
		}
		sc.settings = settings
		return nil
	}
}

// WithLogger sets the structured logger for the ServerContext.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *ServerContext) error {
		if logger == nil {
			return ErrMissingLogger
		}
		sc.logger = logger
		return nil
	}
}

// WithStore sets the persistence layer.
func WithStore(st store.Store) Option {
	return func(sc *ServerContext) error {
		if st == nil {
			return ErrMissingStore
		}
		sc.store = st
		return nil
	}
}

// WithCache sets the shared cache backend.
func WithCache(c cache.Cache) Option {
	return func(sc *ServerContext) error {
		sc.cache = c
		return nil
	}
}

// WithVault sets the secret vault used for stored credentials.
func WithVault(v secrets.Vault) Option {
	return func(sc *ServerContext) error {
		sc.vault = v
		return nil
	}
}

// WithAudit attaches the in-memory audit trail.
func WithAudit(trail *audit.Log) Option {
	return func(sc *ServerContext) error {
		sc.trail = trail
		return nil
	}
}

// WithCatalog sets the catalog registry service.
func WithCatalog(cat *catalog.Service) Option {
	return func(sc *ServerContext) error {
		if cat == nil {
			return ErrMissingCatalog
		}
		sc.catalog = cat
		return nil
	}
}

// WithAuth sets the authentication service.
func WithAuth(svc *auth.Service) Option {
	return func(sc *ServerContext) error {
		sc.authsvc = svc
		return nil
	}
}

// WithPlugins sets the plugin hook manager.
func WithPlugins(pm *plugins.Manager) Option {
	return func(sc *ServerContext) error {
		sc.plugins = pm
		return nil
	}
}

// WithDispatcher sets the tool invocation dispatcher.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(sc *ServerContext) error {
		sc.dispatcher = d
		return nil
	}
}

// WithFederationManager sets the peer gateway manager. When set, the
// gateway participates in federation: peers are registered through the
// handshake, probed by the health loop, and their tools dispatched
// through peer sessions.
func WithFederationManager(manager *federation.Manager) Option {
	return func(sc *ServerContext) error {
		sc.federation = manager
		return nil
	}
}

// WithSessions sets the MCP session registry.
func WithSessions(reg *sessions.Registry) Option {
	return func(sc *ServerContext) error {
		sc.sessions = reg
		return nil
	}
}

// WithEngine sets the MCP serving engine.
func WithEngine(e *gatewaysrv.Engine) Option {
	return func(sc *ServerContext) error {
		sc.engine = e
		return nil
	}
}

// WithInstrumentationProvider sets the OpenTelemetry instrumentation provider.
// This enables production-grade observability including metrics and tracing.
func WithInstrumentationProvider(provider *instrumentation.Provider) Option {
	return func(sc *ServerContext) error {
		sc.instrumentation = provider
		return nil
	}
}

// Error definitions for ServerContext validation and operations.
var (
	ErrMissingSettings = errors.New("gateway settings are required")
	ErrMissingLogger   = errors.New("logger is required")
	ErrMissingStore    = errors.New("store is required")
	ErrMissingCatalog  = errors.New("catalog service is required")
	ErrServerShutdown  = errors.New("server context has been shutdown")
)
