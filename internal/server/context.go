package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

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

// DefaultShutdownTimeout bounds how long Shutdown waits for subsystem
// teardown. HTTP servers reuse it for their own graceful stop.
const DefaultShutdownTimeout = 10 * time.Second

// ServerContext encapsulates all dependencies needed by the gateway
// and provides a clean abstraction for dependency injection and lifecycle management.
type ServerContext struct {
	// Core dependencies
	settings *config.Settings
	logger   *slog.Logger

	// Persistence and caching
	store store.Store
	cache cache.Cache
	vault secrets.Vault
	trail *audit.Log

	// Domain services
	catalog    *catalog.Service
	authsvc    *auth.Service
	plugins    *plugins.Manager
	dispatcher *dispatch.Dispatcher
	federation *federation.Manager
	sessions   *sessions.Registry
	engine     *gatewaysrv.Engine

	// Observability
	instrumentation *instrumentation.Provider

	// Context management
	ctx    context.Context
	cancel context.CancelFunc

	// Lifecycle management
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new ServerContext with default values.
// Use the provided functional options to customize the context.
func NewServerContext(ctx context.Context, opts ...Option) (*ServerContext, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:    serverCtx,
		cancel: cancel,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(sc); err != nil {
			cancel()
			return nil, err
		}
	}

	if err := sc.validate(); err != nil {
		cancel()
		return nil, err
	}

	return sc, nil
}

// Context returns the server context for cancellation and deadlines.
func (sc *ServerContext) Context() context.Context {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ctx
}

// Settings returns the loaded gateway configuration.
func (sc *ServerContext) Settings() *config.Settings {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.settings
}

// Logger returns the structured logger.
func (sc *ServerContext) Logger() *slog.Logger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.logger
}

// Store returns the persistence layer.
func (sc *ServerContext) Store() store.Store {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.store
}

// Cache returns the shared cache backend.
func (sc *ServerContext) Cache() cache.Cache {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cache
}

// Vault returns the secret vault used for stored credentials.
func (sc *ServerContext) Vault() secrets.Vault {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.vault
}

// Audit returns the in-memory audit trail. May be nil when auditing is
// not wired.
func (sc *ServerContext) Audit() *audit.Log {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.trail
}

// Catalog returns the catalog registry service.
func (sc *ServerContext) Catalog() *catalog.Service {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.catalog
}

// Auth returns the authentication service.
func (sc *ServerContext) Auth() *auth.Service {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.authsvc
}

// Plugins returns the plugin hook manager.
func (sc *ServerContext) Plugins() *plugins.Manager {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.plugins
}

// Dispatcher returns the tool invocation dispatcher.
func (sc *ServerContext) Dispatcher() *dispatch.Dispatcher {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.dispatcher
}

// Federation returns the peer gateway manager. Nil when federation is
// disabled.
func (sc *ServerContext) Federation() *federation.Manager {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.federation
}

// Sessions returns the MCP session registry.
func (sc *ServerContext) Sessions() *sessions.Registry {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.sessions
}

// Engine returns the MCP serving engine.
func (sc *ServerContext) Engine() *gatewaysrv.Engine {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.engine
}

// InstrumentationProvider returns the OpenTelemetry provider. May be nil
// when instrumentation was never configured.
func (sc *ServerContext) InstrumentationProvider() *instrumentation.Provider {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.instrumentation
}

// FederationEnabled returns true if a federation manager is attached.
func (sc *ServerContext) FederationEnabled() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.federation != nil
}

// ActiveSessionCount returns the number of live MCP sessions.
func (sc *ServerContext) ActiveSessionCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.sessions == nil {
		return 0
	}
	return sc.sessions.Len()
}

// Shutdown gracefully shuts down the server context. Subsystems are torn
// down in reverse dependency order: serving engine first so no new work
// arrives, then federation sessions, then the MCP session registry, and
// the storage backends last.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.logger.Info("shutting down server context")

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if sc.engine != nil {
		sc.engine.Close()
	}
	if sc.federation != nil {
		if err := sc.federation.Close(); err != nil {
			sc.logger.Warn("federation shutdown", "error", err)
		}
	}
	if sc.sessions != nil {
		sc.sessions.Close()
	}
	if sc.store != nil {
		if err := sc.store.Close(); err != nil {
			sc.logger.Warn("store shutdown", "error", err)
		}
	}
	if sc.cache != nil {
		if err := sc.cache.Close(); err != nil {
			sc.logger.Warn("cache shutdown", "error", err)
		}
	}
	if sc.instrumentation != nil {
		if err := sc.instrumentation.Shutdown(ctx); err != nil {
			sc.logger.Warn("instrumentation shutdown", "error", err)
		}
	}

	if sc.cancel != nil {
		sc.cancel()
	}

	sc.shutdown = true
	sc.logger.Info("server context shutdown complete")
	return nil
}

// IsShutdown returns true if the server context has been shutdown.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// validate ensures all required dependencies are set.
func (sc *ServerContext) validate() error {
	if sc.settings == nil {
		return ErrMissingSettings
	}
	if sc.logger == nil {
		return ErrMissingLogger
	}
	if sc.store == nil {
		return ErrMissingStore
	}
	if sc.catalog == nil {
		return ErrMissingCatalog
	}
	return nil
}
