package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

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
	"github.com/giantswarm/mcp-gateway/internal/server"
	"github.com/giantswarm/mcp-gateway/internal/sessions"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// auditLogCapacity bounds the in-memory audit ring.
const auditLogCapacity = 1024

// newServeCmd creates the Cobra command for starting the gateway.
func newServeCmd() *cobra.Command {
	var cfg ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP gateway",
		Long: `Start the MCP gateway: load the catalog, connect the store and cache,
and serve tools, resources, prompts, and agents to MCP clients.

Supports multiple transport types:
  - stdio: Standard input/output (default), single client
  - http: HTTP server carrying Streamable HTTP, SSE, and the admin API
  - sse / streamable-http: aliases for http; every HTTP transport is
    always mounted

Most settings come from GATEWAY_* environment variables (database, cache,
JWT, federation, rate limits); flags cover the transport surface and
observability. Run with --transport http to expose the admin API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnvIfEmpty(&cfg.PublicURL, "GATEWAY_PUBLIC_URL")
			loadEnvIfEmpty(&cfg.PluginsConfigFile, "GATEWAY_PLUGINS_CONFIG_FILE")
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.Transport, "transport", "t", transportStdio,
		"Transport type (stdio, http, sse, streamable-http)")
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", ":8080",
		"Listen address for the HTTP transports and admin API")
	cmd.Flags().StringVar(&cfg.PublicURL, "public-url", "",
		"Externally reachable base URL (HTTPS) advertised to SSO and federation peers")
	cmd.Flags().BoolVar(&cfg.AllowPrivateURLs, "allow-private-urls", false,
		"Skip private-IP validation of --public-url for internal deployments")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&cfg.LogFormat, "log-format", "text",
		"Log format (text, json)")
	cmd.Flags().BoolVar(&cfg.Metrics.Enabled, "metrics", false,
		"Serve Prometheus metrics on a dedicated port")
	cmd.Flags().StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr,
		"Listen address for the dedicated metrics server")
	cmd.Flags().StringVar(&cfg.PluginsConfigFile, "plugins-config", "",
		"Path to plugins.yaml; setting it enables the plugin framework")

	return cmd
}

// runServe wires every subsystem together and blocks until the transport
// stops or a shutdown signal arrives.
func runServe(cfg ServeConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	settings := config.Load()
	if cfg.PluginsConfigFile != "" {
		settings.Plugins.Enabled = true
		settings.Plugins.ConfigFile = cfg.PluginsConfigFile
	}
	if settings.Gateway.ID == "" {
		// Peers key loop detection off this ID; without a configured one
		// the gateway gets a fresh identity per process.
		settings.Gateway.ID = uuid.NewString()
		logger.Warn("GATEWAY_ID not set, generated ephemeral gateway identity",
			"gateway_id", settings.Gateway.ID)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
	}

	st, err := store.Open(ctx, store.Options{
		Driver:          settings.Database.Driver,
		URL:             settings.Database.URL,
		MaxOpenConns:    settings.Database.MaxOpenConns,
		MaxIdleConns:    settings.Database.MaxIdleConns,
		ConnMaxLifetime: settings.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	sharedCache, err := newCache(ctx, settings.Cache)
	if err != nil {
		return fmt.Errorf("failed to connect cache: %w", err)
	}

	var vault secrets.Vault
	if settings.Secrets.EncryptionKey != "" {
		key, err := secrets.ParseKey(settings.Secrets.EncryptionKey)
		if err != nil {
			return fmt.Errorf("invalid encryption key: %w", err)
		}
		vault, err = secrets.NewAESVault(key)
		if err != nil {
			return fmt.Errorf("failed to build vault: %w", err)
		}
	} else {
		logger.Warn("no encryption key configured, credential fields will be rejected")
	}

	trail := audit.NewLog(auditLogCapacity)

	// The catalog needs its admin hooks at construction time, but the hook
	// providers (plugins, federation, serving engine) need the catalog.
	// The relay breaks the cycle; Set below completes the chain.
	relay := server.NewHookRelay()

	catOpts := []catalog.Option{
		catalog.WithLogger(logger),
		catalog.WithCache(sharedCache),
		catalog.WithHooks(relay),
		catalog.WithSeparator(settings.Gateway.NameSeparator),
		catalog.WithCacheTTL(settings.Cache.DefaultTTL),
		catalog.WithPageDefaults(catalog.PageDefaults{
			Size:            settings.Pagination.DefaultPageSize,
			MaxSize:         settings.Pagination.MaxPageSize,
			CursorThreshold: settings.Pagination.CursorThreshold,
		}),
	}
	if vault != nil {
		catOpts = append(catOpts, catalog.WithVault(vault))
	}
	cat := catalog.NewService(st, catOpts...)

	tokens, err := auth.NewTokenManager(settings.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}
	authsvc := auth.NewService(st, tokens, settings.Auth,
		auth.WithCache(sharedCache),
		auth.WithLogger(logger),
	)

	pmOpts := []plugins.ManagerOption{plugins.WithLogger(logger)}
	if metrics != nil {
		pmOpts = append(pmOpts, plugins.WithHookObserver(
			func(plugin string, hook plugins.Hook, outcome string, elapsed time.Duration) {
				metrics.RecordHookInvocation(context.Background(), plugin, string(hook), outcome, elapsed)
			}))
	}
	pm := plugins.NewManager(settings.Plugins, pmOpts...)
	if settings.Plugins.Enabled {
		if err := pm.LoadFile(settings.Plugins.ConfigFile); err != nil {
			return fmt.Errorf("failed to load plugin config: %w", err)
		}
		logger.Info("plugin framework enabled",
			"config", settings.Plugins.ConfigFile,
			"plugins", pm.Plugins())
	}

	fedOpts := []federation.Option{federation.WithLogger(logger)}
	if metrics != nil {
		fedOpts = append(fedOpts,
			federation.WithProbeObserver(func(peer, outcome string) {
				metrics.RecordFederationProbe(context.Background(), peer, outcome)
			}),
			federation.WithCallObserver(func(operation, peer, outcome string, elapsed time.Duration) {
				metrics.RecordFederationCall(context.Background(), operation, peer, outcome, elapsed)
			}))
	}
	fed := federation.NewManager(settings.Federation,
		federation.Announcement{
			GatewayID:   settings.Gateway.ID,
			GatewayName: settings.Gateway.Name,
		},
		cat, st,
		fedOpts...,
	)

	dispOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithPeerCaller(fed),
		dispatch.WithAgentSource(catalogAgents{cat}),
	}
	if vault != nil {
		dispOpts = append(dispOpts, dispatch.WithVault(vault))
	}
	if metrics != nil {
		dispOpts = append(dispOpts,
			dispatch.WithObserver(
				func(tool string, integration store.IntegrationType, outcome string, elapsed time.Duration) {
					metrics.RecordToolInvocation(context.Background(), tool, string(integration), outcome, elapsed)
				}),
			dispatch.WithRetryObserver(
				func(tool string, integration store.IntegrationType) {
					metrics.RecordToolRetry(context.Background(), tool, string(integration))
				}))
	}
	disp := dispatch.New(settings.Gateway, settings.RateLimit, dispOpts...)

	sessOpts := []sessions.Option{sessions.WithLogger(logger)}
	if metrics != nil {
		sessOpts = append(sessOpts, sessions.WithGauge(func(delta int) {
			if delta > 0 {
				metrics.IncrementActiveSessions(context.Background())
			} else {
				metrics.DecrementActiveSessions(context.Background())
			}
		}))
	}
	reg := sessions.NewRegistry(settings.Gateway.SessionTimeout, sessOpts...)

	engine := gatewaysrv.New(settings.Gateway, cat, disp, pm, reg,
		gatewaysrv.WithLogger(logger),
		gatewaysrv.WithVersion(rootCmd.Version),
		gatewaysrv.WithPeerReader(fed),
		gatewaysrv.WithAnnouncer(federation.CapabilityKey, func() any { return fed.Announcement() }),
	)
	pm.SetElicitationRelay(engine.ElicitationRelay())

	// Admin mutations now flow through plugin policy, the audit trail,
	// federation mirror upkeep, and surface invalidation, in that order.
	relay.Set(catalog.MultiHooks{
		plugins.NewCatalogHooks(pm),
		audit.Hooks(trail),
		fed.Hooks(),
		engine.Hooks(),
	})

	engine.Start(ctx)

	scOpts := []server.Option{
		server.WithSettings(&settings),
		server.WithLogger(logger),
		server.WithStore(st),
		server.WithCache(sharedCache),
		server.WithAudit(trail),
		server.WithCatalog(cat),
		server.WithAuth(authsvc),
		server.WithPlugins(pm),
		server.WithDispatcher(disp),
		server.WithFederationManager(fed),
		server.WithSessions(reg),
		server.WithEngine(engine),
		server.WithInstrumentationProvider(provider),
	}
	if vault != nil {
		scOpts = append(scOpts, server.WithVault(vault))
	}
	sc, err := server.NewServerContext(ctx, scOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	}()

	logger.Info("gateway starting",
		"name", settings.Gateway.Name,
		"gateway_id", settings.Gateway.ID,
		"transport", cfg.Transport,
		"version", rootCmd.Version)

	switch cfg.Transport {
	case transportStdio:
		return runStdioServer(ctx, sc)
	default:
		return runHTTPServer(ctx, cfg, sc)
	}
}

// newLogger builds the process logger from the serve flags. Logs always go
// to stderr so protocol frames on stdout stay clean in stdio mode.
func newLogger(cfg ServeConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newCache builds the shared cache from settings.
func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	if cfg.Backend == "redis" {
		return cache.NewRedis(ctx, cfg.RedisURL, cfg.DefaultTTL)
	}
	return cache.NewMemory(cfg.DefaultTTL), nil
}

// catalogAgents adapts the catalog to the dispatcher's agent lookup. The
// dispatcher resolves by slug without an actor; system scope is correct
// because visibility was already checked when the tool itself resolved.
type catalogAgents struct {
	cat *catalog.Service
}

func (c catalogAgents) AgentBySlug(ctx context.Context, slug string) (*store.A2AAgent, error) {
	return c.cat.ResolveAgent(ctx, catalog.System(), slug)
}
