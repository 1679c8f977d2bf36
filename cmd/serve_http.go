package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/adminapi"
	"github.com/giantswarm/mcp-gateway/internal/instrumentation"
	"github.com/giantswarm/mcp-gateway/internal/server"
	"github.com/giantswarm/mcp-gateway/internal/server/middleware"
)

// maxRequestBodyBytes caps inbound request bodies before any handler runs.
const maxRequestBodyBytes = 10 * 1024 * 1024

// runHTTPServer runs the gateway's HTTP surface: the admin API, the MCP
// transports mounted inside it, and the Kubernetes-style probe endpoints.
func runHTTPServer(ctx context.Context, cfg ServeConfig, sc *server.ServerContext) error {
	logger := sc.Logger()
	provider := sc.InstrumentationProvider()

	origins, err := middleware.ValidateAllowedOrigins(sc.Settings().Gateway.AllowedOrigins)
	if err != nil {
		return fmt.Errorf("invalid GATEWAY_ALLOWED_ORIGINS: %w", err)
	}

	apiOpts := []adminapi.Option{
		adminapi.WithLogger(logger),
		adminapi.WithAllowedOrigins(origins),
		adminapi.WithVersion(rootCmd.Version),
		adminapi.WithFederation(sc.Federation()),
		adminapi.WithMCP(sc.Engine()),
		adminapi.WithAudit(sc.Audit()),
		adminapi.WithReadyCheck("database", sc.Store().Ping),
	}
	if provider != nil {
		if h := provider.MetricsHandler(); h != nil {
			apiOpts = append(apiOpts, adminapi.WithMetricsHandler(h))
		}
	}
	api := adminapi.New(sc.Settings().Gateway, sc.Catalog(), sc.Auth(), sc.Plugins(), apiOpts...)

	// Probe endpoints live outside the admin router so they answer on the
	// bare paths regardless of the configured base path.
	healthChecker := server.NewHealthChecker(sc)
	healthChecker.SetVersion(rootCmd.Version)

	mux := http.NewServeMux()
	healthChecker.RegisterHealthEndpoints(mux)
	mux.Handle("/", api.Router())

	var handler http.Handler = mux
	handler = middleware.MaxRequestSize(maxRequestBodyBytes)(handler)
	handler = middleware.HTTPMetrics(provider)(handler)
	handler = middleware.SecurityHeaders(middleware.SecurityHeadersConfig{})(handler)

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider != nil && provider.Enabled() {
		var err error
		metricsServer, err = startMetricsServer(cfg.Metrics, provider)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info("HTTP server starting",
		"addr", cfg.HTTPAddr,
		"base_path", sc.Settings().Gateway.BasePath,
		"health_endpoints", []string{"/healthz", "/readyz"})

	// Create HTTP server with security timeouts
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	// Wait for either shutdown signal or server completion
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		healthChecker.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()

		// Shutdown metrics server first
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("error shutting down metrics server", "error", err)
			}
		}

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		logger.Info("HTTP server stopped normally")
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

// startMetricsServer starts the dedicated metrics server on a separate port.
// This isolates Prometheus metrics from the main application traffic.
func startMetricsServer(cfg MetricsServeConfig, provider *instrumentation.Provider) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    cfg.Addr,
		InstrumentationProvider: provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	// Start metrics server in background
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	slog.Info("metrics server started", "addr", metricsServer.Addr(), "endpoint", "/metrics")
	return metricsServer, nil
}
