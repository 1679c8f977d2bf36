package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/instrumentation"
)

// DefaultMetricsAddr is the default listen address for the metrics server.
const DefaultMetricsAddr = ":9090"

// MetricsServerConfig configures the standalone metrics server.
type MetricsServerConfig struct {
	// Addr is the listen address. Defaults to DefaultMetricsAddr.
	Addr string

	// InstrumentationProvider supplies the Prometheus scrape handler.
	InstrumentationProvider *instrumentation.Provider
}

// MetricsServer serves the Prometheus scrape endpoint on a dedicated
// listener, separate from the gateway's public HTTP surface so internal
// metrics never ride the same port as client traffic.
type MetricsServer struct {
	srv  *http.Server
	addr string
}

// NewMetricsServer builds a metrics server from the given configuration.
func NewMetricsServer(cfg MetricsServerConfig) (*MetricsServer, error) {
	if cfg.InstrumentationProvider == nil {
		return nil, errors.New("instrumentation provider is required")
	}

	addr := cfg.Addr
	if addr == "" {
		addr = DefaultMetricsAddr
	}

	mux := http.NewServeMux()

	scrape := cfg.InstrumentationProvider.MetricsHandler()
	if scrape == nil {
		// Non-Prometheus exporters push on their own; the endpoint still
		// responds so scrape configs pointing here do not error.
		scrape = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	mux.Handle("/metrics", scrape)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr: addr,
	}, nil
}

// Addr returns the configured listen address.
func (m *MetricsServer) Addr() string {
	return m.addr
}

// Start listens and serves until Shutdown is called. Blocks; returns
// http.ErrServerClosed after a clean shutdown.
func (m *MetricsServer) Start() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
