package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/instrumentation"
)

func TestNewMetricsServer(t *testing.T) {
	tests := []struct {
		name        string
		config      MetricsServerConfig
		wantErr     bool
		errContains string
	}{
		{
			name: "nil instrumentation provider",
			config: MetricsServerConfig{
				Addr:                    ":9090",
				InstrumentationProvider: nil,
			},
			wantErr:     true,
			errContains: "instrumentation provider is required",
		},
		{
			name: "valid config uses default addr",
			config: MetricsServerConfig{
				Addr:                    "",
				InstrumentationProvider: createTestProvider(t),
			},
			wantErr: false,
		},
		{
			name: "valid config with custom addr",
			config: MetricsServerConfig{
				Addr:                    ":9091",
				InstrumentationProvider: createTestProvider(t),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewMetricsServer(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewMetricsServer() expected error, got nil")
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewMetricsServer() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("NewMetricsServer() unexpected error: %v", err)
				return
			}
			if server == nil {
				t.Error("NewMetricsServer() returned nil server")
				return
			}

			expectedAddr := tt.config.Addr
			if expectedAddr == "" {
				expectedAddr = DefaultMetricsAddr
			}
			if server.Addr() != expectedAddr {
				t.Errorf("Addr() = %v, want %v", server.Addr(), expectedAddr)
			}
		})
	}
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	provider := createTestProvider(t)

	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    "127.0.0.1:19092",
		InstrumentationProvider: provider,
	})
	if err != nil {
		t.Fatalf("NewMetricsServer() error = %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Give the server time to start
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19092/metrics")
	if err != nil {
		t.Errorf("Failed to reach /metrics endpoint: %v", err)
	} else {
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET /metrics returned status %d, want %d", resp.StatusCode, http.StatusOK)
		}
		_ = resp.Body.Close()
	}

	resp, err = http.Get("http://127.0.0.1:19092/healthz")
	if err != nil {
		t.Errorf("Failed to reach /healthz endpoint: %v", err)
	} else {
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET /healthz returned status %d, want %d", resp.StatusCode, http.StatusOK)
		}
		_ = resp.Body.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("Server stopped with error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Timeout waiting for server to stop")
	}
}

func TestMetricsServer_ShutdownWithoutStart(t *testing.T) {
	provider := createTestProvider(t)

	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    "127.0.0.1:19093",
		InstrumentationProvider: provider,
	})
	if err != nil {
		t.Fatalf("NewMetricsServer() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() without Start() error = %v", err)
	}
}

// createTestProvider creates an instrumentation provider for testing.
func createTestProvider(t *testing.T) *instrumentation.Provider {
	t.Helper()
	ctx := context.Background()
	config := instrumentation.Config{
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	}
	provider, err := instrumentation.NewProvider(ctx, config)
	if err != nil {
		t.Fatalf("Failed to create test provider: %v", err)
	}
	return provider
}
