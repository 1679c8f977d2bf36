package instrumentation

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceName != "mcp-gateway" {
		t.Errorf("expected service name mcp-gateway, got %s", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("expected instrumentation to default to disabled")
	}
	if cfg.MetricsExporter != "prometheus" {
		t.Errorf("expected prometheus metrics exporter, got %s", cfg.MetricsExporter)
	}
	if cfg.TracingExporter != "none" {
		t.Errorf("expected tracing exporter none, got %s", cfg.TracingExporter)
	}
	if cfg.TraceSamplingRate != 0.1 {
		t.Errorf("expected sampling rate 0.1, got %f", cfg.TraceSamplingRate)
	}
	if cfg.PrometheusEndpoint != "/metrics" {
		t.Errorf("expected /metrics endpoint, got %s", cfg.PrometheusEndpoint)
	}
	if cfg.DetailedLabels {
		t.Error("expected detailed labels to default to disabled")
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "gateway-eu")
	t.Setenv("INSTRUMENTATION_ENABLED", "true")
	t.Setenv("METRICS_EXPORTER", "otlp")
	t.Setenv("TRACING_EXPORTER", "stdout")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("METRICS_DETAILED_LABELS", "true")

	cfg := DefaultConfig()

	if cfg.ServiceName != "gateway-eu" {
		t.Errorf("expected service name gateway-eu, got %s", cfg.ServiceName)
	}
	if !cfg.Enabled {
		t.Error("expected instrumentation to be enabled")
	}
	if cfg.MetricsExporter != "otlp" {
		t.Errorf("expected otlp metrics exporter, got %s", cfg.MetricsExporter)
	}
	if cfg.TracingExporter != "stdout" {
		t.Errorf("expected stdout tracing exporter, got %s", cfg.TracingExporter)
	}
	if cfg.OTLPEndpoint != "http://localhost:4318" {
		t.Errorf("unexpected OTLP endpoint %s", cfg.OTLPEndpoint)
	}
	if cfg.TraceSamplingRate != 0.5 {
		t.Errorf("expected sampling rate 0.5, got %f", cfg.TraceSamplingRate)
	}
	if !cfg.DetailedLabels {
		t.Error("expected detailed labels to be enabled")
	}
}

func TestDefaultConfig_InvalidEnvValues(t *testing.T) {
	t.Setenv("INSTRUMENTATION_ENABLED", "not-a-bool")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "not-a-float")

	cfg := DefaultConfig()

	if cfg.Enabled {
		t.Error("expected invalid bool to fall back to default false")
	}
	if cfg.TraceSamplingRate != 0.1 {
		t.Errorf("expected invalid float to fall back to 0.1, got %f", cfg.TraceSamplingRate)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}
