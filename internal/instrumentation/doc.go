// Package instrumentation provides comprehensive OpenTelemetry instrumentation
// for the mcp-gateway server.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, tool dispatch, plugin hooks, and federation
//   - Distributed tracing for request flows and peer gateway calls
//   - Prometheus metrics export via /metrics endpoint
//   - OTLP export support for modern observability platforms
//
// # Metrics
//
// The package exposes the following metric categories:
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_mcp_sessions: Gauge of active MCP sessions
//
// Tool Dispatch Metrics:
//   - tool_invocations_total: Counter of invocations by integration and outcome
//   - tool_invocation_duration_seconds: Histogram of invocation durations
//   - tool_retries_total: Counter of retried invocations
//
// Plugin Hook Metrics:
//   - plugin_hook_invocations_total: Counter of hook runs by hook and outcome
//   - plugin_hook_duration_seconds: Histogram of hook durations
//
// Federation Metrics:
//   - federation_probes_total: Counter of peer health probes by gateway type and outcome
//   - federation_calls_total: Counter of forwarded calls
//   - federation_call_duration_seconds: Histogram of forwarded call durations
//
// # Cardinality Considerations
//
// IMPORTANT: Tool and plugin names can create high cardinality in catalogs
// with thousands of entries. Those labels are therefore opt-in via
// METRICS_DETAILED_LABELS; by default only integration type, hook point,
// and outcome are recorded, and peer gateway names are classified into a
// small set of environment types. Use distributed tracing for per-tool
// debugging instead.
//
// # Tracing
//
// Distributed tracing spans are created for:
//   - HTTP request handling
//   - MCP tool invocations
//   - Plugin hook runs
//   - Calls forwarded to peer gateways
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: false)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: mcp-gateway)
//   - METRICS_DETAILED_LABELS: Include tool/plugin name labels (default: false)
//
// # Example Usage
//
//	// Initialize instrumentation
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
//		ServiceName:    "mcp-gateway",
//		ServiceVersion: "0.1.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	// Get metrics recorder
//	recorder := provider.Metrics()
//
//	// Record an HTTP request
//	recorder.RecordHTTPRequest(ctx, "POST", "/mcp", 200, time.Since(start))
//
//	// Record a tool invocation
//	recorder.RecordToolInvocation(ctx, "github__create_issue", "rest", "ok", time.Since(start))
package instrumentation
