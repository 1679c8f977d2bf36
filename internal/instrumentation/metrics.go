package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	// Common attributes (reused across metrics)
	attrMethod      = "method"
	attrPath        = "path"
	attrStatus      = "status"
	attrOperation   = "operation"
	attrTool        = "tool"
	attrIntegration = "integration"
	attrOutcome     = "outcome"
	attrHook        = "hook"
	attrPlugin      = "plugin"
	attrGatewayType = "gateway_type"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// Tool dispatch metrics
	toolInvocationsTotal   metric.Int64Counter
	toolInvocationDuration metric.Float64Histogram
	toolRetriesTotal       metric.Int64Counter

	// Plugin hook metrics
	hookInvocationsTotal metric.Int64Counter
	hookDuration         metric.Float64Histogram

	// Federation metrics
	federationProbesTotal metric.Int64Counter
	federationCallsTotal  metric.Int64Counter
	federationCallDur     metric.Float64Histogram

	// Configuration
	// detailedLabels controls whether high-cardinality labels (tool name,
	// plugin name) are included in dispatch and hook metrics
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// HTTP Metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_mcp_sessions",
		metric.WithDescription("Number of active MCP sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_mcp_sessions gauge: %w", err)
	}

	// Tool Dispatch Metrics
	m.toolInvocationsTotal, err = meter.Int64Counter(
		"tool_invocations_total",
		metric.WithDescription("Total number of tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_invocations_total counter: %w", err)
	}

	m.toolInvocationDuration, err = meter.Float64Histogram(
		"tool_invocation_duration_seconds",
		metric.WithDescription("Tool invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_invocation_duration_seconds histogram: %w", err)
	}

	m.toolRetriesTotal, err = meter.Int64Counter(
		"tool_retries_total",
		metric.WithDescription("Total number of retried tool invocations"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_retries_total counter: %w", err)
	}

	// Plugin Hook Metrics
	m.hookInvocationsTotal, err = meter.Int64Counter(
		"plugin_hook_invocations_total",
		metric.WithDescription("Total number of plugin hook invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin_hook_invocations_total counter: %w", err)
	}

	m.hookDuration, err = meter.Float64Histogram(
		"plugin_hook_duration_seconds",
		metric.WithDescription("Plugin hook duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin_hook_duration_seconds histogram: %w", err)
	}

	// Federation Metrics
	m.federationProbesTotal, err = meter.Int64Counter(
		"federation_probes_total",
		metric.WithDescription("Total number of peer gateway health probes"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create federation_probes_total counter: %w", err)
	}

	m.federationCallsTotal, err = meter.Int64Counter(
		"federation_calls_total",
		metric.WithDescription("Total number of calls forwarded to peer gateways"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create federation_calls_total counter: %w", err)
	}

	m.federationCallDur, err = meter.Float64Histogram(
		"federation_call_duration_seconds",
		metric.WithDescription("Peer gateway call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create federation_call_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolInvocation records a completed tool invocation. The outcome is
// "ok" or the error kind string of the failure.
//
// CARDINALITY NOTE: When detailedLabels is false (default), only integration
// and outcome labels are recorded to avoid cardinality explosion for large
// catalogs. When detailedLabels is true, the tool name is also included.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool, integration, outcome string, duration time.Duration) {
	if m.toolInvocationsTotal == nil || m.toolInvocationDuration == nil {
		return // Instrumentation not initialized
	}

	// Always include integration and outcome (low cardinality)
	attrs := []attribute.KeyValue{
		attribute.String(attrIntegration, integration),
		attribute.String(attrOutcome, outcome),
	}

	// Only add the high-cardinality tool label if explicitly enabled
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrTool, tool))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolInvocationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolRetry records one retry attempt for a tool invocation.
func (m *Metrics) RecordToolRetry(ctx context.Context, tool, integration string) {
	if m.toolRetriesTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrIntegration, integration),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrTool, tool))
	}

	m.toolRetriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordHookInvocation records a plugin hook run. Outcome should be one of
// the HookOutcome constants.
//
// CARDINALITY NOTE: When detailedLabels is false (default), only hook and
// outcome labels are recorded. When detailedLabels is true, the plugin name
// is also included.
func (m *Metrics) RecordHookInvocation(ctx context.Context, plugin, hook, outcome string, duration time.Duration) {
	if m.hookInvocationsTotal == nil || m.hookDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrHook, hook),
		attribute.String(attrOutcome, outcome),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrPlugin, plugin))
	}

	m.hookInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.hookDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFederationProbe records one health probe against a peer gateway.
// The peer name is classified into a gateway type to keep cardinality low.
func (m *Metrics) RecordFederationProbe(ctx context.Context, peer, outcome string) {
	if m.federationProbesTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrGatewayType, ClassifyGatewayName(peer)),
		attribute.String(attrOutcome, outcome),
	}

	m.federationProbesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFederationCall records a call forwarded to a peer gateway.
func (m *Metrics) RecordFederationCall(ctx context.Context, operation, peer, outcome string, duration time.Duration) {
	if m.federationCallsTotal == nil || m.federationCallDur == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrGatewayType, ClassifyGatewayName(peer)),
		attribute.String(attrOutcome, outcome),
	}

	m.federationCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.federationCallDur.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions increments the active MCP sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return // Instrumentation not initialized
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active MCP sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return // Instrumentation not initialized
	}

	m.activeSessions.Add(ctx, -1)
}
