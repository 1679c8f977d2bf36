package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for the mcp-gateway package.
const TracerName = "github.com/giantswarm/mcp-gateway"

// Span attribute keys for gateway operations.
const (
	// SpanAttrTool is the MCP tool name.
	SpanAttrTool = "mcp.tool"

	// SpanAttrIntegration is the tool's integration type (mcp, rest, a2a).
	SpanAttrIntegration = "mcp.integration"

	// SpanAttrServer is the virtual server scope of the request.
	SpanAttrServer = "mcp.server"

	// SpanAttrGateway is the peer gateway name attribute.
	SpanAttrGateway = "mcp.gateway"

	// SpanAttrGatewayType is the classified peer gateway type attribute.
	SpanAttrGatewayType = "mcp.gateway_type"

	// SpanAttrUserEmail is the user's email attribute (PII - use with care).
	SpanAttrUserEmail = "mcp.user.email"

	// SpanAttrUserDomain is the user's email domain (lower cardinality).
	SpanAttrUserDomain = "mcp.user.domain"

	// SpanAttrTeamCount is the number of teams the user belongs to.
	SpanAttrTeamCount = "mcp.user.team_count"

	// SpanAttrPlugin is the plugin name running a hook.
	SpanAttrPlugin = "mcp.plugin"

	// SpanAttrHook is the hook point being executed.
	SpanAttrHook = "mcp.hook"

	// SpanAttrOperation is the operation type (call_tool, read_resource, etc.).
	SpanAttrOperation = "mcp.operation"

	// SpanAttrCacheHit indicates whether a cache hit occurred.
	SpanAttrCacheHit = "mcp.cache_hit"

	// SpanAttrFederated indicates whether the call was forwarded to a peer.
	SpanAttrFederated = "mcp.federated"

	// SpanAttrRetries is the number of retries an invocation needed.
	SpanAttrRetries = "mcp.retries"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming and cardinality controls.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 10),
	}
}

// WithTool adds the MCP tool name attribute.
func (b *SpanAttributeBuilder) WithTool(tool string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrTool, tool))
	return b
}

// WithIntegration adds the integration type attribute.
func (b *SpanAttributeBuilder) WithIntegration(integration string) *SpanAttributeBuilder {
	if integration != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrIntegration, integration))
	}
	return b
}

// WithServer adds the virtual server scope attribute.
func (b *SpanAttributeBuilder) WithServer(serverID string) *SpanAttributeBuilder {
	if serverID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrServer, serverID))
	}
	return b
}

// WithGateway adds peer gateway attributes with cardinality control.
// Adds both the full peer name and classified type.
func (b *SpanAttributeBuilder) WithGateway(peerName string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs,
		attribute.String(SpanAttrGateway, peerName),
		attribute.String(SpanAttrGatewayType, ClassifyGatewayName(peerName)),
	)
	return b
}

// WithGatewayType adds only the classified peer type (for lower cardinality).
func (b *SpanAttributeBuilder) WithGatewayType(peerName string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs,
		attribute.String(SpanAttrGatewayType, ClassifyGatewayName(peerName)),
	)
	return b
}

// WithUser adds user attributes with optional cardinality control.
// If includeEmail is true, includes the full email; otherwise only the domain.
func (b *SpanAttributeBuilder) WithUser(email string, teams []string, includeEmail bool) *SpanAttributeBuilder {
	if includeEmail {
		b.attrs = append(b.attrs, attribute.String(SpanAttrUserEmail, email))
	}
	b.attrs = append(b.attrs,
		attribute.String(SpanAttrUserDomain, ExtractUserDomain(email)),
		attribute.Int(SpanAttrTeamCount, len(teams)),
	)
	return b
}

// WithOperation adds the operation type attribute.
func (b *SpanAttributeBuilder) WithOperation(operation string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrOperation, operation))
	return b
}

// WithCacheHit adds the cache hit indicator attribute.
func (b *SpanAttributeBuilder) WithCacheHit(hit bool) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Bool(SpanAttrCacheHit, hit))
	return b
}

// WithFederated adds the federation indicator attribute.
func (b *SpanAttributeBuilder) WithFederated(federated bool) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Bool(SpanAttrFederated, federated))
	return b
}

// WithRetries adds the retry count attribute.
func (b *SpanAttributeBuilder) WithRetries(n int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrRetries, n))
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// Returns the context with the span and the span itself.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartToolSpan starts a span for an MCP tool invocation.
// Automatically adds tool name and sets appropriate span kind.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attribute.String(SpanAttrTool, toolName))
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "tool."+toolName,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartFederationSpan starts a span for calls forwarded to a peer gateway.
// Includes peer attributes and sets appropriate span kind.
func StartFederationSpan(ctx context.Context, operation, peerName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+3)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrOperation, operation),
		attribute.String(SpanAttrGateway, peerName),
		attribute.String(SpanAttrGatewayType, ClassifyGatewayName(peerName)),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "federation."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartHookSpan starts a span for a plugin hook run.
// Includes plugin and hook attributes.
func StartHookSpan(ctx context.Context, plugin, hook string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrPlugin, plugin),
		attribute.String(SpanAttrHook, hook),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "hook."+hook,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
// Returns empty string if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// SpanContextString returns a human-readable trace context string.
// Format: "trace_id=X span_id=Y" or empty string if no valid context.
func SpanContextString(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return "trace_id=" + span.SpanContext().TraceID().String() +
		" span_id=" + span.SpanContext().SpanID().String()
}
