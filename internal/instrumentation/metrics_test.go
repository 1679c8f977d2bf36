package instrumentation

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// testMeter returns a meter backed by a manual reader so recorded values
// can be collected and inspected.
func testMeter() (metric.Meter, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return provider.Meter("test"), reader
}

// collectSum finds a counter by name and returns the total across all
// attribute sets, plus the number of distinct attribute sets.
func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) (int64, int) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, len(sum.DataPoints)
		}
	}
	return 0, 0
}

func TestNewMetrics(t *testing.T) {
	meter, _ := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	if metrics.httpRequestsTotal == nil {
		t.Error("expected httpRequestsTotal to be initialized")
	}
	if metrics.httpRequestDuration == nil {
		t.Error("expected httpRequestDuration to be initialized")
	}
	if metrics.activeSessions == nil {
		t.Error("expected activeSessions to be initialized")
	}
	if metrics.toolInvocationsTotal == nil {
		t.Error("expected toolInvocationsTotal to be initialized")
	}
	if metrics.toolInvocationDuration == nil {
		t.Error("expected toolInvocationDuration to be initialized")
	}
	if metrics.toolRetriesTotal == nil {
		t.Error("expected toolRetriesTotal to be initialized")
	}
	if metrics.hookInvocationsTotal == nil {
		t.Error("expected hookInvocationsTotal to be initialized")
	}
	if metrics.federationProbesTotal == nil {
		t.Error("expected federationProbesTotal to be initialized")
	}
	if metrics.federationCallsTotal == nil {
		t.Error("expected federationCallsTotal to be initialized")
	}

	if metrics.detailedLabels {
		t.Error("expected detailedLabels to be false")
	}
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	meter, reader := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	ctx := context.Background()
	metrics.RecordHTTPRequest(ctx, "POST", "/mcp", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "GET", "/metrics", 200, 50*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "POST", "/mcp", 500, 200*time.Millisecond)

	total, _ := collectSum(t, reader, "http_requests_total")
	if total != 3 {
		t.Errorf("expected 3 http requests recorded, got %d", total)
	}
}

func TestMetrics_RecordToolInvocation_LabelCardinality(t *testing.T) {
	ctx := context.Background()

	// Without detailed labels, distinct tool names sharing integration
	// and outcome collapse into one series.
	meter, reader := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	metrics.RecordToolInvocation(ctx, "github__create_issue", "rest", "ok", 50*time.Millisecond)
	metrics.RecordToolInvocation(ctx, "github__close_issue", "rest", "ok", 75*time.Millisecond)

	total, series := collectSum(t, reader, "tool_invocations_total")
	if total != 2 {
		t.Errorf("expected 2 invocations recorded, got %d", total)
	}
	if series != 1 {
		t.Errorf("expected tool names to collapse into 1 series, got %d", series)
	}

	// With detailed labels, each tool name gets its own series.
	meter, reader = testMeter()
	metrics, err = NewMetrics(meter, true)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	metrics.RecordToolInvocation(ctx, "github__create_issue", "rest", "ok", 50*time.Millisecond)
	metrics.RecordToolInvocation(ctx, "github__close_issue", "rest", "ok", 75*time.Millisecond)

	_, series = collectSum(t, reader, "tool_invocations_total")
	if series != 2 {
		t.Errorf("expected 2 series with detailed labels, got %d", series)
	}
}

func TestMetrics_RecordToolRetry(t *testing.T) {
	meter, reader := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	ctx := context.Background()
	metrics.RecordToolRetry(ctx, "github__create_issue", "rest")
	metrics.RecordToolRetry(ctx, "github__create_issue", "rest")

	total, _ := collectSum(t, reader, "tool_retries_total")
	if total != 2 {
		t.Errorf("expected 2 retries recorded, got %d", total)
	}
}

func TestMetrics_RecordHookInvocation(t *testing.T) {
	meter, reader := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	ctx := context.Background()
	metrics.RecordHookInvocation(ctx, "pii_filter", "tool_pre_invoke", HookOutcomeAllowed, 5*time.Millisecond)
	metrics.RecordHookInvocation(ctx, "deny_filter", "tool_pre_invoke", HookOutcomeBlocked, 2*time.Millisecond)

	total, series := collectSum(t, reader, "plugin_hook_invocations_total")
	if total != 2 {
		t.Errorf("expected 2 hook runs recorded, got %d", total)
	}
	if series != 2 {
		t.Errorf("expected 2 series for distinct outcomes, got %d", series)
	}
}

func TestMetrics_RecordFederationProbe_ClassifiesPeer(t *testing.T) {
	meter, reader := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	ctx := context.Background()
	// Two production peers with distinct names share a series.
	metrics.RecordFederationProbe(ctx, "prod-eu-01", ProbeOutcomeHealthy)
	metrics.RecordFederationProbe(ctx, "prod-us-02", ProbeOutcomeHealthy)

	total, series := collectSum(t, reader, "federation_probes_total")
	if total != 2 {
		t.Errorf("expected 2 probes recorded, got %d", total)
	}
	if series != 1 {
		t.Errorf("expected peer names to classify into 1 series, got %d", series)
	}
}

func TestMetrics_RecordFederationCall(t *testing.T) {
	meter, reader := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	ctx := context.Background()
	metrics.RecordFederationCall(ctx, "call_tool", "prod-eu-01", "ok", 150*time.Millisecond)

	total, _ := collectSum(t, reader, "federation_calls_total")
	if total != 1 {
		t.Errorf("expected 1 call recorded, got %d", total)
	}
}

func TestMetrics_ActiveSessions(t *testing.T) {
	meter, reader := testMeter()
	metrics, err := NewMetrics(meter, false)
	if err != nil {
		t.Fatalf("expected no error creating metrics, got %v", err)
	}

	ctx := context.Background()
	metrics.IncrementActiveSessions(ctx)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)

	total, _ := collectSum(t, reader, "active_mcp_sessions")
	if total != 1 {
		t.Errorf("expected 1 active session, got %d", total)
	}
}

func TestMetrics_ZeroValue_DoesNotPanic(t *testing.T) {
	metrics := &Metrics{}
	ctx := context.Background()

	metrics.RecordHTTPRequest(ctx, "POST", "/mcp", 200, 100*time.Millisecond)
	metrics.RecordToolInvocation(ctx, "tool", "mcp", "ok", time.Millisecond)
	metrics.RecordToolRetry(ctx, "tool", "mcp")
	metrics.RecordHookInvocation(ctx, "p", "h", HookOutcomeAllowed, time.Millisecond)
	metrics.RecordFederationProbe(ctx, "peer", ProbeOutcomeHealthy)
	metrics.RecordFederationCall(ctx, "call_tool", "peer", "ok", time.Millisecond)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)
}
