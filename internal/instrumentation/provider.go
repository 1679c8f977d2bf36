package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Provider owns the OpenTelemetry meter and tracer providers and the
// metrics recorder built on them. A disabled provider hands out no-op
// implementations so call sites never need nil checks.
type Provider struct {
	cfg Config

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics
	promHandler    http.Handler

	sdkMeter  *sdkmetric.MeterProvider
	sdkTracer *sdktrace.TracerProvider
}

// NewProvider initializes instrumentation from the given configuration.
// When cfg.Enabled is false the returned provider records nothing and
// Shutdown is a no-op.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-gateway"
	}

	p := &Provider{cfg: cfg}

	if !cfg.Enabled {
		p.meterProvider = metricnoop.NewMeterProvider()
		p.tracerProvider = tracenoop.NewTracerProvider()
		m, err := NewMetrics(p.meterProvider.Meter(TracerName), cfg.DetailedLabels)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
		}
		p.metrics = m
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initTracing(ctx, res); err != nil {
		return nil, err
	}

	m, err := NewMetrics(p.meterProvider.Meter(TracerName), cfg.DetailedLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}
	p.metrics = m

	// Register globally so helpers like StartSpan pick up the providers.
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTracerProvider(p.tracerProvider)

	return p, nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	var reader sdkmetric.Reader

	switch p.cfg.MetricsExporter {
	case "otlp":
		opts := []otlpmetrichttp.Option{}
		if p.cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(p.cfg.OTLPEndpoint))
		}
		if p.cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter)

	case "stdout":
		exporter, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter)

	default:
		// Prometheus pull is the default. A dedicated registry keeps the
		// gateway's metrics separate from any globals the process carries.
		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		reader = exporter
		p.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	p.sdkMeter = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	p.meterProvider = p.sdkMeter
	return nil
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	var exporter sdktrace.SpanExporter

	switch p.cfg.TracingExporter {
	case "otlp":
		opts := []otlptracehttp.Option{}
		if p.cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(p.cfg.OTLPEndpoint))
		}
		if p.cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		exporter = exp

	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		exporter = exp

	default:
		// "none" and anything unrecognized: spans are created but never
		// exported, keeping the tracing API usable at zero cost.
		p.tracerProvider = tracenoop.NewTracerProvider()
		return nil
	}

	rate := p.cfg.TraceSamplingRate
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}

	p.sdkTracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	p.tracerProvider = p.sdkTracer
	return nil
}

// Enabled reports whether instrumentation is active.
func (p *Provider) Enabled() bool {
	return p.cfg.Enabled
}

// Metrics returns the metrics recorder. Never nil.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// MeterProvider returns the active meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// TracerProvider returns the active tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MetricsHandler returns the Prometheus scrape handler, or nil when the
// metrics exporter is not Prometheus.
func (p *Provider) MetricsHandler() http.Handler {
	return p.promHandler
}

// Shutdown flushes and stops the underlying providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.sdkMeter != nil {
		if err := p.sdkMeter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if p.sdkTracer != nil {
		if err := p.sdkTracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
