package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/MrWong99/flanker/internal/config"
)

// Provider owns the SDK providers installed by [InitProvider] and the
// [Metrics] built on top of them.
type Provider struct {
	// Metrics records to the Prometheus-backed meter provider. Pass it to
	// the app so /metrics serves what the tracker records.
	Metrics *Metrics

	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
}

// ProviderOption is a functional option for [InitProvider].
type ProviderOption func(*providerOptions)

type providerOptions struct {
	version    string
	registerer prometheus.Registerer
	exporter   sdktrace.SpanExporter
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) ProviderOption {
	return func(o *providerOptions) { o.version = v }
}

// WithRegisterer registers the metric collector with r instead of
// [prometheus.DefaultRegisterer].
func WithRegisterer(r prometheus.Registerer) ProviderOption {
	return func(o *providerOptions) { o.registerer = r }
}

// WithSpanExporter batches sampled spans to e. Without it spans are sampled
// for log correlation but not exported.
func WithSpanExporter(e sdktrace.SpanExporter) ProviderOption {
	return func(o *providerOptions) { o.exporter = e }
}

// InitProvider builds the meter and tracer providers from cfg and installs
// them as the global OTel providers. Metrics are exposed through a
// Prometheus collector; traces are sampled by cfg.TraceSampleRatio, always
// following a sampled parent.
func InitProvider(ctx context.Context, cfg config.TelemetryConfig, opts ...ProviderOption) (*Provider, error) {
	o := providerOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	name := cfg.ServiceName
	if name == "" {
		name = config.DefaultServiceName
	}

	// Schemaless so the merge never conflicts with the SDK's schema URL.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(name),
			semconv.ServiceVersion(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	promExp, err := promexporter.New(promexporter.WithRegisterer(o.registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	metrics, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	}
	if o.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(o.exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return &Provider{Metrics: metrics, meters: mp, tracers: tp}, nil
}

// ForceFlush exports pending spans and metrics.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return errors.Join(p.tracers.ForceFlush(ctx), p.meters.ForceFlush(ctx))
}

// Shutdown flushes and stops both providers. Tracing stops first so that
// spans ending during shutdown are still exported.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracers.Shutdown(ctx), p.meters.Shutdown(ctx))
}
