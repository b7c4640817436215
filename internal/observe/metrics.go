// Package observe provides application-wide observability primitives for
// flanker: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all flanker metrics.
const meterName = "github.com/MrWong99/flanker"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// EvaluationDuration tracks how long one flanking evaluation takes.
	EvaluationDuration metric.Float64Histogram

	// Evaluations counts flanking evaluations. Use with attribute:
	//   attribute.Bool("flanked", ...)
	Evaluations metric.Int64Counter

	// Candidates records the number of flanking candidates per evaluation.
	Candidates metric.Int64Histogram

	// StoreErrors counts failed flag store operations. Use with attribute:
	//   attribute.String("op", "get"|"set"|"delete")
	StoreErrors metric.Int64Counter

	// BridgeFrames counts websocket frames handled by the bridge. Use with
	// attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	BridgeFrames metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ActiveConnections tracks the number of open bridge websocket
	// connections.
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// evaluationBuckets are histogram boundaries (in seconds) for a purely
// in-memory computation over a handful of tokens.
var evaluationBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05,
}

// candidateBuckets cover the usual number of creatures around one target.
var candidateBuckets = []float64{0, 1, 2, 3, 4, 5, 6, 8}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EvaluationDuration, err = m.Float64Histogram("flanker.evaluation.duration",
		metric.WithDescription("Latency of one flanking evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(evaluationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Evaluations, err = m.Int64Counter("flanker.evaluations",
		metric.WithDescription("Total flanking evaluations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Histogram("flanker.candidates",
		metric.WithDescription("Flanking candidates found per evaluation."),
		metric.WithExplicitBucketBoundaries(candidateBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("flanker.store.errors",
		metric.WithDescription("Total flag store failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.BridgeFrames, err = m.Int64Counter("flanker.bridge.frames",
		metric.WithDescription("Total bridge frames by type and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("flanker.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("flanker.bridge.active_connections",
		metric.WithDescription("Number of open bridge websocket connections."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("flanker.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordEvaluation records the outcome and latency of one evaluation.
func (m *Metrics) RecordEvaluation(ctx context.Context, flanked bool, candidates int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("flanked", strconv.FormatBool(flanked)))
	m.Evaluations.Add(ctx, 1, attrs)
	m.EvaluationDuration.Record(ctx, d.Seconds(), attrs)
	m.Candidates.Record(ctx, int64(candidates))
}

// RecordStoreError records a failed flag store operation.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordFrame records a handled bridge frame.
func (m *Metrics) RecordFrame(ctx context.Context, frameType, status string) {
	m.BridgeFrames.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", frameType),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records an MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
