package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/flanker/pkg/flanking"
)

// tracerName is the instrumentation scope name for the flanker tracer.
const tracerName = "github.com/MrWong99/flanker"

// Span attribute keys shared by the tracker, the bridge and the MCP tools.
const (
	AttrUserID     = attribute.Key("user_id")
	AttrTargetID   = attribute.Key("target_id")
	AttrFrameType  = attribute.Key("frame_type")
	AttrTool       = attribute.Key("tool")
	AttrFlanked    = attribute.Key("flanked")
	AttrBonus      = attribute.Key("bonus")
	AttrCandidates = attribute.Key("candidates")
)

// Tracer returns the flanker tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the flanker tracer. The caller ends it, usually
// through [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ResultAttributes describes the outcome of an evaluation.
func ResultAttributes(res flanking.Result) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTargetID.String(res.TargetID),
		AttrFlanked.Bool(res.Flanked),
		AttrBonus.Int(res.Bonus),
		AttrCandidates.Int(res.Count),
	}
}

// TraceID returns the hex trace ID of the span in ctx, or "" without one.
// The middleware echoes it as X-Correlation-ID.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace returns l with trace_id and span_id attributes taken from the
// span in ctx. l is returned unchanged when ctx carries no valid span.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
