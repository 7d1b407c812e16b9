package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Earshot tracer.
const tracerName = "github.com/earshot/earshot"

// Stage names for the spans emitted while an utterance moves through the
// pipeline. Each finished utterance produces one span per stage, all
// children of the same trace.
const (
	StageEnhance    = "enhance"
	StageTranscribe = "transcribe"
)

// Tracer returns the package-level [trace.Tracer] for Earshot. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StageSpan starts an internal span covering one processing stage of an
// utterance. The span is named "pipeline.<stage>" and carries the byte count
// and format of the audio entering the stage, so traces can be filtered by
// stage and correlated with utterance length.
func StageSpan(ctx context.Context, stage string, pcmBytes, sampleRate, channels int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("earshot.stage", stage),
			attribute.Int("earshot.audio.bytes", pcmBytes),
			attribute.Int("earshot.audio.sample_rate", sampleRate),
			attribute.Int("earshot.audio.channels", channels),
		),
	)
}

// EndStageSpan records the stage outcome on span and ends it. A non-nil err
// marks the span as failed and attaches the error event; provider, when
// non-empty, records which transcription backend served the stage.
func EndStageSpan(span trace.Span, provider string, err error) {
	if provider != "" {
		span.SetAttributes(attribute.String("earshot.asr.provider", provider))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the correlation identifier in logs and headers.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
