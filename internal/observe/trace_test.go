package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer swaps the global tracer provider for one backed by an
// in-memory exporter and restores the original on cleanup. Returned spans
// are inspected via exp.GetSpans().
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func spanAttr(s tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStageSpan_NamesAndAudioShape(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StageSpan(context.Background(), StageEnhance, 9600, 16000, 1)
	EndStageSpan(span, "", nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "pipeline.enhance" {
		t.Errorf("span name = %q, want %q", s.Name, "pipeline.enhance")
	}
	if v, ok := spanAttr(s, "earshot.stage"); !ok || v.AsString() != StageEnhance {
		t.Errorf("earshot.stage = %v, want %q", v.Emit(), StageEnhance)
	}
	if v, ok := spanAttr(s, "earshot.audio.bytes"); !ok || v.AsInt64() != 9600 {
		t.Errorf("earshot.audio.bytes = %v, want 9600", v.Emit())
	}
	if v, ok := spanAttr(s, "earshot.audio.sample_rate"); !ok || v.AsInt64() != 16000 {
		t.Errorf("earshot.audio.sample_rate = %v, want 16000", v.Emit())
	}
}

func TestEndStageSpan_RecordsProvider(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StageSpan(context.Background(), StageTranscribe, 640, 16000, 1)
	EndStageSpan(span, "whisper", nil)

	s := exp.GetSpans()[0]
	if s.Name != "pipeline.transcribe" {
		t.Errorf("span name = %q, want %q", s.Name, "pipeline.transcribe")
	}
	if v, ok := spanAttr(s, "earshot.asr.provider"); !ok || v.AsString() != "whisper" {
		t.Errorf("earshot.asr.provider = %v, want %q", v.Emit(), "whisper")
	}
	if s.Status.Code == codes.Error {
		t.Error("successful stage span marked as error")
	}
}

func TestEndStageSpan_RecordsFailure(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StageSpan(context.Background(), StageTranscribe, 640, 16000, 1)
	EndStageSpan(span, "", errors.New("all providers exhausted"))

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error {
		t.Fatalf("status code = %v, want Error", s.Status.Code)
	}
	if !strings.Contains(s.Status.Description, "exhausted") {
		t.Errorf("status description = %q, want the error text", s.Status.Description)
	}
	if len(s.Events) == 0 {
		t.Error("failed stage span recorded no error event")
	}
}

func TestStageSpans_ShareTrace(t *testing.T) {
	exp := installTestTracer(t)

	ctx, espan := StageSpan(context.Background(), StageEnhance, 640, 16000, 1)
	EndStageSpan(espan, "", nil)
	_, tspan := StageSpan(ctx, StageTranscribe, 640, 16000, 1)
	EndStageSpan(tspan, "mock", nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("enhance and transcribe spans landed in different traces")
	}
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationID_IsTraceIDHex(t *testing.T) {
	installTestTracer(t)

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32", len(cid))
	}
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("correlation ID contains non-hex character %q", c)
			break
		}
	}
}

func TestLogger_IncludesTraceAndSpanIDs(t *testing.T) {
	installTestTracer(t)

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(slog.Default()) })

	ctx, span := StartSpan(context.Background(), "log-op")
	defer span.End()

	Logger(ctx).Info("utterance finished")

	logged := buf.String()
	if !strings.Contains(logged, "trace_id=") {
		t.Errorf("log output missing trace_id, got: %s", logged)
	}
	if !strings.Contains(logged, "span_id=") {
		t.Errorf("log output missing span_id, got: %s", logged)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(slog.Default()) })

	Logger(context.Background()).Info("startup")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log output should not contain trace_id, got: %s", buf.String())
	}
}
