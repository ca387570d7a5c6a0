package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func newRecordingEmitter(t *testing.T) (*OTelEmitter, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewOTelEmitter(otel.Tracer("test")), exporter
}

func TestOTelEmitter_Emit(t *testing.T) {
	emitter, exporter := newRecordingEmitter(t)

	emitter.Emit(Event{
		ExecutionID: "exec-001",
		Step:        1,
		NodeID:      "fetch",
		Msg:         MsgNodeStarted,
		Meta: map[string]any{
			"node_type":   "httpRequest",
			"duration_ms": int64(42),
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != MsgNodeStarted {
		t.Errorf("span name = %q, want %q", span.Name, MsgNodeStarted)
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["fluxline.execution_id"]; got != "exec-001" {
		t.Errorf("execution_id = %v", got)
	}
	if got := attrs["fluxline.step"]; got != int64(1) {
		t.Errorf("step = %v", got)
	}
	if got := attrs["fluxline.node_id"]; got != "fetch" {
		t.Errorf("node_id = %v", got)
	}
	if got := attrs["fluxline.node_type"]; got != "httpRequest" {
		t.Errorf("node_type = %v", got)
	}
	if got := attrs["fluxline.duration_ms"]; got != int64(42) {
		t.Errorf("duration_ms = %v", got)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitter_ErrorStatus(t *testing.T) {
	emitter, exporter := newRecordingEmitter(t)

	emitter.Emit(Event{
		ExecutionID: "exec-001",
		Step:        2,
		NodeID:      "fetch",
		Msg:         MsgNodeFailed,
		Meta:        map[string]any{"error": "connection refused"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", span.Status.Code)
	}
	if span.Status.Description != "connection refused" {
		t.Errorf("status description = %q", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected a recorded error event on the span")
	}
}

func TestOTelEmitter_OneSpanPerEvent(t *testing.T) {
	emitter, exporter := newRecordingEmitter(t)

	msgs := []string{MsgExecutionStarted, MsgNodeStarted, MsgNodeCompleted, MsgExecutionCompleted}
	for i, msg := range msgs {
		emitter.Emit(Event{ExecutionID: "exec-001", Step: i, Msg: msg})
	}

	spans := exporter.GetSpans()
	if len(spans) != len(msgs) {
		t.Fatalf("expected %d spans, got %d", len(msgs), len(spans))
	}
	for i, span := range spans {
		if span.Name != msgs[i] {
			t.Errorf("span %d name = %q, want %q", i, span.Name, msgs[i])
		}
	}
}

func TestOTelEmitter_Flush(t *testing.T) {
	emitter, _ := newRecordingEmitter(t)
	if err := emitter.Flush(context.Background()); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}
