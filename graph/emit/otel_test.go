package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*OTelEmitter, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewOTelEmitter(tp.Tracer("test")), exporter
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

// TestOTelEmitter_Emit verifies events become spans with storyflow attributes.
func TestOTelEmitter_Emit(t *testing.T) {
	emitter, exporter := newTestTracer(t)

	emitter.Emit(Event{
		RunID:  "gen-001",
		Step:   3,
		NodeID: "assess",
		Msg:    "assessment_completed",
		Meta: map[string]interface{}{
			"attempt":     2,
			"score":       8,
			"model":       "gpt-4o-mini",
			"duration_ms": int64(40),
			"issues":      []string{"a", "b"},
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "assessment_completed" {
		t.Errorf("span name = %q", span.Name)
	}

	attrs := attributeMap(span.Attributes)
	checks := map[string]interface{}{
		"storyflow.run_id":           "gen-001",
		"storyflow.step":             int64(3),
		"storyflow.node_id":          "assess",
		"storyflow.attempt":          int64(2),
		"storyflow.quality.score":    int64(8),
		"storyflow.llm.model":        "gpt-4o-mini",
		"storyflow.node.duration_ms": int64(40),
	}
	for key, want := range checks {
		if got := attrs[key]; got != want {
			t.Errorf("%s = %v, want %v", key, got, want)
		}
	}
	if issues, ok := attrs["issues"].([]string); !ok || len(issues) != 2 {
		t.Errorf("issues = %v", attrs["issues"])
	}
	if span.EndTime.Sub(span.StartTime) < 40*1e6 {
		t.Errorf("span should cover reported duration, got %v", span.EndTime.Sub(span.StartTime))
	}
}

// TestOTelEmitter_Error verifies error events set span status.
func TestOTelEmitter_Error(t *testing.T) {
	emitter, exporter := newTestTracer(t)

	emitter.Emit(Event{RunID: "gen-001", NodeID: "generate", Msg: "node_error",
		Meta: map[string]interface{}{"error": "rate limited"}})

	span := exporter.GetSpans()[0]
	if span.Status.Code != codes.Error || span.Status.Description != "rate limited" {
		t.Errorf("unexpected status %+v", span.Status)
	}
	if len(span.Events) == 0 {
		t.Error("expected recorded error event on span")
	}
	if _, has := attributeMap(span.Attributes)["error"]; has {
		t.Error("error should be reported via status, not as attribute")
	}
}

// TestOTelEmitter_Flush verifies Flush is safe with the default provider.
func TestOTelEmitter_Flush(t *testing.T) {
	emitter, _ := newTestTracer(t)
	if err := emitter.Flush(context.Background()); err != nil {
		t.Errorf("Flush returned %v", err)
	}
}
