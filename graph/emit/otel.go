package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "node_start", "assessment_completed")
//   - Attributes: storyflow.run_id, storyflow.step, storyflow.node_id and event.Meta
//   - Status: Error if event.Meta["error"] is a string
//
// Well-known Meta keys map to namespaced attributes:
//
//	attempt     -> storyflow.attempt
//	model       -> storyflow.llm.model
//	tokens_in   -> storyflow.llm.tokens_in
//	tokens_out  -> storyflow.llm.tokens_out
//	cost_usd    -> storyflow.llm.cost_usd
//	duration_ms -> storyflow.node.duration_ms
//	score       -> storyflow.quality.score
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("storyflow"))
type OTelEmitter struct {
	tracer trace.Tracer
}

var otelKeys = map[string]string{
	"attempt":     "storyflow.attempt",
	"model":       "storyflow.llm.model",
	"tokens_in":   "storyflow.llm.tokens_in",
	"tokens_out":  "storyflow.llm.tokens_out",
	"cost_usd":    "storyflow.llm.cost_usd",
	"duration_ms": "storyflow.node.duration_ms",
	"score":       "storyflow.quality.score",
	"level":       "storyflow.level",
}

// NewOTelEmitter creates a new OTelEmitter using the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for the event.
//
// When Meta carries "duration_ms", the span start time is back-dated so the
// span covers the reported duration.
func (o *OTelEmitter) Emit(event Event) {
	var opts []trace.SpanStartOption
	if d, ok := durationOf(event.Meta["duration_ms"]); ok {
		opts = append(opts, trace.WithTimestamp(time.Now().Add(-d)))
	}

	_, span := o.tracer.Start(context.Background(), event.Msg, opts...)
	defer span.End()

	span.SetAttributes(
		attribute.String("storyflow.run_id", event.RunID),
		attribute.Int("storyflow.step", event.Step),
		attribute.String("storyflow.node_id", event.NodeID),
	)
	o.addMetadataAttributes(span, event.Meta)

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// Flush forces export of pending spans when the global tracer provider
// supports it (the SDK provider does; the noop provider does not).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		if key == "error" {
			continue
		}
		attrKey := key
		if mapped, ok := otelKeys[key]; ok {
			attrKey = mapped
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case []string:
			span.SetAttributes(attribute.StringSlice(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, v.Milliseconds()))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}

func durationOf(v interface{}) (time.Duration, bool) {
	switch ms := v.(type) {
	case int:
		return time.Duration(ms) * time.Millisecond, ms > 0
	case int64:
		return time.Duration(ms) * time.Millisecond, ms > 0
	case float64:
		return time.Duration(ms * float64(time.Millisecond)), ms > 0
	}
	return 0, false
}
