package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span.
//
// The span is named after event.Msg. The context, group and shard become
// shardflow.* attributes, as does every Meta field. A string "error" meta
// marks the span as failed.
//
// Spans are ended immediately; events are points in time. When Meta carries
// "duration_ms" the span start is back-dated by that amount so the span covers
// the batch.
//
// The emitter keeps the provider it was built from, so Flush exports the spans
// of that provider whether or not it is the global one:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	emitter := emit.NewOTelEmitter(tp, "shardflow")
//	defer func() { _ = emitter.Flush(ctx) }()
type OTelEmitter struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter whose spans come from
// tp.Tracer(name).
func NewOTelEmitter(tp trace.TracerProvider, name string) *OTelEmitter {
	return &OTelEmitter{provider: tp, tracer: tp.Tracer(name)}
}

// Emit records the event as a span.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records several events as spans under ctx.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	now := time.Now()
	start := now
	if d, ok := durationMeta(event.Meta); ok {
		start = now.Add(-d)
	}

	_, span := o.tracer.Start(ctx, event.Msg, trace.WithTimestamp(start))
	defer span.End(trace.WithTimestamp(now))

	attrs := []attribute.KeyValue{
		attribute.String("shardflow.context_id", event.ContextID),
		attribute.String("shardflow.group_id", event.GroupID),
		attribute.Int("shardflow.shard", event.Shard),
	}
	for key, value := range event.Meta {
		attrs = append(attrs, metaAttribute("shardflow."+key, value))
	}
	span.SetAttributes(attrs...)

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// Flush exports pending spans when the provider supports ForceFlush, as
// sdktrace.TracerProvider does. Other providers have nothing to flush.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}

	f, ok := o.provider.(flusher)
	if !ok {
		return nil
	}
	return f.ForceFlush(ctx)
}

// metaAttribute converts one Meta value; unknown types are formatted with %v.
func metaAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	}
	return attribute.String(key, fmt.Sprint(value))
}

func durationMeta(meta map[string]any) (time.Duration, bool) {
	switch v := meta["duration_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return 0, false
}
