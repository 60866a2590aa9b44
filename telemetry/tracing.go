package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer scoped to the turn engine, used to
// wrap each turn iteration (and its stream/dispatch/compact substeps)
// in a span, so the engine is observable without coupling to a specific
// tracing backend.
type Tracer struct {
	tr trace.Tracer
}

// NewTracer creates a Tracer backed by a TracerProvider built from exp (pass
// NewWriterExporter(w) in tests/CLI use for a dependency-free stdout sink).
// serviceName labels the emitted resource.
func NewTracer(serviceName string, exp sdktrace.SpanExporter) (*Tracer, func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tr: provider.Tracer("turnengine")}, provider.Shutdown, nil
}

// StartSpan starts a span and returns the updated context alongside it. A
// nil Tracer returns ctx unchanged and a no-op span, so instrumentation is
// always optional.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tr == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

// spanRecord is the JSON shape NewWriterExporter writes per span, enough to
// eyeball turn.iterate/stream/dispatch/compact spans in test output
// without a collector.
type spanRecord struct {
	Name       string            `json:"name"`
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	ParentID   string            `json:"parent_span_id,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// writerExporter is a minimal sdktrace.SpanExporter that writes one JSON
// line per finished span to w, playing the role aixgo's stdouttrace
// dependency plays there, without requiring an additional unvendored
// exporter module.
type writerExporter struct {
	w io.Writer
}

// NewWriterExporter returns a SpanExporter that writes newline-delimited
// JSON span records to w.
func NewWriterExporter(w io.Writer) sdktrace.SpanExporter {
	return &writerExporter{w: w}
}

func (e *writerExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	enc := json.NewEncoder(e.w)
	for _, s := range spans {
		rec := spanRecord{
			Name:      s.Name(),
			TraceID:   s.SpanContext().TraceID().String(),
			SpanID:    s.SpanContext().SpanID().String(),
			StartTime: s.StartTime(),
			EndTime:   s.EndTime(),
		}
		if s.Parent().IsValid() {
			rec.ParentID = s.Parent().SpanID().String()
		}
		if attrs := s.Attributes(); len(attrs) > 0 {
			rec.Attributes = make(map[string]string, len(attrs))
			for _, kv := range attrs {
				rec.Attributes[string(kv.Key)] = kv.Value.Emit()
			}
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *writerExporter) Shutdown(ctx context.Context) error { return nil }
