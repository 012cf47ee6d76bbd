// Package tracing wraps OpenTelemetry span creation behind a small Tracer
// type. It emits one span per turn, one per LLM call, and one per tool
// execution.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OTLP exporter. An empty Endpoint yields a no-op
// tracer: spans are created but never exported, so instrumented code paths
// never need a nil check.
type Config struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// Tracer creates spans for turn/LLM-call/tool-execution boundaries.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracer from cfg and returns a shutdown func that must be
// called on process exit. If cfg.Endpoint is empty, shutdown is a no-op.
func New(cfg Config) (*Tracer, func(context.Context) error) {
	name := cfg.ServiceName
	if name == "" {
		name = "askyd"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(name)}, func(context.Context) error { return nil }
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(name)}, func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", name),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(name)}, provider.Shutdown
}

// StartTurn opens a span covering one RunTurn invocation.
func (t *Tracer) StartTurn(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.start(ctx, "turn.run", trace.SpanKindServer, attribute.String("session_id", sessionID))
}

// StartLLMCall opens a span covering one LLMAdapter.Complete call.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, turn int) (context.Context, trace.Span) {
	return t.start(ctx, fmt.Sprintf("llm.complete.%s", model), trace.SpanKindClient,
		attribute.String("llm.model", model), attribute.Int("turn", turn))
}

// StartTool opens a span covering one tool executor invocation.
func (t *Tracer) StartTool(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.start(ctx, fmt.Sprintf("tool.%s", name), trace.SpanKindInternal, attribute.String("tool.name", name))
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err, a no-op if err is nil.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
