// Package tracing owns the process tracer and the span helpers used by every service
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerTraceParent = "traceparent"
	headerTraceState  = "tracestate"
)

var (
	tracer     trace.Tracer
	propagator = propagation.TraceContext{}
)

// Config configures the tracer provider
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRatio    float64 // 1 samples everything
}

// Setup installs a batching tracer provider that exports to exporter and makes it the
// tracer StartSpan uses. The returned func flushes and shuts the provider down.
func Setup(cfg Config, exporter sdktrace.SpanExporter) func(ctx context.Context) error {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagator)
	SetTracer(provider.Tracer(cfg.ServiceName))

	return provider.Shutdown
}

// SetTracer sets the tracer to be used for tracing.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// GetActiveSpan returns the recording span in ctx, or nil when there is none.
func GetActiveSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// StartSpan starts a new span with the given name and returns the context and span.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

func carrier(ctx context.Context) propagation.MapCarrier {
	c := propagation.MapCarrier{}
	if GetActiveSpan(ctx) == nil {
		return c
	}
	propagator.Inject(ctx, c)
	return c
}

// GetTraceParent returns the W3C traceparent of the active span
func GetTraceParent(ctx context.Context) string {
	return carrier(ctx).Get(headerTraceParent)
}

// GetTraceState returns the W3C tracestate of the active span
func GetTraceState(ctx context.Context) string {
	return carrier(ctx).Get(headerTraceState)
}

// WithRemoteParent continues a trace carried in message headers. An empty or
// malformed traceparent leaves ctx unchanged.
func WithRemoteParent(ctx context.Context, traceParent, traceState string) context.Context {
	if traceParent == "" {
		return ctx
	}
	c := propagation.MapCarrier{headerTraceParent: traceParent}
	if traceState != "" {
		c[headerTraceState] = traceState
	}
	return propagator.Extract(ctx, c)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the span ID from the context.
func GetSpanID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
