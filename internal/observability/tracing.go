// ABOUTME: OpenTelemetry tracing for the capture pipeline
// ABOUTME: Builds the OTLP provider and records store outcomes on errcap spans

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of every devcapture span.
const TracerName = "devcapture"

// Span names of the ingestion routes.
const (
	SpanCapture = "errcap.capture"
	SpanQuery   = "errcap.query"
	SpanClear   = "errcap.clear"
	SpanStats   = "errcap.stats"
)

// Attributes set on errcap spans.
const (
	AttrErrorID      = attribute.Key("errcap.error_id")
	AttrOutcome      = attribute.Key("errcap.outcome")
	AttrOccurrences  = attribute.Key("errcap.occurrences")
	AttrEvictedID    = attribute.Key("errcap.evicted_id")
	AttrRejectReason = attribute.Key("errcap.reject_reason")
	AttrCount        = attribute.Key("errcap.count")
	AttrCleared      = attribute.Key("errcap.cleared")
)

// TracingConfig selects where capture spans are exported.
type TracingConfig struct {
	Enabled bool

	ServiceName string
	Version     string

	// OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// Fraction of new traces sampled; requests carrying a sampled parent
	// are always traced.
	SamplingRatio float64
}

// TracerProvider owns the SDK provider behind the errcap spans.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	enabled  bool
}

// NewTracerProvider builds the provider. When tracing is disabled the
// provider samples nothing and the global provider is left alone.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{
			provider: sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())),
		}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter for %s: %w", cfg.Endpoint, err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: provider, enabled: true}, nil
}

// Tracer returns the devcapture tracer of this provider.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.provider.Tracer(TracerName)
}

// Shutdown flushes pending spans and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// IsEnabled reports whether spans are exported.
func (tp *TracerProvider) IsEnabled() bool {
	return tp.enabled
}

// RecordCaptured tags a capture span with what the store did.
func RecordCaptured(span trace.Span, errorID, outcome string, occurrences int, evictedID string) {
	span.SetAttributes(
		AttrErrorID.String(errorID),
		AttrOutcome.String(outcome),
		AttrOccurrences.Int(occurrences),
	)
	if evictedID != "" {
		span.SetAttributes(AttrEvictedID.String(evictedID))
	}
}

// RecordRejected marks a span as a rejected request.
func RecordRejected(span trace.Span, reason string, err error) {
	span.SetAttributes(AttrRejectReason.String(reason))
	span.SetStatus(codes.Error, reason)
	if err != nil {
		span.RecordError(err)
	}
}

// ExtractTraceID returns the trace ID in ctx, or "".
func ExtractTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// ExtractSpanID returns the span ID in ctx, or "".
func ExtractSpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

// StartSpan starts a span on the global devcapture tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
