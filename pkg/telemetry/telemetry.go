// Package telemetry configures the OpenTelemetry tracer provider the
// rest of the service reads through otel.Tracer(...) (see
// pkg/dispatcher's "executor-balancer/dispatcher" tracer). No example
// in the retrieved pack constructs a TracerProvider directly — the
// closest grounding is open-policy-agent-eopa/cmd/run.go's
// otel.SetTracerProvider(tp) call, which this package mirrors — so the
// exporter/resource wiring below otherwise follows the
// go.opentelemetry.io/otel/sdk packages' own documented idiom.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config controls how the tracer provider exports spans.
type Config struct {
	// ServiceName is attached to every span as a resource attribute.
	ServiceName string
	// OTLPEndpoint is the collector's host:port. When empty, spans are
	// written to stdout instead — useful for local development where
	// no collector is running.
	OTLPEndpoint string
	// Insecure disables TLS when talking to OTLPEndpoint.
	Insecure bool
	// SampleRatio is the fraction of traces kept, in [0,1]. Zero
	// defaults to 1 (always sample), matching the teacher's
	// fail-open-to-visibility posture for a low-volume internal service.
	SampleRatio float64
}

// Provider owns the process's TracerProvider and its exporter.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds and installs a TracerProvider as the process's
// global tracer provider (otel.SetTracerProvider), so every
// otel.Tracer(name) call elsewhere in the service picks it up.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.OTLPEndpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// Shutdown flushes and closes the underlying exporter, waiting until
// ctx is done.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
