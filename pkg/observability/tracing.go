// Package observability provides OpenTelemetry tracing for pqshim.
//
// Components start spans through StartSpan, which uses the global tracer
// provider. Until InitTracing installs an SDK provider the spans are no-ops.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used by every pqshim span.
const InstrumentationName = "github.com/ajitpratap0/pqshim"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// Exporter is "stdout" or "none"
	Exporter     string
	SamplingRate float64
	// Writer receives stdout exporter output (os.Stderr when nil)
	Writer io.Writer
}

// DefaultTracingConfig returns tracing disabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:  "pqshim",
		Exporter:     "none",
		SamplingRate: 1.0,
	}
}

// ShutdownFunc flushes and stops an installed tracer provider.
type ShutdownFunc func(context.Context) error

// InitTracing installs a global SDK tracer provider for cfg. With the "none"
// exporter nothing is installed and the returned shutdown is a no-op.
func InitTracing(cfg TracingConfig) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "none":
		return noop, nil
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return noop, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		return noop, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the pqshim tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span named operation carrying attrs.
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, sets its status and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
