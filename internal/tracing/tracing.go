// Package tracing configures the OpenTelemetry tracer provider used for
// request spans.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"toolfleet/internal/config"
	"toolfleet/pkg/logging"
)

// Provider bundles a tracer provider with its shutdown function.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Setup builds the provider selected by cfg. With the stdout exporter spans
// are written to w as JSON. The provider and the W3C trace-context
// propagator are installed globally.
func Setup(cfg config.TracingConfig, w io.Writer) (*Provider, error) {
	switch cfg.Exporter {
	case config.TraceExporterNone, "":
		return &Provider{TracerProvider: noop.NewTracerProvider()}, nil

	case config.TraceExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

		ratio := cfg.SampleRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		)

		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		logging.Info("Tracing", "Tracing enabled with stdout exporter (sample ratio %.2f)", ratio)

		return &Provider{TracerProvider: tp, shutdown: tp.Shutdown}, nil

	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}
