// Package telemetry sets up OpenTelemetry tracing for harvest runs. Spans
// cover the run and each checkpoint unit; the W3C trace context of the run is
// carried on the release notification so consumers can join it.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config names the service in emitted spans.
type Config struct {
	ServiceName string
	Version     string
	// Exporter receives finished spans. Nil keeps spans in-process only,
	// which still yields valid trace context for propagation.
	Exporter sdktrace.SpanExporter
}

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	initErr   error
)

// InitTracing installs the global tracer provider and propagator once per
// process and returns the provider so callers can shut it down.
func InitTracing(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	initOnce.Do(func() {
		traceProv, initErr = NewTracerProvider(ctx, cfg)
		if initErr != nil {
			return
		}
		otel.SetTracerProvider(traceProv)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
	return traceProv, initErr
}

// NewTracerProvider builds a provider without touching the globals.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "uiblocks-harvester"
	}
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(name))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
