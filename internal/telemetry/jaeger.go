package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: TRACING A SAVE

A single scene save crosses the HTTP handler, the scene service, every
attempt of the store transaction and the codec. Each of those opens a span,
so in Jaeger one save shows up as one trace, with retries visible as
repeated attempts.

  App → OpenTelemetry SDK → Jaeger Exporter → Jaeger Collector → Jaeger UI

Without a collector the exporter just drops spans; the service keeps
working.
*/

// InitJaeger initializes Jaeger tracing exporter
// sampleRatio is the share of root traces kept, 1 keeps all of them.
// Returns a cleanup function that should be called on shutdown
func InitJaeger(serviceName, serviceVersion, jaegerEndpoint string, sampleRatio float64) (func(context.Context) error, error) {
	// Create Jaeger exporter
	// Learning: This sends traces to Jaeger collector
	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	// Create resource with service information
	// Learning: Resource identifies your service in Jaeger UI
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create trace provider with Jaeger exporter
	// Learning: TracerProvider is the central point for creating tracers
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp), // Batch spans for efficiency
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)

	// Set global tracer provider
	// Learning: This makes the tracer available throughout your app
	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s", jaegerEndpoint)

	// Return cleanup function
	// Learning: Always flush traces on shutdown!
	return tp.Shutdown, nil
}
