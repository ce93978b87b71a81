// Package tracing configures the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config is bound from OTEL_* variables. Tracing is off without an endpoint.
type Config struct {
	Endpoint     string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	ServiceName  string  `envconfig:"OTEL_SERVICE_NAME" default:"chative-workflow"`
	SamplingRate float64 `envconfig:"OTEL_SAMPLING_RATE" default:"1"`
}

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider exporting over OTLP/gRPC and
// returns it. Without an endpoint the current global provider is returned.
func Setup(ctx context.Context, cfg Config, environment string) (trace.TracerProvider, ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		return otel.GetTracerProvider(), func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider, provider.Shutdown, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}
