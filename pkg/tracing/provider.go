package tracing

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type ProviderConfig struct {
	ServiceName string
	// none, console, otlp-grpc, otlp-http
	Exporter string
	Endpoint string
	Insecure bool
}

// Setup installs a global tracer provider and returns its shutdown func.
// With exporter "none" spans are disabled and shutdown is a no-op.
func Setup(ctx context.Context, cfg ProviderConfig, logger ectologger.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "", "none":
		SetTracer(nil)
		return func(context.Context) error { return nil }, nil
	case "console":
		exporter = exporters.NewConsoleExporter(logger)
	case "otlp-grpc":
		exporter, err = exporters.NewOTLPGRPC(ctx, cfg.Endpoint, cfg.Insecure)
	case "otlp-http":
		exporter, err = exporters.NewOTLPHTTP(ctx, cfg.Endpoint, cfg.Insecure)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(cfg.ServiceName))
	logger.WithFields(map[string]any{
		"exporter": cfg.Exporter,
		"endpoint": cfg.Endpoint,
	}).Info("Tracing enabled")

	return provider.Shutdown, nil
}
