package telemetry

import (
	"context"
	"fmt"
	"io"

	"github.com/trebuchet-org/txm/internal/domain/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes pending spans and stops the exporter
type ShutdownFunc func(ctx context.Context) error

// Setup installs the global tracer provider described by cfg. The stdout
// exporter writes JSON spans to out. With the none exporter spans stay on
// the noop provider and the returned shutdown does nothing.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string, out io.Writer) (ShutdownFunc, error) {
	if cfg.Exporter == "" || cfg.Exporter == config.TraceExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg, out)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	provider := NewTracerProvider(cfg, version, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// NewTracerProvider builds an SDK provider tagged with the service name and
// version, sampling root spans at cfg.SampleRatio
func NewTracerProvider(cfg config.TelemetryConfig, version string, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version),
	)
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}, opts...)
	return sdktrace.NewTracerProvider(opts...)
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig, out io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case config.TraceExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(out))
	case config.TraceExporterOTLP:
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}
