package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ExporterKind selects which trace exporter InstallTracerProvider wires up.
type ExporterKind string

const (
	ExporterNone     ExporterKind = "none"
	ExporterStdout   ExporterKind = "stdout"
	ExporterOTLPGRPC ExporterKind = "otlp-grpc"
	ExporterOTLPHTTP ExporterKind = "otlp-http"
)

// ProviderConfig configures InstallTracerProvider. The zero value
// disables tracing (a no-op global tracer).
type ProviderConfig struct {
	Exporter ExporterKind
	Endpoint string
	Insecure bool
}

// ProviderConfigFromEnv reads TRACKHIVE_TRACE_EXPORTER (none|stdout|
// otlp-grpc|otlp-http), TRACKHIVE_TRACE_ENDPOINT, and
// TRACKHIVE_TRACE_INSECURE from the environment.
func ProviderConfigFromEnv() ProviderConfig {
	kind := ExporterKind(os.Getenv("TRACKHIVE_TRACE_EXPORTER"))
	if kind == "" {
		kind = ExporterNone
	}
	return ProviderConfig{
		Exporter: kind,
		Endpoint: os.Getenv("TRACKHIVE_TRACE_ENDPOINT"),
		Insecure: os.Getenv("TRACKHIVE_TRACE_INSECURE") == "true",
	}
}

// InstallTracerProvider builds a sdktrace.TracerProvider per cfg, sets it
// as the global provider, repoints the package-level Tracer at it, and
// returns a shutdown func the caller must invoke before exit (typically
// from finish()/the CLI's deferred cleanup). A cfg.Exporter of
// ExporterNone (or the zero value) leaves the existing no-op global
// tracer in place and returns a no-op shutdown.
func InstallTracerProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build span exporter: %w", err)
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", "trackhive"),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	Tracer = tp.Tracer("github.com/trackhive/trackhive")

	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())

	case ExporterOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown trace exporter kind %q", cfg.Exporter)
	}
}
