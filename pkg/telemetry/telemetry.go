// Package telemetry installs the global OpenTelemetry tracer provider used by
// the registry and pipeline spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

var ErrUnknownExporter = errors.New("telemetry: unknown trace exporter")

// Config is the [telemetry] manifest section.
type Config struct {
	ServiceName   string  `toml:"service_name"`
	TraceExporter string  `toml:"trace_exporter"`
	OTLPEndpoint  string  `toml:"otlp_endpoint"`
	OTLPInsecure  bool    `toml:"otlp_insecure"`
	SampleRatio   float64 `toml:"sample_ratio"`
}

// Shutdown flushes and stops whatever Init installed.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a tracer provider for cfg. With the none exporter the global
// no-op provider is left in place.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	return initWith(ctx, cfg, nil)
}

// initWith lets tests point the stdout exporter at a buffer.
func initWith(ctx context.Context, cfg Config, out io.Writer) (Shutdown, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.TraceExporter))
	if kind == "" || kind == ExporterNone {
		return noop, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch kind {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		opts := []stdouttrace.Option{}
		if out != nil {
			opts = append(opts, stdouttrace.WithWriter(out))
		}
		exporter, err = stdouttrace.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "steeze-functions"
	}
	res := resource.NewWithAttributes("", attribute.String("service.name", name))

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
