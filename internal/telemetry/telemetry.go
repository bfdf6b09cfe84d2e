// Package telemetry installs the OpenTelemetry meter and tracer providers for
// the hedgebench binary.
//
// Metrics are exported through a Prometheus registry owned by the Provider so
// the serve command can expose them on /metrics. Traces go to stdout, to an
// OTLP collector, or nowhere.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrUnknownExporter is returned for an unsupported trace exporter name.
var ErrUnknownExporter = errors.New("telemetry: unknown exporter")

// Config selects exporters and identifies the process.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string

	// OTLPEndpoint is the collector's gRPC address for the otlp exporter.
	OTLPEndpoint string
	OTLPInsecure bool

	// TraceWriter receives stdout spans. Default: os.Stderr.
	TraceWriter io.Writer

	// SetGlobal installs the providers as the otel globals.
	SetGlobal bool
}

// Provider holds the installed providers and the registry backing /metrics.
type Provider struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Registry       *prometheus.Registry

	shutdown []func(context.Context) error
}

// Setup builds the providers. Call Shutdown before exit to flush spans.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	p := &Provider{
		MeterProvider:  mp,
		TracerProvider: noop.NewTracerProvider(),
		Registry:       registry,
		shutdown:       []func(context.Context) error{mp.Shutdown},
	}

	spanExporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	if spanExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
		)
		p.TracerProvider = tp
		p.shutdown = append(p.shutdown, tp.Shutdown)
	}

	if cfg.SetGlobal {
		otel.SetMeterProvider(p.MeterProvider)
		otel.SetTracerProvider(p.TracerProvider)
	}
	return p, nil
}

func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case "", "none":
		return nil, nil
	case "stdout":
		w := cfg.TraceWriter
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
}

// Shutdown flushes and stops every provider. All providers are stopped even
// if one fails.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
