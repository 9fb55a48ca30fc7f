// Package otel builds the OpenTelemetry tracer provider that pool task
// spans are exported through.
package otel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted in Config.Exporter
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
)

// DefaultZipkinEndpoint is the collector URL used when Endpoint is empty
const DefaultZipkinEndpoint = "http://localhost:9411/api/v2/spans"

// Config describes the tracer provider
type Config struct {
	ServiceName    string  `yaml:"service_name" json:"service_name"`
	ServiceVersion string  `yaml:"service_version" json:"service_version"`
	Environment    string  `yaml:"environment" json:"environment"`
	Exporter       string  `yaml:"exporter" json:"exporter"`
	Endpoint       string  `yaml:"endpoint" json:"endpoint"`
	SampleRate     float64 `yaml:"sample_rate" json:"sample_rate"` // 0 is treated as 1

	// Writer receives stdout exporter output; nil means os.Stdout
	Writer io.Writer `yaml:"-" json:"-"`
}

var (
	mu          sync.Mutex
	initialized bool
)

// NewTracerProvider creates a tracer provider for cfg without touching the
// global provider. The caller owns Shutdown.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName(cfg)),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

func newExporter(_ context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterZipkin:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultZipkinEndpoint
		}
		exp, err := zipkin.New(endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create zipkin exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (want none, stdout or zipkin)", cfg.Exporter)
	}
}

// Initialize installs a tracer provider for cfg as the global provider,
// together with W3C trace-context propagation. The returned function
// flushes and shuts it down.
func Initialize(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	tp, err := NewTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	initialized = true
	mu.Unlock()

	return func(ctx context.Context) error {
		mu.Lock()
		initialized = false
		mu.Unlock()
		return tp.Shutdown(ctx)
	}, nil
}

// IsInitialized reports whether Initialize installed a provider that has
// not been shut down
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized
}

func serviceName(cfg Config) string {
	if cfg.ServiceName == "" {
		return "threadpool"
	}
	return cfg.ServiceName
}
