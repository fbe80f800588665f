// Package observability sets up OpenTelemetry tracing and metrics and holds
// the span and metric wrappers for model calls and tool calls.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "mcpbridge"
	serviceVersion = "0.1.0"
)

// Config holds OpenTelemetry configuration
type Config struct {
	Enabled     bool
	ServiceName string

	TracesEnabled  bool
	TracesExporter string  // "stdout", "otlp", "none"
	OTLPEndpoint   string  // host:port of an OTLP/gRPC collector
	SampleRatio    float64 // 1 samples everything

	MetricsEnabled  bool
	MetricsExporter string // "prometheus", "none"
}

// DefaultConfig reads the configuration from OTEL_* variables.
// Telemetry is off unless OTEL_ENABLED is set, stdout traces would
// interleave with the REPL.
func DefaultConfig() Config {
	return Config{
		Enabled:         getEnvBool("OTEL_ENABLED", false),
		ServiceName:     getEnv("OTEL_SERVICE_NAME", serviceName),
		TracesEnabled:   getEnvBool("OTEL_TRACES_ENABLED", true),
		TracesExporter:  getEnv("OTEL_TRACES_EXPORTER", "stdout"),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		SampleRatio:     getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		MetricsEnabled:  getEnvBool("OTEL_METRICS_ENABLED", true),
		MetricsExporter: getEnv("OTEL_METRICS_EXPORTER", "prometheus"),
	}
}

var (
	registryMu sync.Mutex
	registry   = newRegistry()
)

func newRegistry() *promclient.Registry {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Setup installs the global tracer and meter providers. The returned
// function flushes and shuts both down.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		slog.Debug("OpenTelemetry disabled")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	var shutdowns []func(context.Context) error
	if cfg.TracesEnabled {
		fn, err := setupTracing(ctx, cfg, res)
		if err != nil {
			return nil, errors.Wrap(err, "failed to setup tracing")
		}
		shutdowns = append(shutdowns, fn)
	}
	if cfg.MetricsEnabled {
		fn, err := setupMetrics(cfg, res)
		if err != nil {
			return nil, errors.Wrap(err, "failed to setup metrics")
		}
		shutdowns = append(shutdowns, fn)
	}

	return func(ctx context.Context) error {
		var combined error
		for _, fn := range shutdowns {
			combined = errors.CombineErrors(combined, fn(ctx))
		}
		return combined
	}, nil
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TracesExporter {
	case "stdout":
		// stderr keeps stdout free for a stdio tool server
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	case "otlp":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		))
	case "none":
		return func(context.Context) error { return nil }, nil
	default:
		return nil, errors.Newf("unknown traces exporter: %s", cfg.TracesExporter)
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func setupMetrics(cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	switch cfg.MetricsExporter {
	case "prometheus":
	case "none":
		return func(context.Context) error { return nil }, nil
	default:
		return nil, errors.Newf("unknown metrics exporter: %s", cfg.MetricsExporter)
	}

	// a fresh registry so a second Setup does not register twice
	reg := newRegistry()
	reader, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	registryMu.Lock()
	registry = reg
	registryMu.Unlock()

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns a meter for the given name
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// MetricsHandler serves the registry the Prometheus reader exports to.
// Before Setup it serves Go runtime and process metrics only.
func MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registryMu.Lock()
		reg := registry
		registryMu.Unlock()
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// LLMAttributes are the attributes shared by every model call span
func LLMAttributes(provider, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	}
}
