package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/vanmon/config"
)

// Providers holds the initialized OpenTelemetry providers
type Providers struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
	logger         *zap.Logger
}

// InitProviders initializes the tracer and meter providers and installs them
// globally. It returns nil providers when OpenTelemetry is disabled.
func InitProviders(ctx context.Context, cfg *config.OpenTelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if !cfg.Enabled {
		logger.Info("OpenTelemetry is disabled")
		return nil, nil
	}

	logger.Info("initializing OpenTelemetry providers", zap.String("endpoint", cfg.ExporterEndpoint()))

	// Create resource with service information
	res := newResource(cfg)
	providers := &Providers{logger: logger}

	// Tracer provider, plus the global propagator for context propagation
	if cfg.TracesEnabled {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracer provider: %w", err)
		}
		providers.TracerProvider = tp
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		logger.Info("tracer provider initialized", zap.Float64("sampling_ratio", cfg.SamplingRatio))
	}

	if cfg.MetricsEnabled {
		mp, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			// Clean up tracer provider if meter provider fails
			if providers.TracerProvider != nil {
				_ = providers.TracerProvider.Shutdown(ctx)
			}
			return nil, fmt.Errorf("failed to create meter provider: %w", err)
		}
		providers.MeterProvider = mp
		otel.SetMeterProvider(mp)
		logger.Info("meter provider initialized", zap.Int("interval_ms", cfg.MetricsIntervalMs))

		// Start runtime metrics collection if enabled
		if cfg.EnableRuntimeMetrics {
			if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
				logger.Warn("failed to start runtime metrics collection", zap.Error(err))
			}
		}
	}

	return providers, nil
}

// Shutdown flushes and stops the providers. Safe on nil.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	p.logger.Info("shutting down OpenTelemetry providers")

	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newResource creates an OpenTelemetry resource with service information
func newResource(cfg *config.OpenTelemetryConfig) *resource.Resource {
	attributes := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	}
	// Add custom resource attributes from config
	for key, value := range cfg.ResourceAttributes {
		attributes = append(attributes, attribute.String(key, value))
	}
	// Add hostname if available
	if hostname, err := os.Hostname(); err == nil {
		attributes = append(attributes, semconv.HostNameKey.String(hostname))
	}

	return resource.NewWithAttributes(semconv.SchemaURL, attributes...)
}

// insecureEndpoint reports whether the exporter should use plain HTTP.
func insecureEndpoint(cfg *config.OpenTelemetryConfig) bool {
	return cfg.Insecure || strings.HasPrefix(cfg.ExporterEndpoint(), "localhost:")
}

// newTracerProvider creates a tracer provider with an OTLP HTTP exporter
func newTracerProvider(ctx context.Context, cfg *config.OpenTelemetryConfig, res *resource.Resource) (*trace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.ExporterEndpoint())}
	if insecureEndpoint(cfg) {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if headers := cfg.ExporterHeaders(); len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}

	// Create OTLP trace exporter
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	// Batch span processor with parent based sampling
	return trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRatio))),
		trace.WithResource(res),
		trace.WithBatcher(exporter),
	), nil
}

// newMeterProvider creates a meter provider with an OTLP HTTP exporter
func newMeterProvider(ctx context.Context, cfg *config.OpenTelemetryConfig, res *resource.Resource) (*metric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.ExporterEndpoint())}
	if insecureEndpoint(cfg) {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if headers := cfg.ExporterHeaders(); len(headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(headers))
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	// Configure periodic reader
	reader := metric.NewPeriodicReader(
		exporter,
		metric.WithInterval(time.Duration(cfg.MetricsIntervalMs)*time.Millisecond),
	)

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	), nil
}
