package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// OpenTelemetryConfig contains OpenTelemetry configuration. Endpoints and
// headers fall back to the standard OTEL_EXPORTER_OTLP_* variables.
type OpenTelemetryConfig struct {
	Enabled            bool              `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	ServiceName        string            `yaml:"serviceName" env:"OTEL_SERVICE_NAME" env-default:"vanmon"`
	ServiceVersion     string            `yaml:"serviceVersion" env:"OTEL_SERVICE_VERSION" env-default:"1.0.0"`
	Environment        string            `yaml:"environment" env:"OTEL_ENVIRONMENT" env-default:"production"`
	Endpoint           string            `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"false"`
	ResourceAttributes map[string]string `yaml:"resourceAttributes"`

	TracesEnabled        bool    `yaml:"tracesEnabled" env:"OTEL_TRACES_ENABLED" env-default:"true"`
	SamplingRatio        float64 `yaml:"samplingRatio" env:"OTEL_TRACES_SAMPLING_RATIO" env-default:"1.0"`
	MetricsEnabled       bool    `yaml:"metricsEnabled" env:"OTEL_METRICS_ENABLED" env-default:"true"`
	MetricsIntervalMs    int     `yaml:"metricsIntervalMillis" env:"OTEL_METRICS_INTERVAL" env-default:"30000"`
	EnableRuntimeMetrics bool    `yaml:"enableRuntimeMetrics" env:"OTEL_ENABLE_RUNTIME_METRICS" env-default:"true"`
}

// ExporterEndpoint returns the OTLP endpoint, preferring the configured value.
func (c *OpenTelemetryConfig) ExporterEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// ExporterHeaders returns the OTLP headers, falling back to
// OTEL_EXPORTER_OTLP_HEADERS in key1=value1,key2=value2 form.
func (c *OpenTelemetryConfig) ExporterHeaders() map[string]string {
	if len(c.Headers) > 0 {
		return c.Headers
	}
	return ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
}

// ParseHeaders parses a comma separated list of key=value pairs.
func ParseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

// ValidateOpenTelemetry validates OpenTelemetry configuration if enabled
func ValidateOpenTelemetry(cfg *OpenTelemetryConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.ServiceName == "" {
		return fmt.Errorf("opentelemetry service name is required when OpenTelemetry is enabled")
	}
	if (cfg.TracesEnabled || cfg.MetricsEnabled) && cfg.ExporterEndpoint() == "" {
		return fmt.Errorf("opentelemetry endpoint is required when traces or metrics are enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("opentelemetry traces sampling ratio must be between 0 and 1, got: %f", cfg.SamplingRatio)
	}
	if cfg.MetricsEnabled && cfg.MetricsIntervalMs < 1000 {
		return fmt.Errorf("opentelemetry metrics interval must be at least 1000ms (1 second)")
	}

	return nil
}

// ProfilingConfig contains Pyroscope profiling configuration
type ProfilingConfig struct {
	Enabled           bool              `yaml:"enabled" env:"PYROSCOPE_ENABLED" env-default:"false"`
	ApplicationName   string            `yaml:"applicationName" env:"PYROSCOPE_APPLICATION_NAME" env-default:"vanmon"`
	ServerAddress     string            `yaml:"serverAddress" env:"PYROSCOPE_SERVER_ADDRESS"`
	BasicAuthUser     string            `yaml:"basicAuthUser" env:"PYROSCOPE_BASIC_AUTH_USER"`
	BasicAuthPassword string            `yaml:"basicAuthPassword" env:"PYROSCOPE_BASIC_AUTH_PASSWORD"`
	TenantID          string            `yaml:"tenantID" env:"PYROSCOPE_TENANT_ID"`
	Tags              map[string]string `yaml:"tags"`
	ProfileTypes      []string          `yaml:"profileTypes" env:"PYROSCOPE_PROFILE_TYPES" env-separator:"," env-default:"cpu,alloc_objects,alloc_space,inuse_objects,inuse_space"`
	MutexProfileRate  int               `yaml:"mutexProfileRate" env:"PYROSCOPE_MUTEX_PROFILE_RATE" env-default:"5"`
	BlockProfileRate  int               `yaml:"blockProfileRate" env:"PYROSCOPE_BLOCK_PROFILE_RATE" env-default:"5"`
	DisableGCRuns     bool              `yaml:"disableGCRuns" env:"PYROSCOPE_DISABLE_GC_RUNS" env-default:"false"`
}

// KnownProfileTypes lists the profile names accepted in profileTypes.
var KnownProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines", "mutex", "block"}

// ValidateProfiling validates profiling configuration if enabled
func ValidateProfiling(cfg *ProfilingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.ApplicationName == "" {
		return fmt.Errorf("profiling application name is required when profiling is enabled")
	}
	if cfg.ServerAddress == "" {
		return fmt.Errorf("profiling server address is required when profiling is enabled")
	}
	if len(cfg.ProfileTypes) == 0 {
		return fmt.Errorf("at least one profile type must be enabled")
	}

	for i, name := range cfg.ProfileTypes {
		name = strings.ToLower(strings.TrimSpace(name))
		cfg.ProfileTypes[i] = name
		if !slices.Contains(KnownProfileTypes, name) {
			return fmt.Errorf("unknown profile type %q", name)
		}
	}

	if cfg.MutexProfileRate < 0 || cfg.BlockProfileRate < 0 {
		return fmt.Errorf("profiling mutex and block rates must be >= 0")
	}

	return nil
}
