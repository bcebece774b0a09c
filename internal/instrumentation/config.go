package instrumentation

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the OpenTelemetry settings. Fields are populated from the
// environment by LoadConfig; tags document the variable names.
type Config struct {
	ServiceName       string `env:"OTEL_SERVICE_NAME" envDefault:"calendarmcp"`
	ServiceVersion    string `env:"-"`
	ServiceInstanceID string `env:"OTEL_SERVICE_INSTANCE_ID"`

	// K8sNamespace and K8sPodName are attached as resource attributes when set.
	K8sNamespace string `env:"K8S_NAMESPACE"`
	K8sPodName   string `env:"K8S_POD_NAME"`

	// Enabled turns metrics and tracing on. INSTRUMENTATION_ENABLED=false
	// swaps every recorder for a no-op.
	Enabled bool `env:"INSTRUMENTATION_ENABLED" envDefault:"true"`

	// MetricsExporter is one of prometheus, otlp or stdout.
	MetricsExporter string `env:"METRICS_EXPORTER" envDefault:"prometheus"`
	// TracingExporter is one of otlp, stdout or none.
	TracingExporter string `env:"TRACING_EXPORTER" envDefault:"none"`

	// OTLPEndpoint is host:port without a scheme.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS towards the collector. Local use only.
	OTLPInsecure bool `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`

	TraceSamplingRate  float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"0.1"`
	PrometheusEndpoint string  `env:"PROMETHEUS_ENDPOINT" envDefault:"/metrics"`

	// DetailedLabels adds the user_domain label to tool metrics.
	// Keep it off unless the set of user domains is small.
	DetailedLabels bool `env:"METRICS_DETAILED_LABELS" envDefault:"false"`

	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig holds configuration for audit logging.
type AuditLoggingConfig struct {
	Enabled bool `env:"AUDIT_LOGGING_ENABLED" envDefault:"true"`

	// IncludePII logs the full user email instead of the anonymized hash.
	// Route such logs to storage with access controls.
	IncludePII bool `env:"AUDIT_LOGGING_INCLUDE_PII" envDefault:"false"`
}

// LoadConfig reads the instrumentation settings from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse instrumentation environment: %w", err)
	}
	cfg.ServiceVersion = "unknown"
	return cfg, nil
}

// DefaultConfig is LoadConfig with parse errors replaced by the built-in defaults.
func DefaultConfig() Config {
	cfg, err := LoadConfig()
	if err != nil {
		return Config{
			ServiceName:        "calendarmcp",
			ServiceVersion:     "unknown",
			Enabled:            true,
			MetricsExporter:    ExporterPrometheus,
			TracingExporter:    ExporterNone,
			TraceSamplingRate:  0.1,
			PrometheusEndpoint: "/metrics",
			AuditLogging:       AuditLoggingConfig{Enabled: true},
		}
	}
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}

	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" && (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) {
		return fmt.Errorf("OTLP endpoint is required when using an OTLP exporter")
	}
	return nil
}

// Constants for metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	// Outcome labels for OAuth callbacks and refreshes.
	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
	OAuthResultExpired = "expired"
	OAuthResultStale   = "stale"

	ServiceGmail    = "gmail"
	ServiceCalendar = "calendar"

	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"

	DefaultMetricInterval = 10 * time.Second
)
