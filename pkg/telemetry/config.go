package telemetry

import (
	"fmt"
)

// Config bundles the logging, tracing and metrics configuration.
type Config struct {
	// ServiceName is reported as the trace resource's service.name.
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "console" or "json".
	Format string `mapstructure:"format"`

	// Output is "stderr", "stdout" or a file path.
	Output string `mapstructure:"output"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is one of none, stdout, otlp.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `mapstructure:"endpoint"`

	// SamplingRate is the fraction of root spans sampled (0.0 to 1.0).
	SamplingRate float64 `mapstructure:"sampling_rate"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure"`
}

// MetricsConfig configures the metrics textfile.
type MetricsConfig struct {
	// Textfile, when set, receives the run's metrics in Prometheus text
	// format, suitable for node_exporter's textfile collector.
	Textfile string `mapstructure:"textfile"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// DefaultConfig returns a configuration with console logging to stderr,
// tracing disabled and no metrics textfile.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "provisio",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsConfig{
			Namespace: "provisio",
		},
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// Validate checks level and format names.
func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	return nil
}

// Validate checks the exporter and sampling rate.
func (c TracingConfig) Validate() error {
	switch c.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Exporter)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0 and 1, got %v", c.SamplingRate)
	}
	return nil
}
