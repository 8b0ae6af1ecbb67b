package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/telemetry"
)

// EnvPrefix prefixes environment variables that override settings,
// e.g. PROVISIO_WORKERS or PROVISIO_LOGGING_LEVEL.
const EnvPrefix = "PROVISIO"

// Settings tune the engine itself, as opposed to the manifest which
// describes the host.
type Settings struct {
	// Workers is the executor pool size.
	Workers int `mapstructure:"workers" validate:"min=1,max=64"`

	// ProbeConcurrency bounds concurrent state probes.
	ProbeConcurrency int `mapstructure:"probe_concurrency" validate:"min=1,max=64"`

	// Retry is the policy for transient-prone operations.
	Retry RetrySettings `mapstructure:"retry"`

	// HistoryPath is the SQLite run journal location.
	HistoryPath string `mapstructure:"history_path"`

	// NoHistory disables the run journal.
	NoHistory bool `mapstructure:"no_history"`

	// PolicyDir holds extra .rego policies.
	PolicyDir string `mapstructure:"policy_dir"`

	// SSH configures the remote runner used when Host is set.
	SSH SSHSettings `mapstructure:"ssh"`

	// Logging configures the logger.
	Logging telemetry.LoggingConfig `mapstructure:"logging"`

	// Tracing configures the tracer.
	Tracing telemetry.TracingConfig `mapstructure:"tracing"`

	// Metrics configures the metrics textfile.
	Metrics telemetry.MetricsConfig `mapstructure:"metrics"`
}

// RetrySettings mirror engine.RetryPolicy.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"min=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

// Policy converts the settings into an engine retry policy.
func (r RetrySettings) Policy() engine.RetryPolicy {
	return engine.RetryPolicy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// SSHSettings configure the remote runner.
type SSHSettings struct {
	// Host is "user@host[:port]"; empty means the local host.
	Host string `mapstructure:"host"`

	// KeyFile is the private key used for authentication.
	KeyFile string `mapstructure:"key_file"`

	// KnownHosts is the known_hosts file; empty means ~/.ssh/known_hosts.
	KnownHosts string `mapstructure:"known_hosts"`

	// Timeout bounds connection establishment.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`

	// Sudo prefixes remote commands with "sudo -n".
	Sudo bool `mapstructure:"sudo"`
}

// SetDefaults registers default values on v. Every settings key must have a
// default so environment variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", 4)
	v.SetDefault("probe_concurrency", 8)
	v.SetDefault("retry.max_attempts", engine.DefaultRetryPolicy.MaxAttempts)
	v.SetDefault("retry.base_delay", engine.DefaultRetryPolicy.BaseDelay)
	v.SetDefault("retry.max_delay", engine.DefaultRetryPolicy.MaxDelay)
	v.SetDefault("history_path", ".provisio/history.db")
	v.SetDefault("no_history", false)
	v.SetDefault("policy_dir", "")
	v.SetDefault("ssh.host", "")
	v.SetDefault("ssh.key_file", "")
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.timeout", 30*time.Second)
	v.SetDefault("ssh.sudo", false)

	defaults := telemetry.DefaultConfig()
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output", defaults.Logging.Output)
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
	v.SetDefault("tracing.insecure", defaults.Tracing.Insecure)
	v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)
	v.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
}

// LoadSettings reads settings from defaults, an optional config file
// (provisio.yaml in the working directory unless configFile is set) and
// PROVISIO_* environment variables, in increasing precedence. Flags bound
// to v take precedence over all of them.
func LoadSettings(v *viper.Viper, configFile string) (*Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("provisio")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, engine.NewValidationError("failed to read settings", err)
		}
	}

	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&s, hook); err != nil {
		return nil, engine.NewValidationError("failed to decode settings", err)
	}

	if err := validateStruct(s, "invalid settings"); err != nil {
		return nil, err
	}
	if err := s.Tracing.Validate(); err != nil {
		return nil, engine.NewValidationError("invalid settings", fmt.Errorf("tracing: %w", err))
	}
	return &s, nil
}
