package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/provisio/provisio/pkg/engine"
)

// Metrics collects probe, operation and run metrics for one process and
// implements engine.Metrics.
type Metrics struct {
	config MetricsConfig

	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationAttempts *prometheus.HistogramVec

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastRunStatus *prometheus.GaugeVec
	lastRunTime   prometheus.Gauge

	registry *prometheus.Registry
}

var _ engine.Metrics = (*Metrics)(nil)

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of resource probes",
			},
			[]string{"kind", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of resource probes in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of finished operations",
			},
			[]string{"kind", "action", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations including retries in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind", "action"},
		),
		operationAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_attempts",
				Help:      "Attempts made per operation",
				Buckets:   []float64{1, 2, 3, 5, 10},
			},
			[]string{"kind"},
		),

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of apply runs",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of apply runs in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		lastRunStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_status",
				Help:      "1 for the status of the most recent run, 0 otherwise",
			},
			[]string{"status"},
		),
		lastRunTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the most recent run finished",
			},
		),
	}

	collectorsToRegister := []prometheus.Collector{
		m.probes,
		m.probeDuration,
		m.operations,
		m.operationDuration,
		m.operationAttempts,
		m.runs,
		m.runDuration,
		m.lastRunStatus,
		m.lastRunTime,
		collectors.NewGoCollector(),
	}
	for _, c := range collectorsToRegister {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// RecordProbe records a probe. The result label is "ok" or the error class.
func (m *Metrics) RecordProbe(kind string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = string(engine.ClassOf(err))
	}
	m.probes.WithLabelValues(kind, result).Inc()
	m.probeDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordOperation records a finished or skipped operation.
func (m *Metrics) RecordOperation(kind, action, status string, seconds float64, attempts int) {
	m.operations.WithLabelValues(kind, action, status).Inc()
	if attempts == 0 {
		return
	}
	m.operationDuration.WithLabelValues(kind, action).Observe(seconds)
	m.operationAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(status string, seconds float64) {
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(seconds)

	for _, s := range []engine.RunStatus{engine.RunStatusSucceeded, engine.RunStatusFailed, engine.RunStatusCancelled} {
		value := 0.0
		if string(s) == status {
			value = 1
		}
		m.lastRunStatus.WithLabelValues(string(s)).Set(value)
	}
	m.lastRunTime.Set(float64(time.Now().Unix()))
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Flush writes the metrics to the configured textfile. It is a no-op when
// no textfile is configured.
func (m *Metrics) Flush() error {
	if m.config.Textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.Textfile), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	return prometheus.WriteToTextfile(m.config.Textfile, m.registry)
}
