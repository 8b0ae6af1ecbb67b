package engine

import (
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/provisio/provisio/pkg/engine"

type options struct {
	logger           zerolog.Logger
	metrics          Metrics
	tracer           trace.Tracer
	workers          int
	probeConcurrency int
	gate             PlanGate
	recorder         RunRecorder
}

// Option configures engine components.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer used for probe, plan and operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithWorkers sets the executor pool size.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithProbeConcurrency bounds concurrent probes.
func WithProbeConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.probeConcurrency = n
		}
	}
}

// WithPlanGate sets the policy gate consulted before applying.
func WithPlanGate(g PlanGate) Option {
	return func(o *options) {
		o.gate = g
	}
}

// WithRunRecorder sets where finished runs are journaled.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:           log.Logger,
		metrics:          noopMetrics{},
		tracer:           otel.Tracer(instrumentationName),
		workers:          4,
		probeConcurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
