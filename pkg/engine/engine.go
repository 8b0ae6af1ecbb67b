package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Engine wires the State Reader, Planner and Executor into the plan and
// apply workflows.
type Engine struct {
	registry HandlerRegistry
	reader   Reader
	planner  Planner
	executor Executor
	opts     options
}

// New creates an engine. The planner may be nil to use the defaults.
func New(registry HandlerRegistry, planner Planner, opts ...Option) *Engine {
	if planner == nil {
		planner = NewPlanner()
	}
	return &Engine{
		registry: registry,
		reader:   NewStateReader(registry, opts...),
		planner:  planner,
		executor: NewExecutor(registry, opts...),
		opts:     buildOptions(opts),
	}
}

// Validate checks the desired resources structurally and per kind.
// All kind-level violations are reported together.
func (e *Engine) Validate(desired []Resource) error {
	if err := e.planner.Validate(desired); err != nil {
		return err
	}

	var result *multierror.Error
	for _, res := range desired {
		handler, err := e.registry.Handler(res.Kind)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := handler.Validate(res); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return NewValidationError("invalid resources", err)
	}
	return nil
}

// Plan validates the desired state, reads the host and computes the plan.
// When a plan gate is configured and denies the plan, the plan is returned
// together with the validation error so callers can display it.
func (e *Engine) Plan(ctx context.Context, desired []Resource) (*Plan, error) {
	ctx, span := e.opts.tracer.Start(ctx, "engine.plan")
	defer span.End()

	if err := e.Validate(desired); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	snapshot, err := e.reader.Read(ctx, desired)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	plan, err := e.planner.Plan(ctx, desired, snapshot)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.Int("plan.operations", len(plan.Operations)),
	)

	e.opts.logger.Info().
		Str("plan_id", plan.ID).
		Int("create", plan.Summary.ToCreate).
		Int("update", plan.Summary.ToUpdate).
		Int("restart", plan.Summary.ToRestart).
		Int("converged", plan.Summary.NoChange).
		Msg("Plan computed")

	if e.opts.gate != nil {
		if err := e.opts.gate.Check(ctx, plan); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return plan, err
		}
	}
	return plan, nil
}

// Apply executes a plan and returns its report. The run is journaled when a
// recorder is configured; journal failures are logged, not returned.
func (e *Engine) Apply(ctx context.Context, plan *Plan) (*Report, error) {
	runID := uuid.New().String()
	ctx, span := e.opts.tracer.Start(ctx, "engine.apply")
	span.SetAttributes(attribute.String("run.id", runID))
	defer span.End()

	logger := e.opts.logger.With().Str("run_id", runID).Logger()
	started := time.Now().UTC()
	logger.Info().Str("plan_id", plan.ID).Int("operations", len(plan.Operations)).Msg("Run started")

	results, err := e.executor.Apply(ctx, plan)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := Summarize(plan, results)
	// Cancelled while the last operations were in flight: nothing was
	// skipped, but the run was still interrupted.
	if ctx.Err() != nil {
		report.Status = RunStatusCancelled
	}
	report.RunID = runID
	report.StartedAt = started
	report.FinishedAt = time.Now().UTC()

	e.opts.metrics.RecordRun(string(report.Status), report.FinishedAt.Sub(started).Seconds())
	span.SetAttributes(attribute.String("run.status", string(report.Status)))
	if report.Status != RunStatusSucceeded {
		span.SetStatus(codes.Error, string(report.Status))
	}

	logger.Info().
		Str("status", string(report.Status)).
		Int("created", report.Counts.Created).
		Int("updated", report.Counts.Updated).
		Int("restarted", report.Counts.Restarted).
		Int("failed", report.Counts.Failed).
		Int("skipped", report.Counts.SkippedDependency+report.Counts.SkippedCancelled).
		Msg("Run finished")

	if e.opts.recorder != nil {
		if err := e.opts.recorder.RecordRun(context.WithoutCancel(ctx), report); err != nil {
			logger.Warn().Err(err).Msg("Failed to journal run")
		}
	}
	return report, nil
}
