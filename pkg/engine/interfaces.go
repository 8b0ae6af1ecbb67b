package engine

import (
	"context"
)

// Handler probes and reconciles resources of one kind.
type Handler interface {
	// Kind returns the resource kind this handler manages.
	Kind() Kind

	// Validate checks kind-specific attributes of a desired resource.
	Validate(res Resource) error

	// Probe reads the current state of a resource. A missing resource is not
	// an error; a probe that cannot run returns a probe error.
	Probe(ctx context.Context, res Resource) (Observed, error)

	// Apply performs the operation. It returns false when the resource turned
	// out to be converged already and nothing was changed.
	Apply(ctx context.Context, op *Operation) (bool, error)
}

// HandlerRegistry resolves handlers by kind.
type HandlerRegistry interface {
	// Handler returns the handler for a kind.
	Handler(kind Kind) (Handler, error)
}

// Reader captures the observed state of desired resources.
type Reader interface {
	// Read probes every resource and returns an immutable snapshot.
	Read(ctx context.Context, desired []Resource) (*Snapshot, error)
}

// Planner turns desired state and a snapshot into a plan.
type Planner interface {
	// Validate checks the desired resource set.
	Validate(desired []Resource) error

	// Plan computes the ordered operations.
	Plan(ctx context.Context, desired []Resource, snapshot *Snapshot) (*Plan, error)
}

// Executor applies plans.
type Executor interface {
	// Apply runs the plan and returns one result per operation.
	Apply(ctx context.Context, plan *Plan) ([]OperationResult, error)
}

// PlanGate decides whether a plan may be applied.
type PlanGate interface {
	// Check returns a validation error when the plan violates a rule.
	Check(ctx context.Context, plan *Plan) error
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	// RecordRun stores a report.
	RecordRun(ctx context.Context, report *Report) error
}

// Metrics receives engine measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// RecordProbe records a probe of a resource kind.
	RecordProbe(kind string, seconds float64, err error)

	// RecordOperation records a finished operation.
	RecordOperation(kind, action, status string, seconds float64, attempts int)

	// RecordRun records a finished run.
	RecordRun(status string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) RecordProbe(string, float64, error)                {}
func (noopMetrics) RecordOperation(string, string, string, float64, int) {}
func (noopMetrics) RecordRun(string, float64)                          {}
