package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultRetryPolicy is applied to operations on transient-prone kinds.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    time.Minute,
}

// ResourceDiff is the comparison result for one desired resource.
type ResourceDiff struct {
	// Resource is the desired resource.
	Resource Resource

	// Action is the action needed to converge it; noop when converged.
	Action Action

	// Reason explains the decision.
	Reason string

	// Changes lists the drifted fields.
	Changes []Change
}

// DefaultPlanner implements the Planner interface.
// It compares desired resources against a snapshot by signal equality,
// propagates notify refreshes and orders the resulting operations.
type DefaultPlanner struct {
	// retry is the policy for transient-prone kinds
	retry RetryPolicy

	// now returns the plan creation time
	now func() time.Time
}

// PlannerOption configures a DefaultPlanner.
type PlannerOption func(*DefaultPlanner)

// WithRetryPolicy sets the retry policy for transient-prone operations.
func WithRetryPolicy(policy RetryPolicy) PlannerOption {
	return func(p *DefaultPlanner) {
		if policy.MaxAttempts > 0 {
			p.retry = policy
		}
	}
}

// WithClock overrides the plan timestamp source.
func WithClock(now func() time.Time) PlannerOption {
	return func(p *DefaultPlanner) {
		p.now = now
	}
}

// NewPlanner creates a new default planner implementation.
func NewPlanner(opts ...PlannerOption) *DefaultPlanner {
	p := &DefaultPlanner{
		retry: DefaultRetryPolicy,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate checks that the desired resource set is well formed: known kinds,
// unique identifiers, valid edges to existing resources and no cycles.
func (p *DefaultPlanner) Validate(desired []Resource) error {
	_, err := p.resourceGraph(desired)
	return err
}

func (p *DefaultPlanner) resourceGraph(desired []Resource) (*DAGBuilder, error) {
	builder := NewDAGBuilder()
	for _, res := range desired {
		if res.Name == "" {
			return nil, NewValidationError(fmt.Sprintf("%s resource has empty name", res.Kind), nil)
		}
		if err := res.Kind.Validate(); err != nil {
			return nil, NewValidationError(err.Error(), nil).
				WithCode(ErrCodeUnknownKind).WithResource(res.ID())
		}
		deps := make([]string, 0, len(res.Dependencies))
		for _, dep := range res.Dependencies {
			if err := dep.Type.Validate(); err != nil {
				return nil, NewValidationError(err.Error(), nil).WithResource(res.ID())
			}
			deps = append(deps, dep.Target)
		}
		if err := builder.Add(res.ID(), res.Kind, string(ActionNoop), deps...); err != nil {
			return nil, err
		}
	}
	if _, err := builder.Build(); err != nil {
		return nil, err
	}
	return builder, nil
}

// ComputeDiff compares each desired resource with its observed state.
// It never looks at content, only at the comparison signal.
func (p *DefaultPlanner) ComputeDiff(desired []Resource, snapshot *Snapshot) []ResourceDiff {
	diffs := make([]ResourceDiff, 0, len(desired))
	for _, res := range desired {
		diffs = append(diffs, diffResource(res, snapshot.Lookup(res.ID())))
	}
	return diffs
}

func diffResource(res Resource, observed Observed) ResourceDiff {
	diff := ResourceDiff{Resource: res}
	switch {
	case !observed.Present:
		diff.Action = ActionCreate
		diff.Reason = "absent"
		diff.Changes = []Change{{Field: "signal", After: res.Signal}}
	case observed.Signal != res.Signal:
		diff.Action = ActionUpdate
		diff.Reason = "signal drifted"
		diff.Changes = []Change{{Field: "signal", Before: observed.Signal, After: res.Signal}}
	default:
		diff.Action = ActionNoop
		diff.Reason = "converged"
	}
	return diff
}

// Plan computes the dependency-ordered operations that converge the host.
// A converged host yields a plan with zero operations.
func (p *DefaultPlanner) Plan(ctx context.Context, desired []Resource, snapshot *Snapshot) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewCancelledError("planning cancelled", err)
	}

	resources, err := p.resourceGraph(desired)
	if err != nil {
		return nil, err
	}

	diffs := p.ComputeDiff(desired, snapshot)
	byID := make(map[string]*ResourceDiff, len(diffs))
	for i := range diffs {
		byID[diffs[i].Resource.ID()] = &diffs[i]
	}
	propagateNotify(diffs, byID)

	plan := &Plan{
		ID:         uuid.New().String(),
		CreatedAt:  p.now().UTC(),
		Operations: make([]*Operation, 0),
		Converged:  make([]string, 0),
		Summary:    PlanSummary{Total: len(desired)},
	}

	ancestors := make(map[string][]string)
	builder := NewDAGBuilder()
	ops := make(map[string]*Operation)
	for _, id := range resources.Order() {
		diff := byID[id]
		if diff.Action == ActionNoop {
			plan.Converged = append(plan.Converged, id)
			plan.Summary.NoChange++
			continue
		}

		op := &Operation{
			ID:           id,
			Resource:     diff.Resource,
			Action:       diff.Action,
			Dependencies: plannedAncestors(id, byID, ancestors),
			Reason:       diff.Reason,
			Changes:      diff.Changes,
			Retry:        p.retryFor(diff.Resource.Kind),
		}
		ops[id] = op
		if err := builder.Add(id, op.Resource.Kind, string(op.Action), op.Dependencies...); err != nil {
			return nil, err
		}

		switch op.Action {
		case ActionCreate:
			plan.Summary.ToCreate++
		case ActionUpdate:
			plan.Summary.ToUpdate++
		case ActionRestart:
			plan.Summary.ToRestart++
		}
	}
	slices.Sort(plan.Converged)

	graph, err := builder.Build()
	if err != nil {
		return nil, err
	}
	for i, id := range graph.Order {
		op := ops[id]
		op.Order = i
		plan.Operations = append(plan.Operations, op)
	}
	plan.Graph = graph

	return plan, nil
}

// propagateNotify turns converged refreshable resources into restarts when a
// notify target is created or updated. Restarts do not propagate further.
func propagateNotify(diffs []ResourceDiff, byID map[string]*ResourceDiff) {
	changed := make(map[string]bool)
	for _, diff := range diffs {
		if diff.Action == ActionCreate || diff.Action == ActionUpdate {
			changed[diff.Resource.ID()] = true
		}
	}

	for i := range diffs {
		diff := &diffs[i]
		if diff.Action != ActionNoop || !diff.Resource.Kind.Refreshable() {
			continue
		}
		for _, dep := range diff.Resource.Dependencies {
			if dep.Type == DependencyNotify && changed[dep.Target] {
				diff.Action = ActionRestart
				diff.Reason = "notified by " + dep.Target
				break
			}
		}
	}
}

// plannedAncestors returns the nearest planned ancestors of a resource,
// walking through converged resources so transitive ordering survives.
func plannedAncestors(id string, byID map[string]*ResourceDiff, memo map[string][]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, dep := range byID[id].Resource.Dependencies {
		target := byID[dep.Target]
		var found []string
		if target.Action != ActionNoop {
			found = []string{dep.Target}
		} else {
			found = convergedAncestors(dep.Target, byID, memo)
		}
		for _, a := range found {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	slices.Sort(out)
	return out
}

// convergedAncestors resolves the planned ancestors of a converged resource.
func convergedAncestors(id string, byID map[string]*ResourceDiff, memo map[string][]string) []string {
	if cached, ok := memo[id]; ok {
		return cached
	}
	result := plannedAncestors(id, byID, memo)
	memo[id] = result
	return result
}

func (p *DefaultPlanner) retryFor(kind Kind) RetryPolicy {
	if kind.TransientProne() {
		return p.retry
	}
	return RetryPolicy{MaxAttempts: 1}
}

// ValidatePlan checks structural invariants of a plan: every dependency is a
// planned operation that precedes its dependent.
func (p *DefaultPlanner) ValidatePlan(plan *Plan) error {
	if plan == nil {
		return NewValidationError("plan is nil", nil)
	}
	position := make(map[string]int, len(plan.Operations))
	for i, op := range plan.Operations {
		if err := op.Action.Validate(); err != nil {
			return NewValidationError(err.Error(), nil).WithResource(op.ID)
		}
		if op.Action == ActionNoop {
			return NewValidationError("noop operations are never planned", nil).WithResource(op.ID)
		}
		position[op.ID] = i
	}
	for i, op := range plan.Operations {
		for _, dep := range op.Dependencies {
			pos, ok := position[dep]
			if !ok {
				return NewValidationError(fmt.Sprintf("dependency %s is not planned", dep), nil).
					WithCode(ErrCodeMissingDep).WithResource(op.ID)
			}
			if pos >= i {
				return NewValidationError(fmt.Sprintf("dependency %s is ordered after its dependent", dep), nil).
					WithResource(op.ID)
			}
		}
	}
	return nil
}
