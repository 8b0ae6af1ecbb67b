package engine

import (
	"maps"
	"slices"
	"time"
)

// Resource is a managed unit of desired state.
type Resource struct {
	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Name identifies the resource within its kind.
	Name string `json:"name"`

	// Signal is the comparison value matched against the observed signal.
	// Files use a content hash, services a definition hash, packages "installed".
	Signal string `json:"signal"`

	// Attributes are kind-specific parameters (path, mode, image tag, ...).
	Attributes map[string]string `json:"attributes,omitempty"`

	// Content is the rendered body for file resources.
	Content []byte `json:"-"`

	// Dependencies are edges to resources that must converge first.
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// Provides lists host tools made available by this resource (packages only).
	Provides []string `json:"provides,omitempty"`
}

// ID returns the unique identifier of the resource, "<kind>.<name>".
func (r Resource) ID() string {
	return string(r.Kind) + "." + r.Name
}

// Attr returns an attribute value or the empty string.
func (r Resource) Attr(key string) string {
	return r.Attributes[key]
}

// Dependency is a directed edge from a resource to one it depends on.
type Dependency struct {
	// Target is the ID of the resource depended upon.
	Target string `json:"target"`

	// Type is how the edge behaves.
	Type DependencyType `json:"type"`
}

// Require returns a require dependency on the given resource ID.
func Require(target string) Dependency {
	return Dependency{Target: target, Type: DependencyRequire}
}

// Notify returns a notify dependency on the given resource ID.
func Notify(target string) Dependency {
	return Dependency{Target: target, Type: DependencyNotify}
}

// Observed is the current state of one resource as read from the host.
type Observed struct {
	// ResourceID identifies the resource.
	ResourceID string `json:"resource_id"`

	// Present is false when the resource does not exist. Absence is a valid state.
	Present bool `json:"present"`

	// Signal is the observed comparison value.
	Signal string `json:"signal,omitempty"`

	// Attributes carry extra observed facts for display (version, running flag).
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Absent returns the observed state of a resource that does not exist.
func Absent(resourceID string) Observed {
	return Observed{ResourceID: resourceID}
}

// Snapshot is an immutable view of observed host state.
type Snapshot struct {
	capturedAt time.Time
	observed   map[string]Observed
}

// NewSnapshot builds a snapshot from observations.
func NewSnapshot(capturedAt time.Time, observations ...Observed) *Snapshot {
	s := &Snapshot{
		capturedAt: capturedAt,
		observed:   make(map[string]Observed, len(observations)),
	}
	for _, o := range observations {
		s.observed[o.ResourceID] = copyObserved(o)
	}
	return s
}

// CapturedAt returns when the snapshot was taken.
func (s *Snapshot) CapturedAt() time.Time {
	return s.capturedAt
}

// Lookup returns a copy of the observation for a resource. Resources that
// were never probed are reported absent.
func (s *Snapshot) Lookup(resourceID string) Observed {
	if s == nil {
		return Absent(resourceID)
	}
	o, ok := s.observed[resourceID]
	if !ok {
		return Absent(resourceID)
	}
	return copyObserved(o)
}

// IDs returns the probed resource IDs in sorted order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.observed))
}

// Len returns the number of observations.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.observed)
}

func copyObserved(o Observed) Observed {
	o.Attributes = maps.Clone(o.Attributes)
	return o
}

// Change describes a single drifted field.
type Change struct {
	// Field is the name of the compared value.
	Field string `json:"field"`

	// Before is the observed value.
	Before string `json:"before,omitempty"`

	// After is the desired value.
	After string `json:"after,omitempty"`
}

// RetryPolicy bounds how an operation is retried on transient failure.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `json:"max_delay"`
}

// Operation is one reconciling action in a plan.
type Operation struct {
	// ID is the operation identifier. It equals the resource ID.
	ID string `json:"id"`

	// Resource is the desired resource.
	Resource Resource `json:"resource"`

	// Action is what the operation does.
	Action Action `json:"action"`

	// Dependencies are IDs of operations in the same plan that must succeed first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Reason explains why the operation was planned.
	Reason string `json:"reason"`

	// Changes lists the drifted fields, if any.
	Changes []Change `json:"changes,omitempty"`

	// Retry is the retry policy for this operation.
	Retry RetryPolicy `json:"retry"`

	// Order is the position of the operation in the plan's topological order.
	Order int `json:"order"`
}

// Plan is a dependency-ordered set of operations computed from a diff.
type Plan struct {
	// ID is the unique plan identifier.
	ID string `json:"id"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// Operations are in topological order.
	Operations []*Operation `json:"operations"`

	// Converged lists IDs of resources that need no operation, sorted.
	Converged []string `json:"converged"`

	// Graph is the execution graph of the operations.
	Graph *ExecutionGraph `json:"graph,omitempty"`

	// Summary counts operations by action.
	Summary PlanSummary `json:"summary"`
}

// IsEmpty reports whether the host is already converged.
func (p *Plan) IsEmpty() bool {
	return p == nil || len(p.Operations) == 0
}

// Operation returns the operation with the given ID.
func (p *Plan) Operation(id string) (*Operation, bool) {
	for _, op := range p.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return nil, false
}

// PlanSummary counts plan operations by action.
type PlanSummary struct {
	// Total is the number of desired resources.
	Total int `json:"total"`

	// ToCreate is the number of create operations.
	ToCreate int `json:"to_create"`

	// ToUpdate is the number of update operations.
	ToUpdate int `json:"to_update"`

	// ToRestart is the number of restart operations.
	ToRestart int `json:"to_restart"`

	// NoChange is the number of converged resources.
	NoChange int `json:"no_change"`
}

// ExecutionGraph is the DAG of a plan's operations.
type ExecutionGraph struct {
	// Nodes maps operation IDs to graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists dependency edges (From must finish before To starts).
	Edges []GraphEdge `json:"edges"`

	// Roots are operations with no dependencies, in plan order.
	Roots []string `json:"roots"`

	// Order is the stable topological order.
	Order []string `json:"order"`

	// Depth is the length of the longest dependency chain.
	Depth int `json:"depth"`
}

// GraphNode is one operation in the execution graph.
type GraphNode struct {
	// ID is the operation ID.
	ID string `json:"id"`

	// Level is the depth of the node; roots are level 0.
	Level int `json:"level"`

	// Dependencies are the IDs this node waits for.
	Dependencies []string `json:"dependencies"`

	// Dependents are the IDs waiting for this node.
	Dependents []string `json:"dependents"`
}

// GraphEdge is a dependency edge in the execution graph.
type GraphEdge struct {
	// From is the dependency.
	From string `json:"from"`

	// To is the dependent.
	To string `json:"to"`
}

// OperationResult is the outcome of one operation, or of one converged resource.
type OperationResult struct {
	// OperationID is the operation (resource) ID.
	OperationID string `json:"operation_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Action is the planned action, noop for converged resources.
	Action Action `json:"action"`

	// Status is the terminal status.
	Status OperationStatus `json:"status"`

	// Attempts is how many times the operation ran.
	Attempts int `json:"attempts"`

	// Err is the terminal error of a failed operation.
	Err error `json:"-"`

	// RootCause is the ID of the failed operation that caused a dependency skip.
	RootCause string `json:"root_cause,omitempty"`

	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at,omitzero"`

	// FinishedAt is when the operation reached its terminal status.
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Duration returns the wall time spent on the operation.
func (r OperationResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
