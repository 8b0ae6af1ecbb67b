package policy

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/engine"
)

// query collects every package below data.provisio; deny and warn sets are
// picked out of the result tree.
const query = "data.provisio"

// Engine evaluates rego policies against plans.
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
	prepared rego.PreparedEvalQuery
	logger   zerolog.Logger
}

// NewEngine compiles the built-in policies together with extra.
func NewEngine(logger zerolog.Logger, extra ...Policy) (*Engine, error) {
	e := &Engine{logger: logger.With().Str("component", "policy").Logger()}
	if err := e.Load(context.Background(), extra...); err != nil {
		return nil, err
	}
	return e, nil
}

// Load replaces the non-builtin policies and recompiles. On error the
// previously loaded set stays active.
func (e *Engine) Load(ctx context.Context, extra ...Policy) error {
	builtin, err := Builtin()
	if err != nil {
		return fmt.Errorf("failed to load built-in policies: %w", err)
	}
	policies := append(builtin, extra...)

	opts := []func(*rego.Rego){rego.Query(query)}
	for _, p := range policies {
		opts = append(opts, rego.Module(p.Name, p.Source))
	}
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return engine.NewValidationError("failed to compile policies", err)
	}

	e.mu.Lock()
	e.policies = policies
	e.prepared = prepared
	e.mu.Unlock()

	e.logger.Debug().Int("policies", len(policies)).Msg("Policies compiled")
	return nil
}

// Policies returns the active modules.
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.policies)
}

// Evaluate runs every policy against plan in scope.
func (e *Engine) Evaluate(ctx context.Context, scope Scope, plan *engine.Plan) (*Decision, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	rs, err := prepared.Eval(ctx, rego.EvalInput(input(scope, plan)))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	d := &Decision{}
	for _, r := range rs {
		for _, expr := range r.Expressions {
			collect(d, "provisio", expr.Value)
		}
	}
	sortViolations(d.Denials)
	sortViolations(d.Warnings)
	return d, nil
}

// Gate binds the engine to a scope for use as an engine.PlanGate.
func (e *Engine) Gate(scope Scope) engine.PlanGate {
	return &gate{engine: e, scope: scope}
}

type gate struct {
	engine *Engine
	scope  Scope
}

// Check logs warnings and turns denials into one policy_denied error.
func (g *gate) Check(ctx context.Context, plan *engine.Plan) error {
	d, err := g.engine.Evaluate(ctx, g.scope, plan)
	if err != nil {
		return engine.NewValidationError("policy evaluation failed", err).WithCode(engine.ErrCodePolicyDenied)
	}

	for _, w := range d.Warnings {
		g.engine.logger.Warn().
			Str("policy", w.Package).
			Str("resource_id", w.ResourceID).
			Msg(w.Message)
	}
	if d.Allowed() {
		return nil
	}

	var result *multierror.Error
	for _, v := range d.Denials {
		result = multierror.Append(result, fmt.Errorf("%s", v))
	}
	result.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return strings.Join(msgs, "; ")
	}
	return engine.NewValidationError("plan denied by policy", result).
		WithCode(engine.ErrCodePolicyDenied)
}

// input builds the document rules see as input. Plain maps keep the field
// names stable regardless of struct tags.
func input(scope Scope, plan *engine.Plan) map[string]any {
	ports := make([]any, 0, len(scope.ExposedPorts))
	for _, p := range scope.ExposedPorts {
		ports = append(ports, p)
	}

	var ops []any
	if plan != nil {
		for _, op := range plan.Operations {
			attrs := make(map[string]any, len(op.Resource.Attributes))
			for k, v := range op.Resource.Attributes {
				attrs[k] = v
			}
			ops = append(ops, map[string]any{
				"id":         op.ID,
				"kind":       string(op.Resource.Kind),
				"name":       op.Resource.Name,
				"action":     string(op.Action),
				"signal":     op.Resource.Signal,
				"attributes": attrs,
			})
		}
	}
	if ops == nil {
		ops = []any{}
	}

	return map[string]any{
		"project":       scope.Project,
		"root":          scope.Root,
		"exposed_ports": ports,
		"operations":    ops,
	}
}

// collect walks the package tree and gathers deny and warn sets.
func collect(d *Decision, pkg string, value any) {
	doc, ok := value.(map[string]any)
	if !ok {
		return
	}
	for key, v := range doc {
		switch key {
		case "deny":
			d.Denials = append(d.Denials, violations(pkg, SeverityDeny, v)...)
		case "warn":
			d.Warnings = append(d.Warnings, violations(pkg, SeverityWarn, v)...)
		default:
			collect(d, pkg+"."+key, v)
		}
	}
}

func violations(pkg string, sev Severity, value any) []Violation {
	set, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]Violation, 0, len(set))
	for _, item := range set {
		v := Violation{Package: pkg, Severity: sev}
		switch x := item.(type) {
		case string:
			v.Message = x
		case map[string]any:
			v.Message, _ = x["msg"].(string)
			v.ResourceID, _ = x["resource"].(string)
		default:
			v.Message = fmt.Sprint(x)
		}
		out = append(out, v)
	}
	return out
}

func sortViolations(vs []Violation) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].Package != vs[j].Package {
			return vs[i].Package < vs[j].Package
		}
		return vs[i].Message < vs[j].Message
	})
}
