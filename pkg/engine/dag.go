package engine

import (
	"fmt"
	"slices"
	"strings"
)

// dagNode is a vertex of the dependency graph.
type dagNode struct {
	id    string
	kind  Kind
	label string
	deps  []string
}

// DAGBuilder builds a directed acyclic graph from resources or operations.
// It detects cycles and produces a stable topological order: among nodes that
// are ready at the same time, lower kind priority goes first, then lower ID.
type DAGBuilder struct {
	// nodes maps node IDs to their vertices
	nodes map[string]*dagNode

	// dependents maps node IDs to the nodes that depend on them
	dependents map[string][]string

	// inDegree tracks the number of unfinished dependencies for each node
	inDegree map[string]int

	// order is the computed topological order
	order []string

	// levels maps node IDs to their depth
	levels map[string]int
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:      make(map[string]*dagNode),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
		levels:     make(map[string]int),
	}
}

// Add registers a node. Dependencies are resolved when Build is called.
func (b *DAGBuilder) Add(id string, kind Kind, label string, deps ...string) error {
	if id == "" {
		return NewValidationError("graph node has empty ID", nil)
	}
	if _, exists := b.nodes[id]; exists {
		return NewValidationError(fmt.Sprintf("duplicate identifier: %s", id), nil).
			WithCode(ErrCodeDuplicateID).WithResource(id)
	}
	b.nodes[id] = &dagNode{id: id, kind: kind, label: label, deps: slices.Clone(deps)}
	return nil
}

// Build validates edges, detects cycles and computes the execution graph.
func (b *DAGBuilder) Build() (*ExecutionGraph, error) {
	if err := b.link(); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeOrder(); err != nil {
		return nil, err
	}
	return b.buildExecutionGraph(), nil
}

// link builds the reverse adjacency list and validates dependency targets.
func (b *DAGBuilder) link() error {
	for _, id := range b.sortedIDs() {
		node := b.nodes[id]
		seen := make(map[string]bool, len(node.deps))
		deps := node.deps[:0]
		for _, dep := range node.deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, exists := b.nodes[dep]; !exists {
				return NewValidationError(
					fmt.Sprintf("%s depends on unknown resource %s", id, dep), nil,
				).WithCode(ErrCodeMissingDep).WithResource(id)
			}
			deps = append(deps, dep)
			b.dependents[dep] = append(b.dependents[dep], id)
		}
		node.deps = deps
		b.inDegree[id] = len(deps)
	}
	return nil
}

// detectCycles uses depth-first search over sorted IDs so the reported cycle is stable.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewValidationError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeCycle)
		}
	}
	return nil
}

// detectCyclesUtil returns the cycle path if one is reachable from nodeID.
func (b *DAGBuilder) detectCyclesUtil(nodeID string, visited, recStack map[string]bool, path []string) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	next := slices.Sorted(slices.Values(b.dependents[nodeID]))
	for _, dependent := range next {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			start := slices.Index(path, dependent)
			return append(slices.Clone(path[start:]), dependent)
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeOrder runs Kahn's algorithm with the kind/ID tie-break and assigns levels.
func (b *DAGBuilder) computeOrder() error {
	remaining := make(map[string]int, len(b.inDegree))
	ready := make([]string, 0)
	for id, degree := range b.inDegree {
		remaining[id] = degree
		if degree == 0 {
			ready = append(ready, id)
		}
	}

	b.order = make([]string, 0, len(b.nodes))
	for len(ready) > 0 {
		slices.SortFunc(ready, b.compare)
		id := ready[0]
		ready = ready[1:]
		b.order = append(b.order, id)

		level := 0
		for _, dep := range b.nodes[id].deps {
			level = max(level, b.levels[dep]+1)
		}
		b.levels[id] = level

		for _, dependent := range b.dependents[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(b.order) != len(b.nodes) {
		return NewValidationError("failed to order all nodes - possible cycle", nil).
			WithCode(ErrCodeCycle)
	}
	return nil
}

// compare orders two ready nodes by kind priority, then ID.
func (b *DAGBuilder) compare(x, y string) int {
	px, py := b.nodes[x].kind.Priority(), b.nodes[y].kind.Priority()
	if px != py {
		return px - py
	}
	return strings.Compare(x, y)
}

// buildExecutionGraph creates the final ExecutionGraph structure.
func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes: make(map[string]*GraphNode, len(b.nodes)),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Order: slices.Clone(b.order),
	}

	for _, id := range b.order {
		node := b.nodes[id]
		level := b.levels[id]
		graph.Nodes[id] = &GraphNode{
			ID:           id,
			Level:        level,
			Dependencies: slices.Sorted(slices.Values(node.deps)),
			Dependents:   slices.Sorted(slices.Values(b.dependents[id])),
		}
		graph.Depth = max(graph.Depth, level+1)
		if len(node.deps) == 0 {
			graph.Roots = append(graph.Roots, id)
		}
		for _, dep := range graph.Nodes[id].Dependencies {
			graph.Edges = append(graph.Edges, GraphEdge{From: dep, To: id})
		}
	}

	return graph
}

// Order returns the computed topological order.
func (b *DAGBuilder) Order() []string {
	return slices.Clone(b.order)
}

// ToDOT renders the graph in Graphviz DOT format, grouped by level.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Plan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	byLevel := make(map[int][]string)
	depth := 0
	for _, id := range b.order {
		level := b.levels[id]
		byLevel[level] = append(byLevel[level], id)
		depth = max(depth, level+1)
	}

	for level := range depth {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range byLevel[level] {
			node := b.nodes[id]
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
				id, id, node.label, labelColor(node.label))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range b.order {
		for _, dep := range slices.Sorted(slices.Values(b.nodes[id].deps)) {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// DOT renders the plan's operations as a Graphviz graph, one cluster per
// level and nodes colored by action.
func (p *Plan) DOT() (string, error) {
	b := NewDAGBuilder()
	for _, op := range p.Operations {
		if err := b.Add(op.ID, op.Resource.Kind, string(op.Action), op.Dependencies...); err != nil {
			return "", err
		}
	}
	if _, err := b.Build(); err != nil {
		return "", err
	}
	return b.ToDOT(), nil
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// labelColor returns a fill color for an action label.
func labelColor(label string) string {
	switch Action(label) {
	case ActionCreate:
		return "lightgreen"
	case ActionUpdate:
		return "lightblue"
	case ActionRestart:
		return "lightyellow"
	default:
		return "lightgray"
	}
}
