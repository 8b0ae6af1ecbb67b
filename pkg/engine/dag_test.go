package engine

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestDAGBuilder_Build_Empty(t *testing.T) {
	graph, err := NewDAGBuilder().Build()
	if err != nil {
		t.Fatalf("Expected no error for empty graph, got: %v", err)
	}

	if len(graph.Nodes) != 0 {
		t.Errorf("Expected 0 nodes, got %d", len(graph.Nodes))
	}
	if graph.Depth != 0 {
		t.Errorf("Expected depth 0, got %d", graph.Depth)
	}
}

func TestDAGBuilder_Build_LinearDependencies(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "service.c", KindService, "service.b")
	mustAdd(t, builder, "service.b", KindService, "service.a")
	mustAdd(t, builder, "service.a", KindService)

	graph, err := builder.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"service.a", "service.b", "service.c"}
	if !slices.Equal(graph.Order, want) {
		t.Errorf("Expected order %v, got %v", want, graph.Order)
	}
	if graph.Depth != 3 {
		t.Errorf("Expected depth 3, got %d", graph.Depth)
	}
	if graph.Nodes["service.c"].Level != 2 {
		t.Errorf("Expected service.c at level 2, got %d", graph.Nodes["service.c"].Level)
	}
	if len(graph.Roots) != 1 || graph.Roots[0] != "service.a" {
		t.Errorf("Expected single root service.a, got %v", graph.Roots)
	}
	if len(graph.Edges) != 2 {
		t.Errorf("Expected 2 edges, got %d", len(graph.Edges))
	}
}

func TestDAGBuilder_Build_TieBreakByKindThenID(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "service.b", KindService)
	mustAdd(t, builder, "service.a", KindService)
	mustAdd(t, builder, "file.z", KindFile)
	mustAdd(t, builder, "image.app", KindImage)
	mustAdd(t, builder, "cert.proxy", KindCert)
	mustAdd(t, builder, "package.openssl", KindPackage)
	mustAdd(t, builder, "file.a", KindFile)

	graph, err := builder.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"package.openssl", "cert.proxy", "file.a", "file.z", "image.app", "service.a", "service.b"}
	if !slices.Equal(graph.Order, want) {
		t.Errorf("Expected order %v, got %v", want, graph.Order)
	}
}

func TestDAGBuilder_Build_TieBreakAppliesToNewlyReadyNodes(t *testing.T) {
	// file.b becomes ready only after service.a; package.x is ready from the start.
	builder := NewDAGBuilder()
	mustAdd(t, builder, "service.a", KindService)
	mustAdd(t, builder, "file.b", KindFile, "service.a")
	mustAdd(t, builder, "service.c", KindService)
	mustAdd(t, builder, "package.x", KindPackage)

	graph, err := builder.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"package.x", "service.a", "file.b", "service.c"}
	if !slices.Equal(graph.Order, want) {
		t.Errorf("Expected order %v, got %v", want, graph.Order)
	}
}

func TestDAGBuilder_Build_CircularDependency(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "file.a", KindFile, "file.c")
	mustAdd(t, builder, "file.b", KindFile, "file.a")
	mustAdd(t, builder, "file.c", KindFile, "file.b")

	_, err := builder.Build()
	if err == nil {
		t.Fatal("Expected error for circular dependency, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation error, got class %s", ClassOf(err))
	}
	if CodeOf(err) != ErrCodeCycle {
		t.Errorf("Expected code %s, got %s", ErrCodeCycle, CodeOf(err))
	}
	if !strings.Contains(err.Error(), "file.a -> file.b -> file.c -> file.a") {
		t.Errorf("Expected cycle path in error, got: %v", err)
	}
}

func TestDAGBuilder_Build_SelfDependency(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "file.a", KindFile, "file.a")

	_, err := builder.Build()
	if err == nil || CodeOf(err) != ErrCodeCycle {
		t.Fatalf("Expected cycle error, got: %v", err)
	}
}

func TestDAGBuilder_Build_MissingDependency(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "service.app", KindService, "service.db")

	_, err := builder.Build()
	if err == nil {
		t.Fatal("Expected error for missing dependency, got nil")
	}
	if CodeOf(err) != ErrCodeMissingDep {
		t.Errorf("Expected code %s, got %s", ErrCodeMissingDep, CodeOf(err))
	}
	var engineErr *Error
	if !errors.As(err, &engineErr) || engineErr.Resource != "service.app" {
		t.Errorf("Expected error to name service.app, got: %v", err)
	}
}

func TestDAGBuilder_Add_DuplicateID(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "file.a", KindFile)

	err := builder.Add("file.a", KindFile, "")
	if err == nil {
		t.Fatal("Expected error for duplicate ID, got nil")
	}
	if CodeOf(err) != ErrCodeDuplicateID {
		t.Errorf("Expected code %s, got %s", ErrCodeDuplicateID, CodeOf(err))
	}
}

func TestDAGBuilder_Build_DiamondLevels(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "package.docker", KindPackage)
	mustAdd(t, builder, "service.db", KindService, "package.docker")
	mustAdd(t, builder, "image.app", KindImage, "package.docker")
	mustAdd(t, builder, "service.app", KindService, "service.db", "image.app")

	graph, err := builder.Build()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	levels := map[string]int{"package.docker": 0, "service.db": 1, "image.app": 1, "service.app": 2}
	for id, level := range levels {
		if graph.Nodes[id].Level != level {
			t.Errorf("Expected %s at level %d, got %d", id, level, graph.Nodes[id].Level)
		}
	}
	if got := graph.Nodes["package.docker"].Dependents; !slices.Equal(got, []string{"image.app", "service.db"}) {
		t.Errorf("Expected sorted dependents, got %v", got)
	}
}

func TestDAGBuilder_ToDOT(t *testing.T) {
	builder := NewDAGBuilder()
	mustAdd(t, builder, "cert.proxy", KindCert)
	mustAdd(t, builder, "service.proxy", KindService, "cert.proxy")
	if _, err := builder.Build(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := builder.ToDOT()
	for _, want := range []string{"digraph Plan {", `"cert.proxy" -> "service.proxy";`, "cluster_level_1"} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}

func TestPlan_DOT(t *testing.T) {
	plan := &Plan{Operations: []*Operation{
		{ID: "cert.proxy", Resource: Resource{Kind: KindCert, Name: "proxy"}, Action: ActionCreate},
		{ID: "file.nginx-site", Resource: Resource{Kind: KindFile, Name: "nginx-site"}, Action: ActionUpdate},
		{
			ID:           "service.proxy",
			Resource:     Resource{Kind: KindService, Name: "proxy"},
			Action:       ActionRestart,
			Dependencies: []string{"cert.proxy", "file.nginx-site"},
		},
	}}

	dot, err := plan.DOT()
	if err != nil {
		t.Fatalf("DOT failed: %v", err)
	}
	for _, want := range []string{
		`"cert.proxy" -> "service.proxy";`,
		`"file.nginx-site" -> "service.proxy";`,
		`fillcolor="lightyellow"`,
		"cluster_level_1",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}

	empty, err := (&Plan{}).DOT()
	if err != nil {
		t.Fatalf("DOT of empty plan failed: %v", err)
	}
	if strings.Contains(empty, "->") {
		t.Errorf("Expected no edges for an empty plan, got:\n%s", empty)
	}
}

func mustAdd(t *testing.T, b *DAGBuilder, id string, kind Kind, deps ...string) {
	t.Helper()
	if err := b.Add(id, kind, string(ActionCreate), deps...); err != nil {
		t.Fatalf("Add(%s) failed: %v", id, err)
	}
}
