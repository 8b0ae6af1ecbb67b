package engine

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestPlanner_Plan_EmptyHostCreatesEverything(t *testing.T) {
	planner := NewPlanner()
	desired := scenarioResources()

	plan, err := planner.Plan(context.Background(), desired, NewSnapshot(time.Now()))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(plan.Operations) != 5 {
		t.Fatalf("Expected 5 operations, got %d: %v", len(plan.Operations), ids(plan.Operations))
	}
	for _, op := range plan.Operations {
		if op.Action != ActionCreate {
			t.Errorf("Expected create for %s, got %s", op.ID, op.Action)
		}
	}

	want := []string{"cert.proxy", "file.proxy-config", "service.app", "service.db", "service.proxy"}
	if got := ids(plan.Operations); !slices.Equal(got, want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
	if last := plan.Operations[len(plan.Operations)-1]; last.ID != "service.proxy" {
		t.Errorf("Expected service.proxy last, got %s", last.ID)
	}
	if plan.Summary.ToCreate != 5 || plan.Summary.NoChange != 0 {
		t.Errorf("Unexpected summary: %+v", plan.Summary)
	}
	if err := planner.ValidatePlan(plan); err != nil {
		t.Errorf("Expected valid plan, got: %v", err)
	}
}

func TestPlanner_Plan_ConvergedHostIsEmpty(t *testing.T) {
	planner := NewPlanner()
	desired := scenarioResources()
	host := newFakeHost()
	host.converge(desired...)

	snapshot, err := NewStateReader(newFakeRegistry(host)).Read(context.Background(), desired)
	if err != nil {
		t.Fatalf("Expected no error reading state, got: %v", err)
	}

	plan, err := planner.Plan(context.Background(), desired, snapshot)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !plan.IsEmpty() {
		t.Errorf("Expected empty plan, got %v", ids(plan.Operations))
	}
	if len(plan.Converged) != 5 {
		t.Errorf("Expected 5 converged resources, got %d", len(plan.Converged))
	}
}

func TestPlanner_Plan_SignalDriftUpdatesAndNotifies(t *testing.T) {
	planner := NewPlanner()
	env := res(KindFile, "stack-env", "sha256:new")
	desired := []Resource{
		env,
		res(KindFile, "compose", "sha256:c"),
		res(KindService, "db", "running:d", Require("file.compose"), Notify("file.stack-env")),
		res(KindService, "app", "running:a", Require("service.db"), Notify("file.stack-env")),
		res(KindService, "proxy", "running:p", Require("service.app")),
	}

	observed := []Observed{
		{ResourceID: "file.stack-env", Present: true, Signal: "sha256:old"},
		{ResourceID: "file.compose", Present: true, Signal: "sha256:c"},
		{ResourceID: "service.db", Present: true, Signal: "running:d"},
		{ResourceID: "service.app", Present: true, Signal: "running:a"},
		{ResourceID: "service.proxy", Present: true, Signal: "running:p"},
	}

	plan, err := planner.Plan(context.Background(), desired, NewSnapshot(time.Now(), observed...))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"file.stack-env", "service.db", "service.app"}
	if got := ids(plan.Operations); !slices.Equal(got, want) {
		t.Fatalf("Expected operations %v, got %v", want, got)
	}
	if plan.Operations[0].Action != ActionUpdate {
		t.Errorf("Expected update of stack-env, got %s", plan.Operations[0].Action)
	}
	for _, op := range plan.Operations[1:] {
		if op.Action != ActionRestart {
			t.Errorf("Expected restart for %s, got %s", op.ID, op.Action)
		}
	}
	if plan.Summary.ToUpdate != 1 || plan.Summary.ToRestart != 2 || plan.Summary.NoChange != 2 {
		t.Errorf("Unexpected summary: %+v", plan.Summary)
	}

	app, _ := plan.Operation("service.app")
	if !slices.Equal(app.Dependencies, []string{"file.stack-env", "service.db"}) {
		t.Errorf("Expected app to wait for stack-env and db, got %v", app.Dependencies)
	}
}

func TestPlanner_Plan_RestartDoesNotPropagate(t *testing.T) {
	planner := NewPlanner()
	desired := []Resource{
		res(KindFile, "conf", "sha256:new"),
		res(KindService, "a", "running:a", Notify("file.conf")),
		res(KindService, "b", "running:b", Notify("service.a")),
	}
	observed := []Observed{
		{ResourceID: "file.conf", Present: true, Signal: "sha256:old"},
		{ResourceID: "service.a", Present: true, Signal: "running:a"},
		{ResourceID: "service.b", Present: true, Signal: "running:b"},
	}

	plan, err := planner.Plan(context.Background(), desired, NewSnapshot(time.Now(), observed...))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := ids(plan.Operations); !slices.Equal(got, []string{"file.conf", "service.a"}) {
		t.Errorf("Expected only file.conf and service.a, got %v", got)
	}
}

func TestPlanner_Plan_NotifyOnNonRefreshableKindIsOrderingOnly(t *testing.T) {
	planner := NewPlanner()
	desired := []Resource{
		res(KindFile, "dockerfile", "sha256:new"),
		res(KindImage, "app", "build:1", Notify("file.dockerfile")),
	}
	observed := []Observed{
		{ResourceID: "file.dockerfile", Present: true, Signal: "sha256:old"},
		{ResourceID: "image.app", Present: true, Signal: "build:1"},
	}

	plan, err := planner.Plan(context.Background(), desired, NewSnapshot(time.Now(), observed...))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := ids(plan.Operations); !slices.Equal(got, []string{"file.dockerfile"}) {
		t.Errorf("Expected only file.dockerfile, got %v", got)
	}
}

func TestPlanner_Plan_OrderingThroughConvergedResource(t *testing.T) {
	planner := NewPlanner()
	desired := []Resource{
		res(KindPackage, "docker", "installed"),
		res(KindImage, "app", "build:1", Require("package.docker")),
		res(KindService, "app", "running:a", Require("image.app")),
	}
	observed := []Observed{
		{ResourceID: "image.app", Present: true, Signal: "build:1"},
	}

	plan, err := planner.Plan(context.Background(), desired, NewSnapshot(time.Now(), observed...))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	svc, ok := plan.Operation("service.app")
	if !ok {
		t.Fatalf("Expected service.app to be planned, got %v", ids(plan.Operations))
	}
	if !slices.Equal(svc.Dependencies, []string{"package.docker"}) {
		t.Errorf("Expected service.app to inherit package.docker through image.app, got %v", svc.Dependencies)
	}
	if !slices.Equal(plan.Converged, []string{"image.app"}) {
		t.Errorf("Expected image.app converged, got %v", plan.Converged)
	}
}

func TestPlanner_Plan_DependenciesPrecedeDependents(t *testing.T) {
	planner := NewPlanner()
	desired := []Resource{
		res(KindService, "grafana", "s", Require("service.prometheus")),
		res(KindService, "prometheus", "s", Require("service.app"), Notify("file.prom")),
		res(KindService, "app", "s", Require("service.db"), Require("image.app")),
		res(KindService, "db", "s", Require("package.docker")),
		res(KindImage, "app", "s", Require("package.docker"), Require("file.dockerfile")),
		res(KindFile, "prom", "s"),
		res(KindFile, "dockerfile", "s"),
		res(KindPackage, "docker", "s"),
	}

	plan, err := planner.Plan(context.Background(), desired, NewSnapshot(time.Now()))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	position := make(map[string]int)
	for i, op := range plan.Operations {
		position[op.ID] = i
		if op.Order != i {
			t.Errorf("Expected %s order %d, got %d", op.ID, i, op.Order)
		}
	}
	for _, r := range desired {
		for _, dep := range r.Dependencies {
			if position[dep.Target] >= position[r.ID()] {
				t.Errorf("Expected %s before %s", dep.Target, r.ID())
			}
		}
	}
}

func TestPlanner_Plan_RetryPolicyByKind(t *testing.T) {
	planner := NewPlanner(WithRetryPolicy(fastRetry()))
	desired := []Resource{
		res(KindPackage, "docker", "installed"),
		res(KindFile, "conf", "sha256:x"),
		res(KindCert, "proxy", "cn=x"),
		res(KindImage, "app", "build:1"),
		res(KindService, "app", "running:a"),
	}

	plan, err := planner.Plan(context.Background(), desired, NewSnapshot(time.Now()))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for _, op := range plan.Operations {
		want := 1
		if op.Resource.Kind.TransientProne() {
			want = 3
		}
		if op.Retry.MaxAttempts != want {
			t.Errorf("Expected %d attempts for %s, got %d", want, op.ID, op.Retry.MaxAttempts)
		}
	}
}

func TestPlanner_Validate(t *testing.T) {
	tests := []struct {
		name     string
		desired  []Resource
		wantCode string
	}{
		{
			name:     "unknown kind",
			desired:  []Resource{res(Kind("vm"), "a", "x")},
			wantCode: ErrCodeUnknownKind,
		},
		{
			name:     "duplicate identifier",
			desired:  []Resource{res(KindFile, "a", "x"), res(KindFile, "a", "y")},
			wantCode: ErrCodeDuplicateID,
		},
		{
			name:     "missing dependency",
			desired:  []Resource{res(KindFile, "a", "x", Require("file.b"))},
			wantCode: ErrCodeMissingDep,
		},
		{
			name: "cycle",
			desired: []Resource{
				res(KindService, "a", "x", Require("service.b")),
				res(KindService, "b", "x", Require("service.a")),
			},
			wantCode: ErrCodeCycle,
		},
		{
			name:     "invalid dependency type",
			desired:  []Resource{res(KindFile, "a", "x"), res(KindFile, "b", "x", Dependency{Target: "file.a", Type: "after"})},
			wantCode: ErrCodeValidation,
		},
	}

	planner := NewPlanner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := planner.Validate(tt.desired)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got class %s", ClassOf(err))
			}
			if CodeOf(err) != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, CodeOf(err))
			}
		})
	}
}

func TestPlanner_Plan_SameKindSameResourceNameAcrossKinds(t *testing.T) {
	desired := []Resource{res(KindImage, "app", "b"), res(KindService, "app", "s", Require("image.app"))}
	if err := NewPlanner().Validate(desired); err != nil {
		t.Errorf("Expected names to be unique per kind only, got: %v", err)
	}
}

func TestPlanner_Plan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPlanner().Plan(ctx, scenarioResources(), NewSnapshot(time.Now()))
	if !IsCancelled(err) {
		t.Errorf("Expected cancelled error, got: %v", err)
	}
}

func TestPlanner_ValidatePlan_RejectsMisordering(t *testing.T) {
	plan := &Plan{Operations: []*Operation{
		{ID: "service.app", Action: ActionCreate, Dependencies: []string{"service.db"}},
		{ID: "service.db", Action: ActionCreate},
	}}

	if err := NewPlanner().ValidatePlan(plan); err == nil {
		t.Error("Expected error for dependency ordered after dependent")
	}
}
