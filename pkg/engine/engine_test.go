package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type denyGate struct {
	err error
}

func (g denyGate) Check(ctx context.Context, plan *Plan) error {
	return g.err
}

type memoryRecorder struct {
	reports []*Report
}

func (r *memoryRecorder) RecordRun(ctx context.Context, report *Report) error {
	r.reports = append(r.reports, report)
	return nil
}

func TestEngine_PlanApplyPlan_IsIdempotent(t *testing.T) {
	host := newFakeHost()
	recorder := &memoryRecorder{}
	metrics := &recordingMetrics{}
	eng := New(newFakeRegistry(host), NewPlanner(WithRetryPolicy(fastRetry())),
		WithRunRecorder(recorder), WithMetrics(metrics))
	desired := scenarioResources()

	plan, err := eng.Plan(context.Background(), desired)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(plan.Operations) != 5 {
		t.Fatalf("Expected 5 operations, got %d", len(plan.Operations))
	}

	report, err := eng.Apply(context.Background(), plan)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !report.Succeeded() || report.Counts.Created != 5 {
		t.Errorf("Expected 5 created, got %+v (%s)", report.Counts, report.Status)
	}
	if report.RunID == "" || report.PlanID != plan.ID {
		t.Errorf("Expected run and plan IDs, got run=%q plan=%q", report.RunID, report.PlanID)
	}
	if len(recorder.reports) != 1 {
		t.Errorf("Expected run to be journaled once, got %d", len(recorder.reports))
	}
	if len(metrics.runs) != 1 || metrics.runs[0] != string(RunStatusSucceeded) {
		t.Errorf("Expected one succeeded run recorded, got %v", metrics.runs)
	}

	second, err := eng.Plan(context.Background(), desired)
	if err != nil {
		t.Fatalf("Expected no error on second plan, got: %v", err)
	}
	if !second.IsEmpty() {
		t.Errorf("Expected empty plan after apply, got %v", ids(second.Operations))
	}

	third, err := eng.Plan(context.Background(), desired)
	if err != nil {
		t.Fatalf("Expected no error on third plan, got: %v", err)
	}
	if !third.IsEmpty() {
		t.Errorf("Expected plan to stay empty, got %v", ids(third.Operations))
	}
}

func TestEngine_Plan_ProbeErrorAbortsWithoutPlan(t *testing.T) {
	host := newFakeHost()
	host.probeErrs["cert.proxy"] = NewProbeError("permission denied", nil)
	eng := New(newFakeRegistry(host), nil)

	plan, err := eng.Plan(context.Background(), scenarioResources())
	if !IsProbe(err) {
		t.Fatalf("Expected probe error, got: %v", err)
	}
	if plan != nil {
		t.Error("Expected no partial plan")
	}
}

func TestEngine_Plan_ValidationAggregatesHandlerErrors(t *testing.T) {
	eng := New(newFakeRegistry(newFakeHost()), nil)
	desired := []Resource{
		{Kind: KindFile, Name: "a", Attributes: map[string]string{"invalid": "1"}},
		{Kind: KindFile, Name: "b", Attributes: map[string]string{"invalid": "1"}},
	}

	_, err := eng.Plan(context.Background(), desired)
	if !IsValidation(err) {
		t.Fatalf("Expected validation error, got: %v", err)
	}
	var engineErr *Error
	if !errors.As(err, &engineErr) {
		t.Fatal("Expected *Error")
	}
	for _, id := range []string{"file.a", "file.b"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("Expected %s in aggregated error: %v", id, err)
		}
	}
}

func TestEngine_Plan_GateDenialReturnsPlan(t *testing.T) {
	denied := NewValidationError("policy violation", nil).WithCode(ErrCodePolicyDenied)
	eng := New(newFakeRegistry(newFakeHost()), nil, WithPlanGate(denyGate{err: denied}))

	plan, err := eng.Plan(context.Background(), scenarioResources())
	if CodeOf(err) != ErrCodePolicyDenied {
		t.Fatalf("Expected policy denial, got: %v", err)
	}
	if plan == nil || len(plan.Operations) != 5 {
		t.Error("Expected the denied plan to be returned for display")
	}
}

func TestEngine_Apply_CancelDuringLastOperationIsCancelled(t *testing.T) {
	host := newFakeHost()
	registry := newFakeRegistry(host)
	recorder := &memoryRecorder{}
	eng := New(registry, NewPlanner(), WithRunRecorder(recorder))

	plan, err := eng.Plan(context.Background(), scenarioResources())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	last := plan.Operations[len(plan.Operations)-1].ID
	registry.handler.applyFunc = func(op *Operation, _ int) (bool, error) {
		if op.ID == last {
			cancel()
		}
		return true, nil
	}

	report, err := eng.Apply(ctx, plan)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Counts.Created != len(plan.Operations) || report.Counts.SkippedCancelled != 0 {
		t.Errorf("Expected every operation to finish, got %+v", report.Counts)
	}
	if report.Status != RunStatusCancelled {
		t.Errorf("Expected status %s, got %s", RunStatusCancelled, report.Status)
	}
	if len(recorder.reports) != 1 || recorder.reports[0].Status != RunStatusCancelled {
		t.Errorf("Expected the cancelled run to be journaled")
	}
}
