package engine

import (
	"slices"
	"strings"
	"time"
)

// Report is the structured record of an apply run.
type Report struct {
	// RunID is the unique run identifier.
	RunID string `json:"run_id"`

	// PlanID is the plan that was applied.
	PlanID string `json:"plan_id"`

	// Status is the overall run outcome.
	Status RunStatus `json:"status"`

	// Counts aggregates entries by outcome.
	Counts ReportCounts `json:"counts"`

	// Entries has one row per desired resource: operations first in plan
	// order, then converged resources sorted by ID.
	Entries []ReportEntry `json:"entries"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at,omitzero"`

	// FinishedAt is when the run ended.
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// ReportCounts aggregates outcomes.
type ReportCounts struct {
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Restarted         int `json:"restarted"`
	NoOp              int `json:"noop"`
	Failed            int `json:"failed"`
	SkippedDependency int `json:"skipped_dependency"`
	SkippedCancelled  int `json:"skipped_cancelled"`
}

// Total returns the number of counted entries.
func (c ReportCounts) Total() int {
	return c.Created + c.Updated + c.Restarted + c.NoOp + c.Failed + c.SkippedDependency + c.SkippedCancelled
}

// ReportEntry is the outcome for one resource.
type ReportEntry struct {
	// ResourceID identifies the resource.
	ResourceID string `json:"resource_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Action is the planned action, noop for converged resources.
	Action Action `json:"action"`

	// Status is the terminal operation status.
	Status OperationStatus `json:"status"`

	// Attempts is how many times the operation ran.
	Attempts int `json:"attempts,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// RootCause names the failed operation behind a dependency skip.
	RootCause string `json:"root_cause,omitempty"`

	// Duration is the wall time spent on the operation.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Summarize projects a plan and its operation results into a report.
// It never mutates its inputs.
func Summarize(plan *Plan, results []OperationResult) *Report {
	report := &Report{
		Status:  RunStatusSucceeded,
		Entries: make([]ReportEntry, 0, len(results)),
	}
	if plan != nil {
		report.PlanID = plan.ID
	}

	failures := make(map[string]string)
	for _, res := range results {
		if res.Status == StatusFailed && res.Err != nil {
			failures[res.OperationID] = res.Err.Error()
		}
	}

	for _, res := range results {
		entry := ReportEntry{
			ResourceID: res.OperationID,
			Kind:       res.Kind,
			Action:     res.Action,
			Status:     res.Status,
			Attempts:   res.Attempts,
			RootCause:  res.RootCause,
			Duration:   res.Duration(),
		}

		switch res.Status {
		case StatusSucceeded:
			switch res.Action {
			case ActionCreate:
				report.Counts.Created++
			case ActionUpdate:
				report.Counts.Updated++
			case ActionRestart:
				report.Counts.Restarted++
			}
		case StatusSkippedConverged:
			report.Counts.NoOp++
		case StatusFailed:
			report.Counts.Failed++
			if res.Err != nil {
				entry.Error = res.Err.Error()
			}
		case StatusSkippedDependencyFailed:
			report.Counts.SkippedDependency++
			entry.Error = failures[res.RootCause]
		case StatusSkippedCancelled:
			report.Counts.SkippedCancelled++
		}

		if !res.StartedAt.IsZero() && (report.StartedAt.IsZero() || res.StartedAt.Before(report.StartedAt)) {
			report.StartedAt = res.StartedAt
		}
		if res.FinishedAt.After(report.FinishedAt) {
			report.FinishedAt = res.FinishedAt
		}
		report.Entries = append(report.Entries, entry)
	}

	if plan != nil {
		for _, id := range plan.Converged {
			report.Entries = append(report.Entries, ReportEntry{
				ResourceID: id,
				Kind:       kindOf(id),
				Action:     ActionNoop,
				Status:     StatusSkippedConverged,
			})
			report.Counts.NoOp++
		}
	}

	switch {
	case report.Counts.SkippedCancelled > 0:
		report.Status = RunStatusCancelled
	case report.Counts.Failed > 0:
		report.Status = RunStatusFailed
	}
	return report
}

// Failed returns the entries whose status is failed.
func (r *Report) Failed() []ReportEntry {
	return r.filter(StatusFailed)
}

// Skipped returns the IDs skipped because of a failed dependency, keyed by root cause.
func (r *Report) Skipped() map[string][]string {
	out := make(map[string][]string)
	for _, e := range r.filter(StatusSkippedDependencyFailed) {
		out[e.RootCause] = append(out[e.RootCause], e.ResourceID)
	}
	for k := range out {
		slices.Sort(out[k])
	}
	return out
}

// Succeeded reports whether every entry succeeded or was converged.
func (r *Report) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}

func (r *Report) filter(status OperationStatus) []ReportEntry {
	var out []ReportEntry
	for _, e := range r.Entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// kindOf extracts the kind prefix from a resource ID.
func kindOf(id string) Kind {
	kind, _, _ := strings.Cut(id, ".")
	return Kind(kind)
}
