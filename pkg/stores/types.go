package stores

import (
	"errors"
	"time"

	"github.com/provisio/provisio/pkg/engine"
)

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// Run is a journaled apply run.
type Run struct {
	ID         string           `json:"id"`
	PlanID     string           `json:"plan_id"`
	Status     engine.RunStatus `json:"status"`
	Target     string           `json:"target"`
	Project    string           `json:"project"`
	StartedAt  time.Time        `json:"started_at,omitzero"`
	FinishedAt time.Time        `json:"finished_at,omitzero"`
	RecordedAt time.Time        `json:"recorded_at"`

	Counts engine.ReportCounts `json:"counts"`

	// Entries are only loaded by GetRun.
	Entries []engine.ReportEntry `json:"entries,omitempty"`
}

// Report converts the run back into an engine report.
func (r *Run) Report() *engine.Report {
	return &engine.Report{
		RunID:      r.ID,
		PlanID:     r.PlanID,
		Status:     r.Status,
		Counts:     r.Counts,
		Entries:    r.Entries,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
