// Package reporting renders plans, run reports and journal history for
// people (tables) or machines (JSON).
package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/stores"
)

// Options configure a Reporter.
type Options struct {
	// JSON switches every rendering to indented JSON.
	JSON bool

	// NoColor disables ANSI colors in tables.
	NoColor bool
}

// Reporter writes renderings to one writer.
type Reporter struct {
	w    io.Writer
	opts Options

	green, yellow, cyan, red, faint *color.Color
}

// New creates a reporter writing to w.
func New(w io.Writer, opts Options) *Reporter {
	r := &Reporter{
		w:      w,
		opts:   opts,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
		red:    color.New(color.FgRed, color.Bold),
		faint:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{r.green, r.yellow, r.cyan, r.red, r.faint} {
		if opts.NoColor {
			c.DisableColor()
		}
	}
	return r
}

// Plan renders a plan.
func (r *Reporter) Plan(plan *engine.Plan) error {
	if r.opts.JSON {
		return r.JSON(plan)
	}

	s := plan.Summary
	if plan.IsEmpty() {
		_, err := fmt.Fprintf(r.w, "%s Host is converged (%d resources).\n", r.green.Sprint("No changes."), s.NoChange)
		return err
	}

	t := r.table()
	t.AppendHeader(table.Row{"#", "Resource", "Action", "Reason", "Depends on"})
	for _, op := range plan.Operations {
		t.AppendRow(table.Row{op.Order + 1, op.ID, r.action(op.Action), reason(op), strings.Join(op.Dependencies, ", ")})
	}
	t.Render()

	_, err := fmt.Fprintf(r.w, "Plan %s: %s to create, %s to update, %s to restart, %d unchanged.\n",
		shortID(plan.ID),
		r.green.Sprint(s.ToCreate), r.yellow.Sprint(s.ToUpdate), r.cyan.Sprint(s.ToRestart), s.NoChange)
	return err
}

// Report renders the outcome of an apply run.
func (r *Reporter) Report(report *engine.Report) error {
	if r.opts.JSON {
		return r.JSON(report)
	}

	t := r.table()
	t.AppendHeader(table.Row{"Resource", "Action", "Status", "Attempts", "Duration", "Error"})
	for _, e := range report.Entries {
		t.AppendRow(table.Row{e.ResourceID, r.action(e.Action), r.status(e.Status), attempts(e.Attempts),
			duration(e.Duration), entryError(e)})
	}
	t.Render()

	c := report.Counts
	_, err := fmt.Fprintf(r.w,
		"%s: %d created, %d updated, %d restarted, %d unchanged, %d failed, %d skipped.\n",
		r.runStatus(report.Status), c.Created, c.Updated, c.Restarted, c.NoOp, c.Failed,
		c.SkippedDependency+c.SkippedCancelled)
	return err
}

// History renders journaled runs, newest first.
func (r *Reporter) History(runs []*stores.Run) error {
	if r.opts.JSON {
		return r.JSON(runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(r.w, "No runs recorded.")
		return err
	}

	t := r.table()
	t.AppendHeader(table.Row{"Run", "Recorded", "Status", "Target", "Created", "Updated", "Restarted", "Failed"})
	for _, run := range runs {
		c := run.Counts
		t.AppendRow(table.Row{run.ID, run.RecordedAt.Local().Format(time.DateTime), r.runStatus(run.Status),
			run.Target, c.Created, c.Updated, c.Restarted, c.Failed})
	}
	t.Render()
	return nil
}

// Run renders one journaled run with its entries.
func (r *Reporter) Run(run *stores.Run) error {
	if r.opts.JSON {
		return r.JSON(run)
	}
	if _, err := fmt.Fprintf(r.w, "Run %s on %s (project %s), recorded %s\n",
		run.ID, run.Target, run.Project, run.RecordedAt.Local().Format(time.DateTime)); err != nil {
		return err
	}
	return r.Report(run.Report())
}

func (r *Reporter) table() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	return t
}

// JSON writes v as indented JSON.
func (r *Reporter) JSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Reporter) action(a engine.Action) string {
	switch a {
	case engine.ActionCreate:
		return r.green.Sprint("+ create")
	case engine.ActionUpdate:
		return r.yellow.Sprint("~ update")
	case engine.ActionRestart:
		return r.cyan.Sprint("↻ restart")
	default:
		return r.faint.Sprint(string(a))
	}
}

func (r *Reporter) status(s engine.OperationStatus) string {
	switch s {
	case engine.StatusSucceeded:
		return r.green.Sprint(string(s))
	case engine.StatusFailed:
		return r.red.Sprint(string(s))
	case engine.StatusSkippedDependencyFailed, engine.StatusSkippedCancelled:
		return r.yellow.Sprint(string(s))
	default:
		return r.faint.Sprint(string(s))
	}
}

func (r *Reporter) runStatus(s engine.RunStatus) string {
	switch s {
	case engine.RunStatusSucceeded:
		return r.green.Sprint(string(s))
	case engine.RunStatusFailed:
		return r.red.Sprint(string(s))
	default:
		return r.yellow.Sprint(string(s))
	}
}

func reason(op *engine.Operation) string {
	if len(op.Changes) == 0 {
		return op.Reason
	}
	parts := make([]string, 0, len(op.Changes))
	for _, c := range op.Changes {
		parts = append(parts, fmt.Sprintf("%s: %s → %s", c.Field, orNone(c.Before), orNone(c.After)))
	}
	return op.Reason + " (" + strings.Join(parts, ", ") + ")"
}

func entryError(e engine.ReportEntry) string {
	if e.RootCause != "" {
		return "dependency " + e.RootCause + " failed"
	}
	return e.Error
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return truncate(s, 24)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func attempts(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func duration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.Round(time.Millisecond).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
