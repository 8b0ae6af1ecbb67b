package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/provisio/provisio/pkg/engine"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitProbe     = 2
	ExitCancelled = 130
)

// exitError carries an exit code for an outcome that has already been
// reported, such as a failed run.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// ExitCode maps an error returned by a command to the process exit code.
// Cancellation wins over every other class.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	switch engine.ClassOf(err) {
	case engine.ErrorClassCancelled:
		return ExitCancelled
	case engine.ErrorClassProbe:
		return ExitProbe
	default:
		return ExitFailure
	}
}

// reportExit converts a run status into the command result.
func reportExit(report *engine.Report) error {
	switch report.Status {
	case engine.RunStatusSucceeded:
		return nil
	case engine.RunStatusCancelled:
		return &exitError{code: ExitCancelled, msg: fmt.Sprintf("run %s was cancelled", report.RunID)}
	default:
		return &exitError{code: ExitFailure, msg: fmt.Sprintf("run %s failed: %d operations failed, %d skipped",
			report.RunID, report.Counts.Failed, report.Counts.SkippedDependency)}
	}
}
