package providers

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/stack"
	"github.com/provisio/provisio/pkg/transports"
)

// probeError classifies a failed probe. A missing tool is reported as such
// so the state reader can treat resources a planned package will fix as
// absent.
func probeError(res engine.Resource, msg string, err error) error {
	if tool, ok := transports.IsToolMissing(err); ok {
		return engine.NewToolMissingError(tool, err).WithResource(res.ID())
	}
	return engine.NewProbeError(msg, err).WithResource(res.ID())
}

// applyError classifies a failed apply. Missing tools and permission
// errors will not go away on retry; anything else is left for the executor
// to classify by kind.
func applyError(op *engine.Operation, msg string, err error) error {
	if tool, ok := transports.IsToolMissing(err); ok {
		return engine.NewDeterministicError(fmt.Sprintf("%s: required tool %q not found", msg, tool), err).
			WithCode(engine.ErrCodeToolMissing).
			WithDetail("tool", tool).
			WithResource(op.ID)
	}
	if errors.Is(err, fs.ErrPermission) {
		return engine.NewDeterministicError(msg, err).
			WithCode(engine.ErrCodePermission).
			WithResource(op.ID)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// requireAttrs reports missing attributes as a validation error.
func requireAttrs(res engine.Resource, keys ...string) error {
	for _, k := range keys {
		if res.Attr(k) == "" {
			return engine.NewValidationError(fmt.Sprintf("attribute %q is required", k), nil).
				WithResource(res.ID())
		}
	}
	return nil
}

func runningSignal(hash string, running bool) string {
	if running {
		return stack.SignalRunningPrefix + hash
	}
	return stack.SignalStoppedPrefix + hash
}
