package providers

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strconv"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/render"
	"github.com/provisio/provisio/pkg/stack"
	"github.com/provisio/provisio/pkg/transports"
)

// FileHandler manages rendered files, compared by content hash.
type FileHandler struct {
	runner transports.Runner
}

// NewFileHandler creates a file handler.
func NewFileHandler(runner transports.Runner) *FileHandler {
	return &FileHandler{runner: runner}
}

// Kind returns engine.KindFile.
func (h *FileHandler) Kind() engine.Kind { return engine.KindFile }

// Validate requires an absolute path and an octal mode.
func (h *FileHandler) Validate(res engine.Resource) error {
	if err := requireAttrs(res, stack.AttrPath, stack.AttrMode); err != nil {
		return err
	}
	if !path.IsAbs(res.Attr(stack.AttrPath)) {
		return engine.NewValidationError("file path must be absolute", nil).WithResource(res.ID())
	}
	if _, err := parseMode(res.Attr(stack.AttrMode)); err != nil {
		return engine.NewValidationError("invalid file mode", err).WithResource(res.ID())
	}
	return nil
}

// Probe hashes the file on the host.
func (h *FileHandler) Probe(ctx context.Context, res engine.Resource) (engine.Observed, error) {
	data, err := h.runner.ReadFile(ctx, res.Attr(stack.AttrPath))
	if errors.Is(err, fs.ErrNotExist) {
		return engine.Absent(res.ID()), nil
	}
	if err != nil {
		return engine.Observed{}, probeError(res, "failed to read file", err)
	}
	return engine.Observed{
		ResourceID: res.ID(),
		Present:    true,
		Signal:     stack.SignalSHA256Prefix + render.Hash(data),
	}, nil
}

// Apply writes the rendered content atomically.
func (h *FileHandler) Apply(ctx context.Context, op *engine.Operation) (bool, error) {
	mode, err := parseMode(op.Resource.Attr(stack.AttrMode))
	if err != nil {
		return false, engine.NewDeterministicError("invalid file mode", err).WithResource(op.ID)
	}
	if err := h.runner.WriteFile(ctx, op.Resource.Attr(stack.AttrPath), op.Resource.Content, mode); err != nil {
		return false, applyError(op, "failed to write file", err)
	}
	return true, nil
}

func parseMode(s string) (fs.FileMode, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	return fs.FileMode(m).Perm(), nil
}
