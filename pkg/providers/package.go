package providers

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/stack"
	"github.com/provisio/provisio/pkg/transports"
)

// PackageHandler manages Debian packages through dpkg-query and apt-get.
type PackageHandler struct {
	runner transports.Runner
	logger zerolog.Logger

	// mu serialises apt-get; dpkg holds a host-wide lock.
	mu      sync.Mutex
	updated bool
}

// NewPackageHandler creates a package handler.
func NewPackageHandler(runner transports.Runner, logger zerolog.Logger) *PackageHandler {
	return &PackageHandler{
		runner: runner,
		logger: logger.With().Str("component", "package_handler").Logger(),
	}
}

// Kind returns engine.KindPackage.
func (h *PackageHandler) Kind() engine.Kind { return engine.KindPackage }

// Validate requires the package name attribute.
func (h *PackageHandler) Validate(res engine.Resource) error {
	return requireAttrs(res, stack.AttrPackage)
}

// Probe reports the package as installed only when dpkg says
// "install ok installed". Unknown and half-removed packages are absent.
func (h *PackageHandler) Probe(ctx context.Context, res engine.Resource) (engine.Observed, error) {
	name := res.Attr(stack.AttrPackage)
	out, err := h.runner.Run(ctx, transports.Command{
		Name: "dpkg-query",
		Args: []string{"-W", "-f=${Status}", name},
	})
	if err != nil {
		if transports.ExitCode(err) == 1 {
			return engine.Absent(res.ID()), nil
		}
		return engine.Observed{}, probeError(res, "failed to query package status", err)
	}

	if strings.TrimSpace(out.Stdout) != "install ok installed" {
		return engine.Absent(res.ID()), nil
	}
	return engine.Observed{
		ResourceID: res.ID(),
		Present:    true,
		Signal:     stack.SignalInstalled,
	}, nil
}

// Apply installs the package. The package index is refreshed once per
// handler before the first install.
func (h *PackageHandler) Apply(ctx context.Context, op *engine.Operation) (bool, error) {
	name := op.Resource.Attr(stack.AttrPackage)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.updated {
		if _, err := h.apt(ctx, "update"); err != nil {
			return false, applyError(op, "apt-get update failed", err)
		}
		h.updated = true
	}

	h.logger.Info().Str("package", name).Msg("Installing package")
	if res, err := h.apt(ctx, "install", "-y", "--no-install-recommends", name); err != nil {
		if strings.Contains(res.Stderr, "Unable to locate package") {
			return false, engine.NewDeterministicError("package not found in any repository", err).
				WithResource(op.ID).
				WithCode(engine.ErrCodeCommandFailed)
		}
		return false, applyError(op, "apt-get install failed", err)
	}
	return true, nil
}

func (h *PackageHandler) apt(ctx context.Context, args ...string) (transports.Result, error) {
	return h.runner.Run(ctx, transports.Command{
		Name: "apt-get",
		Args: append([]string{"-q"}, args...),
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	})
}
