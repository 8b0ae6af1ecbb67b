package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/render"
	"github.com/provisio/provisio/pkg/stack"
	"github.com/provisio/provisio/pkg/transports"
)

// ServiceHandler manages one compose service. Its signal combines the
// running flag and the definition hash label of the container.
type ServiceHandler struct {
	runner transports.Runner
}

// NewServiceHandler creates a service handler.
func NewServiceHandler(runner transports.Runner) *ServiceHandler {
	return &ServiceHandler{runner: runner}
}

// Kind returns engine.KindService.
func (h *ServiceHandler) Kind() engine.Kind { return engine.KindService }

// Validate requires the compose coordinates of the service.
func (h *ServiceHandler) Validate(res engine.Resource) error {
	return requireAttrs(res, stack.AttrProject, stack.AttrComposeFile, stack.AttrService, stack.AttrContainer)
}

// Probe inspects the service's container. No container means absent.
func (h *ServiceHandler) Probe(ctx context.Context, res engine.Resource) (engine.Observed, error) {
	running, hash, found, err := h.inspect(ctx, res.Attr(stack.AttrContainer))
	if err != nil {
		return engine.Observed{}, probeError(res, "failed to inspect container", err)
	}
	if !found {
		return engine.Absent(res.ID()), nil
	}
	return engine.Observed{
		ResourceID: res.ID(),
		Present:    true,
		Signal:     runningSignal(hash, running),
		Attributes: map[string]string{"running": fmt.Sprint(running)},
	}, nil
}

func (h *ServiceHandler) inspect(ctx context.Context, container string) (running bool, hash string, found bool, err error) {
	out, err := h.runner.Run(ctx, transports.Command{
		Name: "docker",
		Args: []string{
			"container", "inspect",
			"--format", `{{ .State.Running }} {{ index .Config.Labels "` + render.LabelDefinitionHash + `" }}`,
			container,
		},
	})
	if err != nil {
		if isNoSuchObject(out.Stderr) {
			return false, "", false, nil
		}
		return false, "", false, err
	}

	state, label, _ := strings.Cut(strings.TrimSpace(out.Stdout), " ")
	return state == "true", labelValue(label), true, nil
}

// Apply brings the service up. Restarts force the container to be
// recreated so it picks up changed mounts, env files and images.
func (h *ServiceHandler) Apply(ctx context.Context, op *engine.Operation) (bool, error) {
	res := op.Resource
	args := []string{
		"compose",
		"-p", res.Attr(stack.AttrProject),
		"-f", res.Attr(stack.AttrComposeFile),
		"up", "-d", "--no-deps",
	}
	if op.Action == engine.ActionRestart {
		args = append(args, "--force-recreate")
	}
	args = append(args, res.Attr(stack.AttrService))

	out, err := h.runner.Run(ctx, transports.Command{Name: "docker", Args: args})
	if err != nil {
		if strings.Contains(out.Stderr, "is not a docker command") {
			return false, applyError(op, "docker compose failed",
				&transports.ToolMissingError{Tool: stack.ToolDockerCompose, Err: err})
		}
		return false, applyError(op, "docker compose up failed", err)
	}

	running, _, found, err := h.inspect(ctx, res.Attr(stack.AttrContainer))
	if err != nil {
		return false, applyError(op, "failed to verify container", err)
	}
	if !found || !running {
		return false, engine.NewTransientError("container is not running after compose up", nil).
			WithResource(op.ID).
			WithCode(engine.ErrCodeCommandFailed)
	}
	return true, nil
}
