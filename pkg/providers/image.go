package providers

import (
	"context"
	"strings"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/render"
	"github.com/provisio/provisio/pkg/stack"
	"github.com/provisio/provisio/pkg/transports"
)

// ImageHandler builds the application image with docker. The build hash is
// stored as an image label and compared against the desired signal.
type ImageHandler struct {
	runner transports.Runner
}

// NewImageHandler creates an image handler.
func NewImageHandler(runner transports.Runner) *ImageHandler {
	return &ImageHandler{runner: runner}
}

// Kind returns engine.KindImage.
func (h *ImageHandler) Kind() engine.Kind { return engine.KindImage }

// Validate requires the tag, Dockerfile and build context.
func (h *ImageHandler) Validate(res engine.Resource) error {
	return requireAttrs(res, stack.AttrTag, stack.AttrDockerfile, stack.AttrBuildContext)
}

// Probe reads the build hash label of the tagged image.
func (h *ImageHandler) Probe(ctx context.Context, res engine.Resource) (engine.Observed, error) {
	out, err := h.runner.Run(ctx, transports.Command{
		Name: "docker",
		Args: []string{
			"image", "inspect",
			"--format", `{{ index .Config.Labels "` + render.LabelBuildHash + `" }}`,
			res.Attr(stack.AttrTag),
		},
	})
	if err != nil {
		if isNoSuchObject(out.Stderr) {
			return engine.Absent(res.ID()), nil
		}
		return engine.Observed{}, probeError(res, "failed to inspect image", err)
	}
	return engine.Observed{
		ResourceID: res.ID(),
		Present:    true,
		Signal:     labelValue(out.Stdout),
	}, nil
}

// Apply builds and tags the image.
func (h *ImageHandler) Apply(ctx context.Context, op *engine.Operation) (bool, error) {
	res := op.Resource
	_, err := h.runner.Run(ctx, transports.Command{
		Name: "docker",
		Args: []string{
			"build",
			"-t", res.Attr(stack.AttrTag),
			"--label", render.LabelBuildHash + "=" + res.Signal,
			"-f", res.Attr(stack.AttrDockerfile),
			res.Attr(stack.AttrBuildContext),
		},
	})
	if err != nil {
		return false, applyError(op, "docker build failed", err)
	}
	return true, nil
}

func isNoSuchObject(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such image") ||
		strings.Contains(s, "no such object") ||
		strings.Contains(s, "no such container")
}

// labelValue normalises template output for a missing label.
func labelValue(stdout string) string {
	v := strings.TrimSpace(stdout)
	if v == "<no value>" {
		return ""
	}
	return v
}
