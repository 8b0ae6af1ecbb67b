package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// StateReader probes the host for the current state of desired resources.
type StateReader struct {
	registry HandlerRegistry
	opts     options
}

// NewStateReader creates a state reader backed by the given handlers.
func NewStateReader(registry HandlerRegistry, opts ...Option) *StateReader {
	return &StateReader{
		registry: registry,
		opts:     buildOptions(opts),
	}
}

// Read probes all resources concurrently and returns an immutable snapshot.
// Any probe error aborts the read; no partial snapshot is returned.
func (r *StateReader) Read(ctx context.Context, desired []Resource) (*Snapshot, error) {
	ctx, span := r.opts.tracer.Start(ctx, "engine.read_state")
	defer span.End()

	provided := providedTools(desired)
	logger := r.opts.logger.With().Str("component", "state_reader").Logger()

	var (
		mu           sync.Mutex
		observations = make([]Observed, 0, len(desired))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.probeConcurrency)
	for _, res := range desired {
		g.Go(func() error {
			obs, err := r.probe(gctx, res, provided)
			if err != nil {
				return err
			}
			logger.Debug().
				Str("resource", res.ID()).
				Bool("present", obs.Present).
				Str("signal", obs.Signal).
				Msg("Probed resource")

			mu.Lock()
			observations = append(observations, obs)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("resources", len(observations)))
	return NewSnapshot(time.Now().UTC(), observations...), nil
}

func (r *StateReader) probe(ctx context.Context, res Resource, provided map[string]string) (Observed, error) {
	if err := ctx.Err(); err != nil {
		return Observed{}, NewCancelledError("probe cancelled", err).WithResource(res.ID())
	}

	handler, err := r.registry.Handler(res.Kind)
	if err != nil {
		return Observed{}, NewValidationError("no handler for resource", err).
			WithCode(ErrCodeUnknownKind).WithResource(res.ID())
	}

	start := time.Now()
	obs, err := handler.Probe(ctx, res)
	r.opts.metrics.RecordProbe(string(res.Kind), time.Since(start).Seconds(), err)
	if err == nil {
		obs.ResourceID = res.ID()
		return obs, nil
	}

	if tool, ok := ToolOf(err); ok {
		if pkg, found := provided[tool]; found {
			r.opts.logger.Debug().
				Str("resource", res.ID()).
				Str("tool", tool).
				Str("provided_by", pkg).
				Msg("Tool not installed yet, treating resource as absent")
			return Absent(res.ID()), nil
		}
	}

	if IsProbe(err) || IsCancelled(err) {
		if e, ok := err.(*Error); ok && e.Resource == "" {
			e.WithResource(res.ID())
		}
		return Observed{}, err
	}
	return Observed{}, NewProbeError("probe failed", err).WithResource(res.ID())
}

// providedTools maps tool names to the package resource that installs them.
func providedTools(desired []Resource) map[string]string {
	tools := make(map[string]string)
	for _, res := range desired {
		if res.Kind != KindPackage {
			continue
		}
		for _, tool := range res.Provides {
			tools[tool] = res.ID()
		}
	}
	return tools
}
