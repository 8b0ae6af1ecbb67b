// Package providers implements the resource handlers that probe and
// reconcile packages, certificates, files, images and compose services on a
// host reached through a transports.Runner.
package providers

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/transports"
)

// Registry maps resource kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[engine.Kind]engine.Handler
}

var _ engine.HandlerRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[engine.Kind]engine.Handler)}
}

// Default returns a registry with a handler for every kind, all acting
// through runner.
func Default(runner transports.Runner, logger zerolog.Logger) *Registry {
	r := NewRegistry()
	for _, h := range []engine.Handler{
		NewPackageHandler(runner, logger),
		NewCertHandler(runner, time.Now),
		NewFileHandler(runner),
		NewImageHandler(runner),
		NewServiceHandler(runner),
	} {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a handler. Registering a kind twice is an error.
func (r *Registry) Register(h engine.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.Kind()]; exists {
		return fmt.Errorf("handler for kind %s already registered", h.Kind())
	}
	r.handlers[h.Kind()] = h
	return nil
}

// Handler returns the handler for kind.
func (r *Registry) Handler(kind engine.Kind) (engine.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, engine.NewValidationError(fmt.Sprintf("no handler for kind %s", kind), nil).
			WithCode(engine.ErrCodeUnknownKind)
	}
	return h, nil
}

// Kinds returns the registered kinds in priority order.
func (r *Registry) Kinds() []engine.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]engine.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	slices.SortFunc(kinds, func(a, b engine.Kind) int { return a.Priority() - b.Priority() })
	return kinds
}
