package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeHandler serves every kind from an in-memory host model.
type fakeHandler struct {
	kind Kind

	mu        sync.Mutex
	host      *fakeHost
	applyFunc func(op *Operation, attempt int) (bool, error)
	attempts  map[string]int
	delay     time.Duration
}

func (h *fakeHandler) Kind() Kind { return h.kind }

func (h *fakeHandler) Validate(res Resource) error {
	if res.Attr("invalid") != "" {
		return NewValidationError("invalid attribute", nil).WithResource(res.ID())
	}
	return nil
}

func (h *fakeHandler) Probe(ctx context.Context, res Resource) (Observed, error) {
	return h.host.probe(res)
}

func (h *fakeHandler) Apply(ctx context.Context, op *Operation) (bool, error) {
	h.mu.Lock()
	if h.attempts == nil {
		h.attempts = make(map[string]int)
	}
	h.attempts[op.ID]++
	attempt := h.attempts[op.ID]
	fn := h.applyFunc
	h.mu.Unlock()

	h.host.begin(op.ID)
	defer h.host.end(op.ID)

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	changed := true
	if fn != nil {
		var err error
		changed, err = fn(op, attempt)
		if err != nil {
			return false, err
		}
	}
	h.host.set(Observed{ResourceID: op.ID, Present: true, Signal: op.Resource.Signal})
	return changed, nil
}

// fakeHost records observed state and the execution timeline.
type fakeHost struct {
	mu        sync.Mutex
	state     map[string]Observed
	probeErrs map[string]error
	started   map[string]time.Time
	finished  map[string]time.Time
	order     []string
	running   int
	peak      int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		state:     make(map[string]Observed),
		probeErrs: make(map[string]error),
		started:   make(map[string]time.Time),
		finished:  make(map[string]time.Time),
	}
}

func (h *fakeHost) probe(res Resource) (Observed, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.probeErrs[res.ID()]; err != nil {
		return Observed{}, err
	}
	if o, ok := h.state[res.ID()]; ok {
		return o, nil
	}
	return Absent(res.ID()), nil
}

func (h *fakeHost) set(o Observed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state[o.ResourceID] = o
}

func (h *fakeHost) begin(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started[id] = time.Now()
	h.order = append(h.order, id)
	h.running++
	h.peak = max(h.peak, h.running)
}

func (h *fakeHost) end(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished[id] = time.Now()
	h.running--
}

// converge marks resources as matching their desired signal.
func (h *fakeHost) converge(resources ...Resource) {
	for _, res := range resources {
		h.set(Observed{ResourceID: res.ID(), Present: true, Signal: res.Signal})
	}
}

// fakeRegistry returns the same fakeHandler for every kind.
type fakeRegistry struct {
	handler *fakeHandler
}

func newFakeRegistry(host *fakeHost) *fakeRegistry {
	return &fakeRegistry{handler: &fakeHandler{host: host}}
}

func (r *fakeRegistry) Handler(kind Kind) (Handler, error) {
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("no handler: %w", err)
	}
	return r.handler, nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	runs       []string
}

func (m *recordingMetrics) RecordProbe(string, float64, error) {}

func (m *recordingMetrics) RecordOperation(kind, action, status string, seconds float64, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.operations == nil {
		m.operations = make(map[string]int)
	}
	m.operations[status]++
}

func (m *recordingMetrics) RecordRun(status string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, status)
}

// res builds a resource with the given signal and dependencies.
func res(kind Kind, name, signal string, deps ...Dependency) Resource {
	return Resource{Kind: kind, Name: name, Signal: signal, Dependencies: deps}
}

// scenarioResources is the proxy topology: the proxy depends on its cert,
// its site config and the app service.
func scenarioResources() []Resource {
	return []Resource{
		res(KindService, "proxy", "running:p1",
			Notify("cert.proxy"), Notify("file.proxy-config"), Require("service.app")),
		res(KindService, "app", "running:a1"),
		res(KindService, "db", "running:d1"),
		res(KindCert, "proxy", "cn=10.0.0.5"),
		res(KindFile, "proxy-config", "sha256:n1"),
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func ids(ops []*Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.ID)
	}
	return out
}
