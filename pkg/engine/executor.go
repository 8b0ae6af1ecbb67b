package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ParallelExecutor applies plans with a fixed pool of workers.
// A single coordinator owns the plan bookkeeping; workers only run
// operations and hand results back over a channel.
type ParallelExecutor struct {
	registry HandlerRegistry
	opts     options
}

// NewExecutor creates a parallel executor.
func NewExecutor(registry HandlerRegistry, opts ...Option) *ParallelExecutor {
	return &ParallelExecutor{
		registry: registry,
		opts:     buildOptions(opts),
	}
}

// Apply executes the plan and returns one result per operation, in plan order.
// Cancelling ctx stops dispatching; operations already running finish and
// the rest become skipped_cancelled.
func (e *ParallelExecutor) Apply(ctx context.Context, plan *Plan) ([]OperationResult, error) {
	if plan == nil {
		return nil, NewValidationError("plan is nil", nil)
	}

	run := newRunState(plan)
	workers := min(e.opts.workers, max(len(plan.Operations), 1))

	work := make(chan *Operation)
	done := make(chan OperationResult)
	workerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for op := range work {
				done <- e.execute(workerCtx, op)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	inflight := 0
	for {
		for inflight < workers && ctx.Err() == nil {
			op, ok := run.next()
			if !ok {
				break
			}
			work <- op
			inflight++
		}

		if ctx.Err() != nil {
			if n := run.cancelPending(); n > 0 {
				e.opts.logger.Warn().
					Int("skipped", n).
					Int("in_flight", inflight).
					Msg("Run cancelled, skipping operations that have not started")
			}
		}

		if inflight == 0 {
			break
		}

		res := <-done
		inflight--
		run.complete(res)
		if res.Status == StatusFailed {
			for _, skipped := range run.skipDependents(res.OperationID) {
				e.opts.logger.Warn().
					Str("operation_id", skipped).
					Str("root_cause", res.OperationID).
					Msg("Skipping operation because a dependency failed")
			}
		}
	}

	return run.results(), nil
}

// execute runs a single operation with its retry policy.
func (e *ParallelExecutor) execute(ctx context.Context, op *Operation) OperationResult {
	result := OperationResult{
		OperationID: op.ID,
		Kind:        op.Resource.Kind,
		Action:      op.Action,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	ctx, span := e.opts.tracer.Start(ctx, "engine.apply_operation")
	span.SetAttributes(
		attribute.String("operation.id", op.ID),
		attribute.String("operation.action", string(op.Action)),
		attribute.String("resource.kind", string(op.Resource.Kind)),
	)
	defer span.End()

	logger := e.opts.logger.With().
		Str("operation_id", op.ID).
		Str("action", string(op.Action)).
		Logger()
	logger.Info().Msg("Operation started")

	changed, err := e.applyWithRetry(ctx, op, &result.Attempts)

	result.FinishedAt = time.Now().UTC()
	switch {
	case err != nil:
		result.Status = StatusFailed
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Int("attempts", result.Attempts).Msg("Operation failed")
	case !changed:
		result.Status = StatusSkippedConverged
		logger.Info().Msg("Resource already converged")
	default:
		result.Status = StatusSucceeded
		logger.Info().Dur("duration", result.Duration()).Msg("Operation succeeded")
	}

	e.opts.metrics.RecordOperation(string(op.Resource.Kind), string(op.Action),
		string(result.Status), result.Duration().Seconds(), result.Attempts)
	return result
}

func (e *ParallelExecutor) applyWithRetry(ctx context.Context, op *Operation, attempts *int) (bool, error) {
	handler, err := e.registry.Handler(op.Resource.Kind)
	if err != nil {
		return false, NewDeterministicError("no handler for resource", err).
			WithCode(ErrCodeUnknownKind).WithResource(op.ID)
	}

	maxAttempts := max(op.Retry.MaxAttempts, 1)
	operation := func() (bool, error) {
		*attempts++
		changed, err := handler.Apply(ctx, op)
		if err == nil {
			return changed, nil
		}
		err = classifyError(op, err)
		if !IsRetryable(err) {
			return false, backoff.Permanent(err)
		}
		if *attempts < maxAttempts {
			e.opts.logger.Warn().
				Err(err).
				Str("operation_id", op.ID).
				Int("attempt", *attempts).
				Int("max_attempts", maxAttempts).
				Msg("Transient failure, retrying")
		}
		return false, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff(op.Retry)),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
}

// newBackOff builds an exponential policy without jitter: base, 2*base, ... capped at max.
func newBackOff(policy RetryPolicy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultRetryPolicy.BaseDelay
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	return b
}

// classifyError tags an unclassified handler error by the operation's kind.
func classifyError(op *Operation, err error) error {
	var classified *Error
	switch ClassOf(err) {
	case ErrorClassTransient, ErrorClassDeterministic:
		_ = errors.As(err, &classified)
	}
	if classified == nil {
		if op.Resource.Kind.TransientProne() && op.Retry.MaxAttempts > 1 {
			classified = NewTransientError("apply failed", err)
		} else {
			classified = NewDeterministicError("apply failed", err)
		}
	}
	if classified.Resource == "" {
		classified.WithResource(op.ID)
	}
	if classified.Operation == "" {
		classified.WithOperation(string(op.Action))
	}
	if classified.Code == "" {
		classified.WithCode(ErrCodeCommandFailed)
	}
	return classified
}

// runState is the coordinator's view of a plan in flight. It is not safe
// for concurrent use and is only touched by the coordinator goroutine.
type runState struct {
	plan       *Plan
	status     map[string]*OperationResult
	pending    map[string]int
	dependents map[string][]string
	ready      []*Operation
}

func newRunState(plan *Plan) *runState {
	s := &runState{
		plan:       plan,
		status:     make(map[string]*OperationResult, len(plan.Operations)),
		pending:    make(map[string]int, len(plan.Operations)),
		dependents: make(map[string][]string),
	}
	for _, op := range plan.Operations {
		s.status[op.ID] = &OperationResult{
			OperationID: op.ID,
			Kind:        op.Resource.Kind,
			Action:      op.Action,
			Status:      StatusPlanned,
		}
		s.pending[op.ID] = len(op.Dependencies)
		for _, dep := range op.Dependencies {
			s.dependents[dep] = append(s.dependents[dep], op.ID)
		}
		if len(op.Dependencies) == 0 {
			s.ready = append(s.ready, op)
		}
	}
	s.sortReady()
	return s
}

// next pops the first ready operation in plan order and marks it running.
func (s *runState) next() (*Operation, bool) {
	if len(s.ready) == 0 {
		return nil, false
	}
	op := s.ready[0]
	s.ready = s.ready[1:]
	s.status[op.ID].Status = StatusRunning
	return op, true
}

// complete records a worker result and releases dependents that became ready.
func (s *runState) complete(res OperationResult) {
	current := s.status[res.OperationID]
	if current == nil || !current.Status.CanTransitionTo(res.Status) {
		return
	}
	*current = res
	if !res.Status.IsSuccessful() {
		return
	}
	for _, dependent := range s.dependents[res.OperationID] {
		s.pending[dependent]--
		if s.pending[dependent] == 0 && s.status[dependent].Status == StatusPlanned {
			op, _ := s.plan.Operation(dependent)
			s.ready = append(s.ready, op)
		}
	}
	s.sortReady()
}

// skipDependents marks every planned transitive dependent of a failed
// operation as skipped and returns their IDs.
func (s *runState) skipDependents(failedID string) []string {
	var skipped []string
	now := time.Now().UTC()
	queue := slices.Clone(s.dependents[failedID])
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		res := s.status[id]
		if res.Status != StatusPlanned {
			continue
		}
		res.Status = StatusSkippedDependencyFailed
		res.RootCause = failedID
		res.FinishedAt = now
		res.Err = NewDeterministicError("dependency failed", nil).
			WithCode(ErrCodeDependencyFailed).
			WithResource(id).
			WithDetail("root_cause", failedID)
		skipped = append(skipped, id)
		queue = append(queue, s.dependents[id]...)
	}
	return skipped
}

// cancelPending marks every operation that has not started as cancelled.
func (s *runState) cancelPending() int {
	n := 0
	now := time.Now().UTC()
	for _, op := range s.plan.Operations {
		res := s.status[op.ID]
		if res.Status != StatusPlanned {
			continue
		}
		res.Status = StatusSkippedCancelled
		res.FinishedAt = now
		res.Err = NewCancelledError("run cancelled before operation started", nil).WithResource(op.ID)
		n++
	}
	s.ready = nil
	return n
}

func (s *runState) sortReady() {
	slices.SortFunc(s.ready, func(a, b *Operation) int {
		return a.Order - b.Order
	})
}

func (s *runState) results() []OperationResult {
	out := make([]OperationResult, 0, len(s.plan.Operations))
	for _, op := range s.plan.Operations {
		out = append(out, *s.status[op.ID])
	}
	return out
}
