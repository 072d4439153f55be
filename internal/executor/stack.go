package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/ctxlog"
	"github.com/vk/fedgridgo/internal/intrinsics"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Stack is a composed executor: one leaf per simulated client plus a
// server leaf, sized for a fixed cardinality map. Execute dispatches a
// computation's plan across the leaves concurrently and joins the
// results; the aggregation step blocks until every leaf has reported or
// one has failed.
type Stack struct {
	registry *intrinsics.Registry
	cards    placement.Cardinalities
	workers  int

	clientLeaves []Leaf
	serverLeaf   Leaf

	broken    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStack builds a ready stack for the given (normalized) cardinality
// map. workers bounds the concurrent leaf dispatch fan-out; values below
// 1 run the fan-out fully parallel.
func NewStack(reg *intrinsics.Registry, cards placement.Cardinalities, workers int) (*Stack, error) {
	n, err := cards.Get(placement.Clients)
	if err != nil {
		return nil, err
	}
	s := &Stack{
		registry:   reg,
		cards:      cards,
		workers:    workers,
		serverLeaf: newLocalLeaf(-1),
	}
	s.clientLeaves = make([]Leaf, n)
	for i := range s.clientLeaves {
		s.clientLeaves[i] = newLocalLeaf(i)
	}
	return s, nil
}

// Cardinalities returns the cardinality map this stack was built for.
func (s *Stack) Cardinalities() placement.Cardinalities {
	return s.cards
}

// Broken reports whether a past failure left the stack's resources
// unusable. The factory evicts broken stacks instead of reusing them.
func (s *Stack) Broken() bool {
	return s.broken.Load()
}

// Execute resolves the computation to a plan and runs it. The stack
// remains usable after an execution failure unless the failure wraps
// ErrStackUnusable.
func (s *Stack) Execute(ctx context.Context, comp computation.Computation, arg *value.Federated) (*value.Federated, error) {
	logger := ctxlog.FromContext(ctx).With("computation", comp.String())
	if s.broken.Load() {
		return nil, fmt.Errorf("refusing computation on broken stack: %w", ErrStackUnusable)
	}

	plan, err := Resolve(s.registry, comp, s.cards, arg)
	if err != nil {
		return nil, err
	}

	if direct := plan.Direct(); direct != nil {
		logger.Debug("Plan requires no leaf dispatch.")
		return direct, nil
	}

	logger.Debug("Fanning computation out to leaves.", "leaves", plan.NumLeaves())
	results, err := s.fanOut(ctx, plan)
	if err != nil {
		if errors.Is(err, ErrStackUnusable) {
			s.broken.Store(true)
		}
		return nil, fmt.Errorf("computation %s failed: %w", comp, err)
	}

	if plan.aggregate == nil {
		if plan.shared != nil && len(results) > 0 {
			// All leaves computed over the same payload; keep one result
			// and preserve the broadcast form.
			return value.Broadcast(results[0]), nil
		}
		return value.AtClients(results), nil
	}

	// Join point: aggregation only starts once every leaf result is in.
	aggregated, err := plan.aggregate(ctx, results)
	if err != nil {
		return nil, fmt.Errorf("aggregation for %s failed: %w", comp, err)
	}
	final, err := s.serverLeaf.Invoke(ctx, nil, aggregated)
	if err != nil {
		if errors.Is(err, ErrStackUnusable) {
			s.broken.Store(true)
		}
		return nil, fmt.Errorf("server leaf failed for %s: %w", comp, err)
	}
	logger.Debug("Aggregation complete.")
	return value.AtServer(final), nil
}

// fanOut runs the plan's leaf dispatches on a bounded worker pool and
// returns the results ordered by leaf index. The first leaf failure
// cancels all outstanding sibling dispatches.
func (s *Stack) fanOut(ctx context.Context, plan *Plan) ([]cty.Value, error) {
	n := plan.NumLeaves()
	results := make([]cty.Value, n)
	if n == 0 {
		return results, nil
	}
	if n > len(s.clientLeaves) {
		return nil, &placement.CardinalityMismatchError{Placement: placement.Clients, Expected: len(s.clientLeaves), Actual: n}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := s.workers
	if workers < 1 || workers > n {
		workers = n
	}

	dispatchChan := make(chan int, n)
	for i := 0; i < n; i++ {
		dispatchChan <- i
	}
	close(dispatchChan)

	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range dispatchChan {
				if runCtx.Err() != nil {
					errs[i] = runCtx.Err()
					continue
				}
				out, err := s.clientLeaves[i].Invoke(runCtx, plan.leafFn, plan.ArgFor(i))
				if err != nil {
					errs[i] = err
					cancel()
					continue
				}
				results[i] = out
			}
		}()
	}
	wg.Wait()

	// Surface the first real failure; cancellations of siblings are a
	// symptom, not a cause.
	var rootCause error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, ErrStackUnusable) {
			return nil, err
		}
		if rootCause == nil && !errors.Is(err, context.Canceled) {
			rootCause = err
		}
	}
	if rootCause == nil {
		// Only cancellations remain: the caller's context was cancelled.
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	}
	if rootCause != nil {
		return nil, rootCause
	}
	return results, nil
}

// Close tears down every leaf. It is idempotent; leaf close failures are
// aggregated into a ResourceTeardownError and always reported.
func (s *Stack) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, leaf := range s.clientLeaves {
			if err := leaf.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.serverLeaf.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.closeErr = &ResourceTeardownError{Err: errors.Join(errs...)}
		}
	})
	return s.closeErr
}
