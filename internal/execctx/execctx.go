// Package execctx provides an explicitly constructed execution context:
// the object that owns a factory and runs federated computations against
// it. A process-wide default exists only behind explicit SetDefault /
// ResetDefault calls with a defined teardown hook; nothing here mutates
// ambient state implicitly.
package execctx

import (
	"context"
	"errors"
	"sync"

	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/factory"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
)

// ExecutionContext executes computations through a factory it owns. The
// zero value is not usable; construct with New.
type ExecutionContext struct {
	factory factory.Factory

	mu     sync.Mutex
	closed bool
}

// New wraps a factory in an execution context. The context takes
// ownership: Close tears the factory down.
func New(f factory.Factory) (*ExecutionContext, error) {
	if f == nil {
		return nil, errors.New("execution context requires a factory")
	}
	return &ExecutionContext{factory: f}, nil
}

// Execute creates (or reuses) an executor for the given cardinalities,
// runs one computation, and releases the executor reference before
// returning. The factory's caching policy decides whether the executor
// itself survives for the next call.
func (e *ExecutionContext) Execute(ctx context.Context, comp computation.Computation, arg *value.Federated, cards placement.Cardinalities) (*value.Federated, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New("execution context is closed")
	}
	e.mu.Unlock()

	h, err := e.factory.CreateExecutor(ctx, cards)
	if err != nil {
		return nil, err
	}
	out, execErr := e.factory.Execute(ctx, h, comp, arg)
	if relErr := e.factory.ReleaseExecutor(ctx, h); relErr != nil && execErr == nil {
		// A teardown failure is reported, but never masks a computation
		// error when both occur.
		return nil, relErr
	}
	return out, execErr
}

// Close tears down the owned factory. Idempotent.
func (e *ExecutionContext) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.factory.Close(ctx)
}

var (
	defaultMu  sync.Mutex
	defaultCtx *ExecutionContext
)

// SetDefault installs a process-wide default execution context and
// returns a teardown hook that resets it (and closes the context). A
// second SetDefault before teardown replaces the default without closing
// the previous one; the previous owner keeps responsibility for it.
func SetDefault(e *ExecutionContext) (teardown func(context.Context) error) {
	defaultMu.Lock()
	defaultCtx = e
	defaultMu.Unlock()
	return func(ctx context.Context) error {
		ResetDefault()
		return e.Close(ctx)
	}
}

// Default returns the installed process-wide execution context, or nil
// when none was explicitly set.
func Default() *ExecutionContext {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultCtx
}

// ResetDefault clears the process-wide default without closing it.
func ResetDefault() {
	defaultMu.Lock()
	defaultCtx = nil
	defaultMu.Unlock()
}
