package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vk/fedgridgo/internal/intrinsics"
	"github.com/zclconf/go-cty/cty"
)

// Leaf executes a single, non-federated unit of computation for one
// participant. Implementations must be safe for concurrent Invoke calls;
// Close releases whatever the leaf holds and makes further invocations
// fail with ErrStackUnusable.
type Leaf interface {
	Invoke(ctx context.Context, fn intrinsics.LocalFn, arg cty.Value) (cty.Value, error)
	Close() error
}

// localLeaf runs local computations in-process.
type localLeaf struct {
	id     int
	closed atomic.Bool
}

// newLocalLeaf allocates a ready in-process leaf.
func newLocalLeaf(id int) *localLeaf {
	return &localLeaf{id: id}
}

// Invoke applies fn to arg. A nil fn is the identity.
func (l *localLeaf) Invoke(ctx context.Context, fn intrinsics.LocalFn, arg cty.Value) (cty.Value, error) {
	if l.closed.Load() {
		return cty.NilVal, fmt.Errorf("leaf %d is closed: %w", l.id, ErrStackUnusable)
	}
	if err := ctx.Err(); err != nil {
		return cty.NilVal, err
	}
	if fn == nil {
		return arg, nil
	}
	out, err := fn(arg)
	if err != nil {
		return cty.NilVal, fmt.Errorf("leaf %d: %w", l.id, err)
	}
	return out, nil
}

// Close is idempotent; closing an already-closed leaf is a no-op.
func (l *localLeaf) Close() error {
	l.closed.Store(true)
	return nil
}
