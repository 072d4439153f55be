// Package intrinsics holds the registry of federated intrinsics and the
// local functions they apply at individual participants. Modules register
// handlers here; the executor resolves computations against the registry
// when building execution plans.
package intrinsics

import (
	"context"
	"fmt"

	"github.com/vk/fedgridgo/internal/placement"
	"github.com/zclconf/go-cty/cty"
)

// LocalFn is a pure, per-participant transformation. It must be safe to
// call concurrently from many leaves.
type LocalFn func(cty.Value) (cty.Value, error)

// AggregateFn folds per-leaf results, ordered by leaf index, into a
// single server-placed value. It is the join point of a fan-out; it runs
// once, after every leaf has reported.
type AggregateFn func(ctx context.Context, results []cty.Value) (cty.Value, error)

// Registered describes one intrinsic's dispatch contract.
type Registered struct {
	Description string

	// ArgAt is the placement the argument must live at. Empty means the
	// intrinsic takes a raw, unplaced payload.
	ArgAt placement.Name

	// TakesFn marks intrinsics whose leaf step is named by the
	// computation rather than fixed at registration.
	TakesFn bool

	// Leaf is the fixed per-participant step. Nil means identity.
	Leaf LocalFn

	// Aggregate folds leaf results at the server placement. Nil means the
	// result stays where the leaves produced it.
	Aggregate AggregateFn

	// ResultAt and ResultAllEqual declare the placement contract of the
	// produced value.
	ResultAt       placement.Name
	ResultAllEqual bool
}

// Module is the interface all intrinsic bundles implement to be
// registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the registered intrinsics and local functions for a
// single application instance.
type Registry struct {
	IntrinsicRegistry map[string]*Registered
	LocalFnRegistry   map[string]LocalFn
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		IntrinsicRegistry: make(map[string]*Registered),
		LocalFnRegistry:   make(map[string]LocalFn),
	}
}

// RegisterIntrinsic adds an intrinsic to the registry. Re-registering a
// name overwrites the previous entry; last module wins.
func (r *Registry) RegisterIntrinsic(name string, reg *Registered) {
	r.IntrinsicRegistry[name] = reg
}

// RegisterLocalFn adds a named per-participant function.
func (r *Registry) RegisterLocalFn(name string, fn LocalFn) {
	r.LocalFnRegistry[name] = fn
}

// Intrinsic looks up a registered intrinsic by name.
func (r *Registry) Intrinsic(name string) (*Registered, error) {
	reg, ok := r.IntrinsicRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown intrinsic %q", name)
	}
	return reg, nil
}

// LocalFn looks up a registered local function by name.
func (r *Registry) LocalFn(name string) (LocalFn, error) {
	fn, ok := r.LocalFnRegistry[name]
	if !ok {
		return nil, fmt.Errorf("local function %q not registered", name)
	}
	return fn, nil
}

// Validate checks the integrity of the registry after all modules have
// registered. A mismatch here is a programmer error surfaced at startup,
// not at request time.
func (r *Registry) Validate() error {
	for name, reg := range r.IntrinsicRegistry {
		if reg == nil {
			return fmt.Errorf("intrinsic %q registered with nil contract", name)
		}
		if reg.ResultAt == "" {
			return fmt.Errorf("intrinsic %q declares no result placement", name)
		}
		if reg.Aggregate != nil && reg.ResultAt != placement.Server {
			return fmt.Errorf("intrinsic %q aggregates but does not place its result at the server", name)
		}
		if reg.TakesFn && reg.Leaf != nil {
			return fmt.Errorf("intrinsic %q both takes a named fn and fixes a leaf step", name)
		}
	}
	return nil
}
