// Package factory constructs and caches composed executors keyed by
// their cardinality map, and owns the reference-counted release of the
// resources they hold.
package factory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/intrinsics"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
)

// Kind tags the factory variants. Every variant implements the same
// Factory contract; extra telemetry (sizing) is exposed through an
// explicit secondary channel, never inferred from the concrete type at
// call sites.
type Kind string

const (
	// KindStandard builds plain resource-managing factories.
	KindStandard Kind = "standard"
	// KindSizing additionally accounts the payload volume moved between
	// placements.
	KindSizing Kind = "sizing"
)

// ReusePolicy controls whether identical cardinality maps share one
// underlying executor.
type ReusePolicy string

const (
	// ReuseShare returns handles backed by the same executor for
	// identical cardinality maps; teardown is reference counted.
	ReuseShare ReusePolicy = "share"
	// ReuseFresh always builds a fresh executor per create call.
	ReuseFresh ReusePolicy = "fresh"
)

// Handle is an opaque, reference-countable reference to a constructed,
// ready executor. Handles are owned by the caller that created them and
// returned to the factory through ReleaseExecutor.
type Handle struct {
	id  uuid.UUID
	key string
}

// ID returns the handle's unique identity.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Key returns the canonical cardinality key the handle is bound to.
func (h *Handle) Key() string {
	return h.key
}

func newHandle(key string) *Handle {
	return &Handle{id: uuid.New(), key: key}
}

// Factory is the capability interface all executor factory variants
// implement.
//
// CreateExecutor validates and normalizes the cardinality map, then
// builds or retrieves a ready executor for it. Under the share policy
// the call is idempotent: identical maps yield handles backed by one
// executor.
//
// Execute runs one computation against the executor a handle refers to.
// The factory owns the execution state for that single invocation; the
// cached executor survives computation failures unless the failure marks
// its resources unusable, in which case the factory evicts it and
// rebuilds on the next create.
//
// ReleaseExecutor decrements the executor's share count and tears the
// underlying leaves down exactly once, when the count reaches zero.
// Releasing an already-released handle is a documented no-op, not an
// error.
type Factory interface {
	CreateExecutor(ctx context.Context, cards placement.Cardinalities) (*Handle, error)
	Execute(ctx context.Context, h *Handle, comp computation.Computation, arg *value.Federated) (*value.Federated, error)
	ReleaseExecutor(ctx context.Context, h *Handle) error
	Close(ctx context.Context) error
}

// New builds a factory of the requested kind.
func New(kind Kind, cfg Config) (Factory, error) {
	switch kind {
	case KindStandard, "":
		return NewLocalFactory(cfg)
	case KindSizing:
		return NewSizingFactory(cfg)
	default:
		return nil, fmt.Errorf("unknown factory kind %q", kind)
	}
}

// Config sizes the executors a factory builds.
type Config struct {
	// DefaultNumClients fills in the clients cardinality when a caller
	// omits it. Must be >= 0; zero is legal (no clients).
	DefaultNumClients int

	// Workers bounds the concurrent leaf fan-out per computation.
	Workers int

	// Reuse selects the caching policy; empty defaults to share.
	Reuse ReusePolicy

	// Modules register the intrinsics executors dispatch. Empty uses the
	// core module set.
	Modules []intrinsics.Module
}

func (c Config) reuse() ReusePolicy {
	if c.Reuse == "" {
		return ReuseShare
	}
	return c.Reuse
}

func (c Config) validate() error {
	if c.DefaultNumClients < 0 {
		return &computation.InvalidArgumentError{Field: "default_num_clients", Reason: fmt.Sprintf("must be >= 0, got %d", c.DefaultNumClients)}
	}
	switch c.Reuse {
	case "", ReuseShare, ReuseFresh:
	default:
		return fmt.Errorf("unknown reuse policy %q", c.Reuse)
	}
	return nil
}

func (c Config) registry() (*intrinsics.Registry, error) {
	reg := intrinsics.New()
	modules := c.Modules
	if len(modules) == 0 {
		modules = intrinsics.CoreModules
	}
	for _, m := range modules {
		m.Register(reg)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
