package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/ctxlog"
	"github.com/vk/fedgridgo/internal/executor"
	"github.com/vk/fedgridgo/internal/intrinsics"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
)

// entry is one cached executor and its share count. Mutations are
// serialized under the owning factory's mutex; the executor itself
// handles its own execution concurrency.
type entry struct {
	stack *executor.Stack
	key   string
	refs  int
}

// LocalFactory builds in-process executor stacks and caches them by
// cardinality key. All cache mutations (insert, refcount, evict) happen
// under one mutex so concurrent create/release/evict cannot lose updates
// or tear an executor down twice.
type LocalFactory struct {
	cfg      Config
	registry *intrinsics.Registry

	mu     sync.Mutex
	cache  map[string]*entry
	byID   map[uuid.UUID]*entry
	closed bool
}

// NewLocalFactory constructs a standard resource-managing factory.
func NewLocalFactory(cfg Config) (*LocalFactory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	reg, err := cfg.registry()
	if err != nil {
		return nil, err
	}
	return &LocalFactory{
		cfg:      cfg,
		registry: reg,
		cache:    make(map[string]*entry),
		byID:     make(map[uuid.UUID]*entry),
	}, nil
}

// CreateExecutor returns a handle to a ready executor for the given
// cardinality map. Under the share policy, repeated calls with identical
// maps share one underlying executor.
func (f *LocalFactory) CreateExecutor(ctx context.Context, cards placement.Cardinalities) (*Handle, error) {
	logger := ctxlog.FromContext(ctx)
	normalized, err := cards.Normalized(placement.Defaults{NumClients: f.cfg.DefaultNumClients})
	if err != nil {
		return nil, err
	}
	key := normalized.Key()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("factory is closed")
	}

	if f.cfg.reuse() == ReuseShare {
		if ent, ok := f.cache[key]; ok {
			if !ent.stack.Broken() {
				ent.refs++
				h := newHandle(key)
				f.byID[h.id] = ent
				logger.Debug("Reusing cached executor.", "key", key, "refs", ent.refs)
				return h, nil
			}
			// A broken executor is evicted; holders of outstanding
			// handles drain its refcount through their own releases.
			logger.Warn("Evicting broken executor from cache.", "key", key)
			delete(f.cache, key)
		}
	}

	stack, err := executor.NewStack(f.registry, normalized, f.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("building executor for %q: %w", key, err)
	}
	ent := &entry{stack: stack, key: key, refs: 1}
	if f.cfg.reuse() == ReuseShare {
		f.cache[key] = ent
	}
	h := newHandle(key)
	f.byID[h.id] = ent
	logger.Info("Executor constructed.", "key", key)
	return h, nil
}

// Execute runs one computation on the executor h refers to. A failure
// that marks the stack unusable evicts it from the cache so the next
// create rebuilds; the failed computation's error is surfaced unchanged.
func (f *LocalFactory) Execute(ctx context.Context, h *Handle, comp computation.Computation, arg *value.Federated) (*value.Federated, error) {
	ent, err := f.lookup(h)
	if err != nil {
		return nil, err
	}

	out, execErr := ent.stack.Execute(ctx, comp, arg)

	if ent.stack.Broken() {
		f.mu.Lock()
		if cached, ok := f.cache[ent.key]; ok && cached == ent {
			delete(f.cache, ent.key)
		}
		f.mu.Unlock()
	}
	return out, execErr
}

// ReleaseExecutor returns a handle. The underlying executor is torn down
// exactly once, when its last handle is released; releasing a handle
// twice is a no-op.
func (f *LocalFactory) ReleaseExecutor(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	f.mu.Lock()
	ent, ok := f.byID[h.id]
	if !ok {
		f.mu.Unlock()
		return nil
	}
	delete(f.byID, h.id)
	ent.refs--
	teardown := ent.refs == 0
	if teardown {
		if cached, exists := f.cache[ent.key]; exists && cached == ent {
			delete(f.cache, ent.key)
		}
	}
	f.mu.Unlock()

	if !teardown {
		return nil
	}
	ctxlog.FromContext(ctx).Info("Tearing down executor.", "key", ent.key)
	return ent.stack.Close()
}

// Close releases every cached executor through the normal teardown path.
// The factory is unusable afterwards.
func (f *LocalFactory) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	unique := make(map[*entry]struct{}, len(f.byID))
	for _, ent := range f.byID {
		unique[ent] = struct{}{}
	}
	f.byID = make(map[uuid.UUID]*entry)
	f.cache = make(map[string]*entry)
	f.mu.Unlock()

	var errs []error
	for ent := range unique {
		if err := ent.stack.Close(); err != nil {
			errs = append(errs, fmt.Errorf("executor %q: %w", ent.key, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// lookup resolves a handle to its live entry.
func (f *LocalFactory) lookup(h *Handle) (*entry, error) {
	if h == nil {
		return nil, errors.New("nil executor handle")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, ok := f.byID[h.id]
	if !ok {
		return nil, fmt.Errorf("executor handle %s is released or unknown", h.id)
	}
	return ent, nil
}

// CachedExecutors reports the number of executors currently cached,
// exposed for metrics and tests.
func (f *LocalFactory) CachedExecutors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}
