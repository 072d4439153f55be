package factory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/executor"
	"github.com/vk/fedgridgo/internal/intrinsics"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func newShareFactory(t *testing.T) *LocalFactory {
	t.Helper()
	f, err := NewLocalFactory(Config{DefaultNumClients: 3, Workers: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f
}

func sumOf(t *testing.T, f Factory, h *Handle, vs ...int64) cty.Value {
	t.Helper()
	payloads := make([]cty.Value, len(vs))
	for i, v := range vs {
		payloads[i] = cty.NumberIntVal(v)
	}
	out, err := f.Execute(context.Background(), h,
		computation.Computation{Intrinsic: intrinsics.FederatedSum},
		value.AtClients(payloads))
	require.NoError(t, err)
	payload, err := out.Single()
	require.NoError(t, err)
	return payload
}

func TestCreateValidatesConfig(t *testing.T) {
	_, err := NewLocalFactory(Config{DefaultNumClients: -1})
	var invalid *computation.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)

	_, err = NewLocalFactory(Config{Reuse: "sometimes"})
	assert.ErrorContains(t, err, "unknown reuse policy")

	// Zero default clients is legal.
	f, err := NewLocalFactory(Config{DefaultNumClients: 0})
	require.NoError(t, err)
	defer f.Close(context.Background())

	h, err := f.CreateExecutor(context.Background(), placement.Cardinalities{})
	require.NoError(t, err)
	out := sumOf(t, f, h)
	assert.True(t, out.RawEquals(cty.NumberIntVal(0)))
}

func TestCreateRejectsUnknownPlacement(t *testing.T) {
	f := newShareFactory(t)
	_, err := f.CreateExecutor(context.Background(), placement.Cardinalities{"galaxy": 1})
	var invalid *placement.InvalidCardinalityError
	require.ErrorAs(t, err, &invalid)
}

func TestShareReferenceCounting(t *testing.T) {
	f := newShareFactory(t)
	ctx := context.Background()
	cards := placement.Cardinalities{placement.Clients: 3}

	h1, err := f.CreateExecutor(ctx, cards)
	require.NoError(t, err)
	h2, err := f.CreateExecutor(ctx, cards)
	require.NoError(t, err)

	// Both handles are backed by the same underlying executor.
	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, h1.Key(), h2.Key())
	ent1, err := f.lookup(h1)
	require.NoError(t, err)
	ent2, err := f.lookup(h2)
	require.NoError(t, err)
	assert.Same(t, ent1.stack, ent2.stack)
	assert.Equal(t, 1, f.CachedExecutors())

	// Releasing one handle keeps the executor alive for the other.
	require.NoError(t, f.ReleaseExecutor(ctx, h1))
	out := sumOf(t, f, h2, 1, 2, 3)
	assert.True(t, out.RawEquals(cty.NumberIntVal(6)))

	// Releasing the last handle tears it down exactly once.
	require.NoError(t, f.ReleaseExecutor(ctx, h2))
	assert.Equal(t, 0, f.CachedExecutors())
	_, err = f.Execute(ctx, h2, computation.Computation{Intrinsic: intrinsics.FederatedSum}, value.AtClients(nil))
	assert.ErrorContains(t, err, "released or unknown")
}

func TestDoubleReleaseIsNoOp(t *testing.T) {
	f := newShareFactory(t)
	ctx := context.Background()

	h1, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 2})
	require.NoError(t, err)
	h2, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 2})
	require.NoError(t, err)

	require.NoError(t, f.ReleaseExecutor(ctx, h1))
	// Releasing h1 again must not drain h2's reference.
	require.NoError(t, f.ReleaseExecutor(ctx, h1))
	require.NoError(t, f.ReleaseExecutor(ctx, h1))

	out := sumOf(t, f, h2, 4, 5)
	assert.True(t, out.RawEquals(cty.NumberIntVal(9)))

	require.NoError(t, f.ReleaseExecutor(ctx, h2))
	require.NoError(t, f.ReleaseExecutor(ctx, h2))
	require.NoError(t, f.ReleaseExecutor(ctx, nil))
}

func TestDistinctCardinalitiesGetDistinctExecutors(t *testing.T) {
	f := newShareFactory(t)
	ctx := context.Background()

	h3, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 3})
	require.NoError(t, err)
	h5, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 5})
	require.NoError(t, err)

	assert.NotEqual(t, h3.Key(), h5.Key())
	assert.Equal(t, 2, f.CachedExecutors())

	assert.True(t, sumOf(t, f, h3, 1, 1, 1).RawEquals(cty.NumberIntVal(3)))
	assert.True(t, sumOf(t, f, h5, 1, 1, 1, 1, 1).RawEquals(cty.NumberIntVal(5)))
}

func TestFreshPolicyNeverShares(t *testing.T) {
	f, err := NewLocalFactory(Config{DefaultNumClients: 3, Workers: 2, Reuse: ReuseFresh})
	require.NoError(t, err)
	defer f.Close(context.Background())
	ctx := context.Background()

	h1, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 3})
	require.NoError(t, err)
	h2, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 3})
	require.NoError(t, err)

	ent1, err := f.lookup(h1)
	require.NoError(t, err)
	ent2, err := f.lookup(h2)
	require.NoError(t, err)
	assert.NotSame(t, ent1.stack, ent2.stack)
	assert.Equal(t, 0, f.CachedExecutors())

	// Releasing one fresh executor leaves the other untouched.
	require.NoError(t, f.ReleaseExecutor(ctx, h1))
	assert.True(t, sumOf(t, f, h2, 2, 2, 2).RawEquals(cty.NumberIntVal(6)))
}

func TestBrokenExecutorIsEvictedAndRebuilt(t *testing.T) {
	f := newShareFactory(t)
	ctx := context.Background()
	cards := placement.Cardinalities{placement.Clients: 2}

	h1, err := f.CreateExecutor(ctx, cards)
	require.NoError(t, err)

	// Break the underlying stack by closing it out from under the cache.
	ent, err := f.lookup(h1)
	require.NoError(t, err)
	require.NoError(t, ent.stack.Close())

	_, err = f.Execute(ctx, h1,
		computation.Computation{Intrinsic: intrinsics.FederatedSum},
		value.AtClients([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2)}))
	require.ErrorIs(t, err, executor.ErrStackUnusable)

	// The next create for the same cardinalities gets a rebuilt executor.
	h2, err := f.CreateExecutor(ctx, cards)
	require.NoError(t, err)
	ent2, err := f.lookup(h2)
	require.NoError(t, err)
	assert.NotSame(t, ent.stack, ent2.stack)
	assert.True(t, sumOf(t, f, h2, 1, 2).RawEquals(cty.NumberIntVal(3)))
}

func TestConcurrentCreateReleaseIsSerialized(t *testing.T) {
	f := newShareFactory(t)
	ctx := context.Background()
	cards := placement.Cardinalities{placement.Clients: 3}

	payloads := []cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3)}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := f.CreateExecutor(ctx, cards)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := f.Execute(ctx, h,
				computation.Computation{Intrinsic: intrinsics.FederatedSum},
				value.AtClients(payloads)); err != nil {
				t.Error(err)
			}
			if err := f.ReleaseExecutor(ctx, h); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, f.CachedExecutors())
}

func TestFactoryClose(t *testing.T) {
	f, err := NewLocalFactory(Config{DefaultNumClients: 2, Workers: 2})
	require.NoError(t, err)
	ctx := context.Background()

	h, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 2})
	require.NoError(t, err)

	require.NoError(t, f.Close(ctx))
	_, err = f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 2})
	assert.ErrorContains(t, err, "closed")

	// Handles released after close are a no-op.
	assert.NoError(t, f.ReleaseExecutor(ctx, h))
}

func TestNewByKind(t *testing.T) {
	f, err := New(KindStandard, Config{DefaultNumClients: 1})
	require.NoError(t, err)
	_, ok := f.(*LocalFactory)
	assert.True(t, ok)

	f, err = New(KindSizing, Config{DefaultNumClients: 1})
	require.NoError(t, err)
	_, ok = f.(*SizingFactory)
	assert.True(t, ok)

	_, err = New("telepathic", Config{})
	assert.ErrorContains(t, err, "unknown factory kind")
}

func TestSizingFactoryTelemetry(t *testing.T) {
	f, err := NewSizingFactory(Config{DefaultNumClients: 3, Workers: 2})
	require.NoError(t, err)
	defer f.Close(context.Background())
	ctx := context.Background()

	h, err := f.CreateExecutor(ctx, placement.Cardinalities{placement.Clients: 3})
	require.NoError(t, err)

	_, err = f.Execute(ctx, h,
		computation.Computation{Intrinsic: intrinsics.FederatedBroadcast},
		value.AtServer(cty.NumberIntVal(7)))
	require.NoError(t, err)

	_, err = f.Execute(ctx, h,
		computation.Computation{Intrinsic: intrinsics.FederatedSum},
		value.AtClients([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3)}))
	require.NoError(t, err)

	report := f.SizingReport()
	assert.Equal(t, 2, report.Executions)
	assert.Equal(t, 8, report.BroadcastBytes)
	assert.Equal(t, 8, report.AggregatedBytes)
}
