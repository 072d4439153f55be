package intrinsics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/zclconf/go-cty/cty"
)

func coreRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	for _, m := range CoreModules {
		m.Register(r)
	}
	require.NoError(t, r.Validate())
	return r
}

func TestCoreRegistration(t *testing.T) {
	r := coreRegistry(t)

	sum, err := r.Intrinsic(FederatedSum)
	require.NoError(t, err)
	assert.Equal(t, placement.Clients, sum.ArgAt)
	assert.Equal(t, placement.Server, sum.ResultAt)
	require.NotNil(t, sum.Aggregate)

	_, err = r.Intrinsic("federated_frobnicate")
	assert.ErrorContains(t, err, "unknown intrinsic")

	_, err = r.LocalFn("identity")
	assert.NoError(t, err)
	_, err = r.LocalFn("nope")
	assert.ErrorContains(t, err, "not registered")
}

func TestAggregateSum(t *testing.T) {
	r := coreRegistry(t)
	sum, err := r.Intrinsic(FederatedSum)
	require.NoError(t, err)

	t.Run("sums in index order", func(t *testing.T) {
		out, err := sum.Aggregate(context.Background(), []cty.Value{
			cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3),
		})
		require.NoError(t, err)
		assert.True(t, out.RawEquals(cty.NumberIntVal(6)), "got %v", out)
	})

	t.Run("zero leaves sum to the additive identity", func(t *testing.T) {
		out, err := sum.Aggregate(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, out.RawEquals(cty.NumberIntVal(0)), "got %v", out)
	})

	t.Run("non-numeric leaf is named", func(t *testing.T) {
		_, err := sum.Aggregate(context.Background(), []cty.Value{
			cty.NumberIntVal(1), cty.StringVal("x"),
		})
		assert.ErrorContains(t, err, "leaf 1")
	})
}

func TestAggregateMean(t *testing.T) {
	r := coreRegistry(t)
	mean, err := r.Intrinsic(FederatedMean)
	require.NoError(t, err)

	out, err := mean.Aggregate(context.Background(), []cty.Value{
		cty.NumberIntVal(2), cty.NumberIntVal(4),
	})
	require.NoError(t, err)
	assert.True(t, out.RawEquals(cty.NumberIntVal(3)), "got %v", out)

	_, err = mean.Aggregate(context.Background(), nil)
	assert.ErrorContains(t, err, "zero clients")
}

func TestLocalFns(t *testing.T) {
	r := coreRegistry(t)

	double, err := r.LocalFn("double")
	require.NoError(t, err)
	out, err := double(cty.NumberIntVal(21))
	require.NoError(t, err)
	assert.True(t, out.RawEquals(cty.NumberIntVal(42)))

	addOne, err := r.LocalFn("add_one")
	require.NoError(t, err)
	out, err = addOne(cty.NumberIntVal(41))
	require.NoError(t, err)
	assert.True(t, out.RawEquals(cty.NumberIntVal(42)))

	_, err = double(cty.StringVal("nope"))
	assert.Error(t, err)
}

func TestValidateRejectsBadContracts(t *testing.T) {
	r := New()
	r.RegisterIntrinsic("bad_result", &Registered{})
	assert.ErrorContains(t, r.Validate(), "no result placement")

	r = New()
	r.RegisterIntrinsic("bad_agg", &Registered{
		ArgAt:     placement.Clients,
		Aggregate: aggregateSum,
		ResultAt:  placement.Clients,
	})
	assert.ErrorContains(t, r.Validate(), "does not place its result at the server")

	r = New()
	r.RegisterIntrinsic("bad_fn", &Registered{
		ArgAt:    placement.Clients,
		TakesFn:  true,
		Leaf:     func(v cty.Value) (cty.Value, error) { return v, nil },
		ResultAt: placement.Clients,
	})
	assert.ErrorContains(t, r.Validate(), "both takes a named fn")
}
