package intrinsics

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vk/fedgridgo/internal/placement"
	"github.com/zclconf/go-cty/cty"
)

// Intrinsic names registered by the core module.
const (
	FederatedSum            = "federated_sum"
	FederatedMean           = "federated_mean"
	FederatedMap            = "federated_map"
	FederatedBroadcast      = "federated_broadcast"
	FederatedValueAtServer  = "federated_value_at_server"
	FederatedValueAtClients = "federated_value_at_clients"
)

// CoreModule registers the built-in federated intrinsics and the local
// functions used by mapping computations.
type CoreModule struct{}

// CoreModules is the default module set composed into an application.
var CoreModules = []Module{&CoreModule{}}

// Register registers all core intrinsics and local functions.
func (m *CoreModule) Register(r *Registry) {
	r.RegisterIntrinsic(FederatedSum, &Registered{
		Description: "sums client-placed values into a single server-placed value",
		ArgAt:       placement.Clients,
		Aggregate:   aggregateSum,
		ResultAt:    placement.Server,
	})
	r.RegisterIntrinsic(FederatedMean, &Registered{
		Description: "averages client-placed values into a single server-placed value",
		ArgAt:       placement.Clients,
		Aggregate:   aggregateMean,
		ResultAt:    placement.Server,
	})
	r.RegisterIntrinsic(FederatedMap, &Registered{
		Description:    "applies a named local function at every participant",
		ArgAt:          placement.Clients,
		TakesFn:        true,
		ResultAt:       placement.Clients,
		ResultAllEqual: false,
	})
	r.RegisterIntrinsic(FederatedBroadcast, &Registered{
		Description:    "moves a server-placed value to all clients as an all-equal value",
		ArgAt:          placement.Server,
		ResultAt:       placement.Clients,
		ResultAllEqual: true,
	})
	r.RegisterIntrinsic(FederatedValueAtServer, &Registered{
		Description:    "places a raw payload at the server",
		ResultAt:       placement.Server,
		ResultAllEqual: true,
	})
	r.RegisterIntrinsic(FederatedValueAtClients, &Registered{
		Description:    "places a raw payload at all clients as an all-equal value",
		ResultAt:       placement.Clients,
		ResultAllEqual: true,
	})

	r.RegisterLocalFn("identity", func(v cty.Value) (cty.Value, error) {
		return v, nil
	})
	r.RegisterLocalFn("double", func(v cty.Value) (cty.Value, error) {
		return numericMap(v, func(f *big.Float) { f.Mul(f, big.NewFloat(2)) })
	})
	r.RegisterLocalFn("add_one", func(v cty.Value) (cty.Value, error) {
		return numericMap(v, func(f *big.Float) { f.Add(f, big.NewFloat(1)) })
	})
}

// aggregateSum folds numeric leaf results in leaf-index order. Zero
// leaves sum to the additive identity.
func aggregateSum(_ context.Context, results []cty.Value) (cty.Value, error) {
	total := new(big.Float)
	for i, res := range results {
		f, err := asNumber(res)
		if err != nil {
			return cty.NilVal, fmt.Errorf("leaf %d: %w", i, err)
		}
		total.Add(total, f)
	}
	return cty.NumberVal(total), nil
}

func aggregateMean(ctx context.Context, results []cty.Value) (cty.Value, error) {
	if len(results) == 0 {
		return cty.NilVal, fmt.Errorf("federated mean over zero clients is undefined")
	}
	sum, err := aggregateSum(ctx, results)
	if err != nil {
		return cty.NilVal, err
	}
	total := sum.AsBigFloat()
	total.Quo(total, big.NewFloat(float64(len(results))))
	return cty.NumberVal(total), nil
}

func asNumber(v cty.Value) (*big.Float, error) {
	if v.Type() != cty.Number {
		return nil, fmt.Errorf("expected a numeric value, got %s", v.Type().FriendlyName())
	}
	if v.IsNull() || !v.IsKnown() {
		return nil, fmt.Errorf("expected a known, non-null numeric value")
	}
	// Copy so aggregation never mutates a leaf's payload.
	return new(big.Float).Set(v.AsBigFloat()), nil
}

func numericMap(v cty.Value, apply func(*big.Float)) (cty.Value, error) {
	f, err := asNumber(v)
	if err != nil {
		return cty.NilVal, err
	}
	apply(f)
	return cty.NumberVal(f), nil
}
