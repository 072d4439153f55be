package executor

import (
	"fmt"

	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/intrinsics"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Plan is the concrete execution strategy the placement resolver produces
// for one computation: how many leaves to dispatch to, what each leaf
// runs, and the aggregation step that joins the results.
type Plan struct {
	leafFn         intrinsics.LocalFn
	aggregate      intrinsics.AggregateFn
	resultAt       placement.Name
	resultAllEqual bool

	// numLeaves is the fan-out width. For an all-equal argument the
	// single shared payload backs every dispatch; per-leaf payloads are
	// never materialized N times.
	numLeaves int
	shared    *cty.Value
	args      []cty.Value

	// direct carries a result that requires no leaf work at all
	// (broadcasts and value placements).
	direct *value.Federated

	// broadcastBytes is the payload volume logically sent to clients,
	// reported to sizing telemetry by the factory.
	broadcastShared bool
}

// ArgFor returns the payload leaf i receives.
func (p *Plan) ArgFor(i int) cty.Value {
	if p.shared != nil {
		return *p.shared
	}
	return p.args[i]
}

// NumLeaves returns the fan-out width of the plan.
func (p *Plan) NumLeaves() int {
	return p.numLeaves
}

// Direct returns the precomputed result of a plan with no leaf work, or
// nil when leaves must run.
func (p *Plan) Direct() *value.Federated {
	return p.direct
}

// Resolve maps a computation and its argument to a concrete execution
// plan against the given cardinalities. All validation here is
// configuration-time: it happens before any leaf is dispatched, so a
// failing computation allocates no execution resources.
func Resolve(reg *intrinsics.Registry, comp computation.Computation, cards placement.Cardinalities, arg *value.Federated) (*Plan, error) {
	if err := comp.Validate(); err != nil {
		return nil, err
	}
	intr, err := reg.Intrinsic(comp.Intrinsic)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		leafFn:         intr.Leaf,
		aggregate:      intr.Aggregate,
		resultAt:       intr.ResultAt,
		resultAllEqual: intr.ResultAllEqual,
	}

	if intr.TakesFn {
		if comp.FnName == "" {
			return nil, &computation.InvalidArgumentError{Field: "fn", Reason: fmt.Sprintf("intrinsic %q requires a local function name", comp.Intrinsic)}
		}
		fn, err := reg.LocalFn(comp.FnName)
		if err != nil {
			return nil, &computation.InvalidArgumentError{Field: "fn", Reason: err.Error()}
		}
		plan.leafFn = fn
	} else if comp.FnName != "" {
		return nil, &computation.InvalidArgumentError{Field: "fn", Reason: fmt.Sprintf("intrinsic %q does not take a local function", comp.Intrinsic)}
	}

	if arg == nil {
		return nil, &computation.InvalidArgumentError{Field: "value", Reason: "computation requires an argument"}
	}

	switch intr.ArgAt {
	case "":
		// Value-placement intrinsics take a single raw payload.
		payload, err := arg.Single()
		if err != nil {
			return nil, &computation.InvalidArgumentError{Field: "value", Reason: err.Error()}
		}
		if intr.ResultAt == placement.Server {
			plan.direct = value.AtServer(payload)
		} else {
			plan.direct = value.Broadcast(payload)
		}
		return plan, nil

	case placement.Server:
		if arg.Placement != placement.Server {
			return nil, &computation.InvalidArgumentError{Field: "value", Reason: fmt.Sprintf("intrinsic %q expects a server-placed argument, got %q", comp.Intrinsic, arg.Placement)}
		}
		payload, err := arg.Single()
		if err != nil {
			return nil, &computation.InvalidArgumentError{Field: "value", Reason: err.Error()}
		}
		// Broadcast never materializes per-client copies.
		plan.direct = value.Broadcast(payload)
		plan.broadcastShared = true
		return plan, nil

	case placement.Clients:
		if arg.Placement != placement.Clients {
			return nil, &computation.InvalidArgumentError{Field: "value", Reason: fmt.Sprintf("intrinsic %q expects a clients-placed argument, got %q", comp.Intrinsic, arg.Placement)}
		}
		n, err := cards.Get(placement.Clients)
		if err != nil {
			return nil, err
		}
		switch {
		case arg.AllEqual:
			payload, err := arg.Single()
			if err != nil {
				return nil, &computation.InvalidArgumentError{Field: "value", Reason: err.Error()}
			}
			plan.numLeaves = n
			plan.shared = &payload
		case arg.NumPayloads() == 0:
			// An empty clients argument runs the computation over zero
			// effective participants, whatever the declared cardinality.
			plan.numLeaves = 0
		default:
			if err := arg.CheckCardinality(cards); err != nil {
				return nil, err
			}
			plan.numLeaves = n
			plan.args = make([]cty.Value, n)
			for i := 0; i < n; i++ {
				payload, err := arg.PayloadFor(i)
				if err != nil {
					return nil, err
				}
				plan.args[i] = payload
			}
		}
		return plan, nil

	default:
		return nil, &placement.InvalidCardinalityError{Placement: intr.ArgAt, Reason: "unknown argument placement"}
	}
}
