// Package value models federated values: payloads tagged with a placement
// and an all-equal flag.
package value

import (
	"fmt"

	"github.com/vk/fedgridgo/internal/placement"
	"github.com/zclconf/go-cty/cty"
)

// Federated is a value tagged with the placement it lives at. An all-equal
// value stores exactly one payload no matter how many participants hold
// it; the per-leaf views returned by PayloadFor alias that single payload
// instead of copying it.
type Federated struct {
	Placement placement.Name
	AllEqual  bool

	payloads []cty.Value
}

// AtServer wraps a single server-placed value.
func AtServer(v cty.Value) *Federated {
	return &Federated{Placement: placement.Server, AllEqual: true, payloads: []cty.Value{v}}
}

// AtClients wraps one payload per participant at the clients placement.
// The slice may be empty (zero clients).
func AtClients(vs []cty.Value) *Federated {
	return &Federated{Placement: placement.Clients, payloads: vs}
}

// Broadcast wraps a single payload shared by every participant at the
// clients placement.
func Broadcast(v cty.Value) *Federated {
	return &Federated{Placement: placement.Clients, AllEqual: true, payloads: []cty.Value{v}}
}

// NumPayloads returns the number of concretely stored payloads. For an
// all-equal value this is 1 regardless of cardinality.
func (f *Federated) NumPayloads() int {
	return len(f.payloads)
}

// PayloadFor returns the payload held by participant i. For an all-equal
// value every index resolves to the same stored payload.
func (f *Federated) PayloadFor(i int) (cty.Value, error) {
	if f.AllEqual {
		if len(f.payloads) != 1 {
			return cty.NilVal, fmt.Errorf("all-equal value stores %d payloads, want exactly 1", len(f.payloads))
		}
		return f.payloads[0], nil
	}
	if i < 0 || i >= len(f.payloads) {
		return cty.NilVal, fmt.Errorf("payload index %d out of range [0,%d)", i, len(f.payloads))
	}
	return f.payloads[i], nil
}

// Single returns the payload of a server-placed or all-equal value.
func (f *Federated) Single() (cty.Value, error) {
	if len(f.payloads) != 1 {
		return cty.NilVal, fmt.Errorf("value at %q stores %d payloads, want exactly 1", f.Placement, len(f.payloads))
	}
	return f.payloads[0], nil
}

// CheckCardinality validates that a non-all-equal value carries exactly
// one payload per participant declared for its placement.
func (f *Federated) CheckCardinality(cards placement.Cardinalities) error {
	n, err := cards.Get(f.Placement)
	if err != nil {
		return err
	}
	if f.AllEqual {
		if len(f.payloads) != 1 {
			return fmt.Errorf("all-equal value at %q stores %d payloads, want exactly 1", f.Placement, len(f.payloads))
		}
		return nil
	}
	if len(f.payloads) != n {
		return &placement.CardinalityMismatchError{Placement: f.Placement, Expected: n, Actual: len(f.payloads)}
	}
	return nil
}
