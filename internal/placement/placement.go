// Package placement defines the logical roles a federated value can live
// at, and the cardinality maps that size one execution of a federated
// computation.
package placement

import (
	"fmt"
	"sort"
	"strings"
)

// Name identifies a logical placement.
type Name string

const (
	// Clients is the placement holding one value per simulated participant.
	Clients Name = "clients"
	// Server is the placement holding a single, authoritative value.
	Server Name = "server"
)

// Cardinalities maps a placement to the number of logical participants at
// that placement for one execution.
type Cardinalities map[Name]int

// Defaults holds the configured fallback counts applied when a caller
// omits a placement.
type Defaults struct {
	// NumClients is the fallback for the "clients" placement. Zero is a
	// legal value (no clients).
	NumClients int
}

// Normalized returns a copy of c with omitted placements filled in from
// the defaults. The server placement always has cardinality 1.
func (c Cardinalities) Normalized(d Defaults) (Cardinalities, error) {
	out := Cardinalities{Server: 1}
	for name, count := range c {
		if count < 0 {
			return nil, &InvalidCardinalityError{Placement: name, Reason: fmt.Sprintf("count %d is negative", count)}
		}
		switch name {
		case Clients:
			out[Clients] = count
		case Server:
			if count != 1 {
				return nil, &InvalidCardinalityError{Placement: Server, Reason: fmt.Sprintf("server cardinality must be 1, got %d", count)}
			}
		default:
			return nil, &InvalidCardinalityError{Placement: name, Reason: "unknown placement"}
		}
	}
	if _, ok := out[Clients]; !ok {
		if d.NumClients < 0 {
			return nil, &InvalidCardinalityError{Placement: Clients, Reason: "no count given and no valid default configured"}
		}
		out[Clients] = d.NumClients
	}
	return out, nil
}

// Get returns the participant count at the given placement. Every
// normalized map answers for both placements; asking a raw map for a
// missing placement is reported as invalid.
func (c Cardinalities) Get(name Name) (int, error) {
	count, ok := c[name]
	if !ok {
		return 0, &InvalidCardinalityError{Placement: name, Reason: "placement has no declared cardinality"}
	}
	return count, nil
}

// Key returns a deterministic serialization of the map, used to share
// executors between identical requests.
func (c Cardinalities) Key() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, string(name))
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%d", name, c[Name(name)])
	}
	return b.String()
}

// InvalidCardinalityError reports a placement whose participant count is
// missing, negative, or otherwise unusable.
type InvalidCardinalityError struct {
	Placement Name
	Reason    string
}

// Error implements the error interface.
func (e *InvalidCardinalityError) Error() string {
	return fmt.Sprintf("invalid cardinality for placement %q: %s", e.Placement, e.Reason)
}

// CardinalityMismatchError reports a payload count that does not match
// the declared cardinality of its placement.
type CardinalityMismatchError struct {
	Placement Name
	Expected  int
	Actual    int
}

// Error implements the error interface.
func (e *CardinalityMismatchError) Error() string {
	return fmt.Sprintf("placement %q expects %d value payloads, got %d", e.Placement, e.Expected, e.Actual)
}
