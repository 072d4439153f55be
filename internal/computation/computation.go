// Package computation defines the immutable, serializable description of
// a unit of federated work, independent of how many clients will run it.
package computation

import (
	"fmt"
)

// Computation names an intrinsic to execute, plus the local function a
// mapping intrinsic applies at each participant. A Computation carries no
// execution state; ownership passes to an executor only for the duration
// of one invocation.
type Computation struct {
	Intrinsic string `json:"intrinsic"`
	FnName    string `json:"fn,omitempty"`
}

// Validate performs configuration-time checks, before any execution
// resource is allocated.
func (c Computation) Validate() error {
	if c.Intrinsic == "" {
		return &InvalidArgumentError{Field: "intrinsic", Reason: "intrinsic name is required"}
	}
	return nil
}

// String implements fmt.Stringer for log lines.
func (c Computation) String() string {
	if c.FnName != "" {
		return fmt.Sprintf("%s(%s)", c.Intrinsic, c.FnName)
	}
	return c.Intrinsic
}

// InvalidArgumentError reports a malformed computation argument detected
// at configuration time.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}
