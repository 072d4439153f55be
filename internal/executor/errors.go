package executor

import (
	"errors"
	"fmt"
)

// ErrStackUnusable marks failures that indicate the underlying executor
// resources can no longer serve computations (a closed leaf, a torn
// connection). The factory evicts and rebuilds a stack whose failure
// wraps this sentinel; ordinary computation errors leave the stack
// cached and usable.
var ErrStackUnusable = errors.New("executor stack is unusable")

// ResourceTeardownError reports a failure while releasing underlying leaf
// resources. It is always surfaced, never silently swallowed, and never
// masks the computation error that may have preceded it.
type ResourceTeardownError struct {
	Err error
}

// Error implements the error interface.
func (e *ResourceTeardownError) Error() string {
	return fmt.Sprintf("failed to tear down executor resources: %v", e.Err)
}

// Unwrap exposes the underlying leaf close failures.
func (e *ResourceTeardownError) Unwrap() error {
	return e.Err
}
