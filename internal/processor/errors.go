package processor

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a processor invocation that exceeded its configured
// bound. The scheduler releases the node's resources and records the task
// as failed.
var ErrTimeout = errors.New("processor timeout")

// SchemaError reports a processor configuration rejected by Validate.
type SchemaError struct {
	Type   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s processor config: %s", e.Type, e.Reason)
}

// Error is a failure reported by a processor run. Transient failures are
// eligible for bounded retry; structural ones settle immediately.
type Error struct {
	NodeID    string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("processor failed for node %s: %v", e.NodeID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err as a permanent processor failure.
func Fail(nodeID string, err error) *Error {
	return &Error{NodeID: nodeID, Err: err}
}

// Retryable wraps err as a transient processor failure.
func Retryable(nodeID string, err error) *Error {
	return &Error{NodeID: nodeID, Transient: true, Err: err}
}
