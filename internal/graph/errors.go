package graph

import (
	"errors"
	"fmt"
)

// ErrNodeNotFound is returned when an operation references an unknown node.
var ErrNodeNotFound = errors.New("node not found")

// CycleError reports an edge insertion that would have made the graph
// cyclic. The insertion is rejected and the graph left unchanged.
type CycleError struct {
	Dependent  string
	Dependency string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: edge %s -> %s would close a loop", e.Dependent, e.Dependency)
}
