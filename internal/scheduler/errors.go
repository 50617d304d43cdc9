package scheduler

import "fmt"

// UpstreamError marks a node that was skipped because one of its
// dependencies failed earlier in the same propagation pass. It is recorded
// as the node's failure reason and never retried.
type UpstreamError struct {
	NodeID     string
	Dependency string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("skipped: upstream failure (%s)", e.Dependency)
}
