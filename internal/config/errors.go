package config

import "fmt"

// ValidationError reports a node definition that was rejected before any
// graph or registry mutation took place.
type ValidationError struct {
	NodeID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("invalid node definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid node definition %q: %s", e.NodeID, e.Reason)
}
