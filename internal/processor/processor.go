// Package processor defines the pluggable boundary between the build core
// and the code that actually turns inputs into outputs. The core treats a
// Processor as a black box: it validates configuration at registration time
// and computes output bytes from resolved inputs at rebuild time.
package processor

import "context"

// Request carries everything a processor may consult for one run.
type Request struct {
	// NodeID identifies the node being rebuilt.
	NodeID string
	// Inputs are the fully resolved input values, keyed by declared name.
	Inputs map[string]any
	// Outputs lists the declared output names the processor must produce.
	Outputs []string
	// Config is the node's processor configuration blob.
	Config map[string]any
}

// Processor is the capability contract every node type satisfies. Process
// must honor ctx cancellation: the scheduler bounds each invocation with a
// timeout and reports overruns as failed, never by blocking the pass.
type Processor interface {
	// Validate checks a configuration blob before it is committed to the
	// registry, returning a *SchemaError on rejection.
	Validate(config map[string]any) error

	// Process computes the bytes for every requested output.
	Process(ctx context.Context, req Request) (map[string][]byte, error)
}
