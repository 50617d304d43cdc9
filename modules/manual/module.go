// Package manual implements the "manual" node type: a value holder whose
// inputs are set through the control surface and passed through to outputs
// unchanged. Manual nodes are the usual roots of a graph.
package manual

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vk/livegrid/internal/processor"
)

// Module implements the processor.Module interface for this package.
type Module struct{}

// Register registers the manual processor with the engine.
func (m *Module) Register(r *processor.Registry) {
	r.Register("manual", &Processor{})
}

// Processor copies each input to the output of the same name.
type Processor struct{}

// Validate accepts any configuration; manual nodes carry none.
func (p *Processor) Validate(config map[string]any) error {
	return nil
}

// encode renders a value as output bytes: strings verbatim, raw bytes
// as-is, everything else JSON.
func encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return []byte(val), nil
	case []byte:
		return val, nil
	default:
		return json.Marshal(val)
	}
}

// Process maps inputs onto same-named outputs.
func (p *Processor) Process(ctx context.Context, req processor.Request) (map[string][]byte, error) {
	outputs := make(map[string][]byte, len(req.Outputs))
	for _, name := range req.Outputs {
		value, ok := req.Inputs[name]
		if !ok {
			return nil, processor.Fail(req.NodeID, fmt.Errorf("no input value for output %q", name))
		}
		data, err := encode(value)
		if err != nil {
			return nil, processor.Fail(req.NodeID, fmt.Errorf("encode output %q: %w", name, err))
		}
		outputs[name] = data
	}
	return outputs, nil
}
