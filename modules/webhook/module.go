// Package webhook implements the "webhook" node type. Deliveries arrive
// through the control API, are stored as the node's current payload, and
// become ordinary change events; this processor turns the latest payload
// into output bytes, optionally through a template.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/vk/livegrid/internal/processor"
)

// PayloadInput is the reserved input name carrying the delivery body.
const PayloadInput = "payload"

// Module implements the processor.Module interface for this package.
type Module struct{}

// Register registers the webhook processor with the engine.
func (m *Module) Register(r *processor.Registry) {
	r.Register("webhook", &Processor{})
}

// Processor renders webhook payloads. With a "template" config attribute the
// payload is rendered through it; otherwise outputs carry the payload as
// pretty-printed JSON.
type Processor struct{}

func parseTemplate(config map[string]any) (*template.Template, error) {
	raw, ok := config["template"]
	if !ok {
		return nil, nil
	}
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("attribute \"template\" must be a string")
	}
	return template.New("webhook").Parse(text)
}

// Validate checks the optional template parses.
func (p *Processor) Validate(config map[string]any) error {
	if _, err := parseTemplate(config); err != nil {
		return &processor.SchemaError{Type: "webhook", Reason: err.Error()}
	}
	return nil
}

// Process renders the current payload for every declared output.
func (p *Processor) Process(ctx context.Context, req processor.Request) (map[string][]byte, error) {
	payload, ok := req.Inputs[PayloadInput]
	if !ok {
		return nil, processor.Fail(req.NodeID, fmt.Errorf("no webhook delivery received yet"))
	}

	tmpl, err := parseTemplate(req.Config)
	if err != nil {
		return nil, processor.Fail(req.NodeID, err)
	}

	var rendered []byte
	if tmpl != nil {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, req.Inputs); err != nil {
			return nil, processor.Fail(req.NodeID, fmt.Errorf("render: %w", err))
		}
		rendered = buf.Bytes()
	} else {
		rendered, err = json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, processor.Fail(req.NodeID, err)
		}
	}

	outputs := make(map[string][]byte, len(req.Outputs))
	for _, name := range req.Outputs {
		outputs[name] = rendered
	}
	return outputs, nil
}
