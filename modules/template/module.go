// Package template implements the "template" node type: inputs are rendered
// through a Go text/template and every declared output receives the rendered
// bytes.
package template

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/vk/livegrid/internal/processor"
)

// Module implements the processor.Module interface for this package.
type Module struct{}

// Register registers the template processor with the engine.
func (m *Module) Register(r *processor.Registry) {
	r.Register("template", &Processor{})
}

// Processor renders the configured template with the resolved inputs as the
// template data.
type Processor struct{}

// funcs are the helper functions available inside node templates.
func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func(layout ...string) string {
			l := time.RFC3339
			if len(layout) > 0 {
				l = layout[0]
			}
			return time.Now().Format(l)
		},
		"env": func(name string, fallback ...string) string {
			if v, ok := os.LookupEnv(name); ok {
				return v
			}
			if len(fallback) > 0 {
				return fallback[0]
			}
			return ""
		},
		"readFile": func(path string) (string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

func parse(config map[string]any) (*template.Template, error) {
	raw, ok := config["template"]
	if !ok {
		return nil, fmt.Errorf("missing required attribute \"template\"")
	}
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("attribute \"template\" must be a string")
	}
	return template.New("node").Funcs(funcs()).Parse(text)
}

// Validate checks the template parses before the node is committed.
func (p *Processor) Validate(config map[string]any) error {
	if _, err := parse(config); err != nil {
		return &processor.SchemaError{Type: "template", Reason: err.Error()}
	}
	return nil
}

// Process renders the template once and hands the result to every declared
// output.
func (p *Processor) Process(ctx context.Context, req processor.Request) (map[string][]byte, error) {
	tmpl, err := parse(req.Config)
	if err != nil {
		return nil, processor.Fail(req.NodeID, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req.Inputs); err != nil {
		return nil, processor.Fail(req.NodeID, fmt.Errorf("render: %w", err))
	}

	outputs := make(map[string][]byte, len(req.Outputs))
	for _, name := range req.Outputs {
		outputs[name] = buf.Bytes()
	}
	return outputs, nil
}
