package schema

import (
	"fmt"
	"strings"
	"time"
)

// InputSpec is the registry form of a declared input.
type InputSpec struct {
	Type        string `json:"type" validate:"required,oneof=string number bool list map file"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Required    bool   `json:"required"`
	Source      string `json:"source,omitempty"`
}

// OutputSpec is a declared output and its optional filesystem target.
type OutputSpec struct {
	Name string `json:"name" validate:"required"`
	Path string `json:"path,omitempty"`
	// Mode is how a rebuild combines with the committed value. An empty mode
	// means replace; append and prepend accumulate, which is how tail nodes
	// grow a log-shaped output one delta at a time.
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=replace append prepend"`
}

// Definition is the durable, serializable record of a node: everything the
// registry persists and the graph and processors consume. It is produced by
// decoding a NodeBlock and survives process restarts.
type Definition struct {
	ID      string               `json:"id" validate:"required"`
	Type    string               `json:"type" validate:"required"`
	Inputs  map[string]InputSpec `json:"inputs,omitempty" validate:"dive"`
	Outputs []OutputSpec         `json:"outputs" validate:"min=1,dive"`
	// Config is the processor configuration blob, opaque to the core.
	Config map[string]any `json:"config,omitempty"`
	// DependsOn lists extra ordering-only dependencies with no data flow.
	DependsOn []string  `json:"depends_on,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Output returns the named output spec, if declared.
func (d *Definition) Output(name string) (OutputSpec, bool) {
	for _, out := range d.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputSpec{}, false
}

// Ref is a parsed reference to another node's output.
type Ref struct {
	NodeID string
	Output string
}

// ParseRef parses a "node-id.output-name" source reference. The output name
// is the segment after the last dot, so node ids may themselves contain dots.
func ParseRef(s string) (Ref, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return Ref{}, fmt.Errorf("malformed node reference %q: want \"node-id.output\"", s)
	}
	return Ref{NodeID: s[:idx], Output: s[idx+1:]}, nil
}

func (r Ref) String() string {
	return r.NodeID + "." + r.Output
}

// DependencyRefs returns every output reference this definition consumes,
// one per input carrying a source.
func (d *Definition) DependencyRefs() ([]Ref, error) {
	var refs []Ref
	for name, in := range d.Inputs {
		if in.Source == "" {
			continue
		}
		ref, err := ParseRef(in.Source)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
