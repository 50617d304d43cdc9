package schema

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// --- HCL block structures for node definition files ---

// InputBlock declares a single named input of a node.
type InputBlock struct {
	Name        string     `hcl:"name,label"`
	Type        string     `hcl:"type"`
	Description string     `hcl:"description,optional"`
	Default     *cty.Value `hcl:"default,optional"`
	Required    *bool      `hcl:"required,optional"`
	// Source references another node's output as "node-id.output-name".
	// Presence of a source makes this input a dependency edge.
	Source string `hcl:"source,optional"`
}

// OutputBlock declares a named output, optionally bound to a filesystem
// path the symlink manager keeps pointed at the current content blob.
type OutputBlock struct {
	Name string `hcl:"name,label"`
	Path string `hcl:"path,optional"`
	// Mode selects how a rebuild combines with the committed value:
	// "replace" (the default), "append", or "prepend".
	Mode string `hcl:"mode,optional"`
}

// ConfigBlock carries the processor-specific configuration verbatim; each
// processor decodes the attributes it understands.
type ConfigBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// NodeBlock is one `node "<type>" "<id>"` block from a definition file.
type NodeBlock struct {
	Type      string         `hcl:"node_type,label"`
	ID        string         `hcl:"id,label"`
	Inputs    []*InputBlock  `hcl:"input,block"`
	Outputs   []*OutputBlock `hcl:"output,block"`
	Config    *ConfigBlock   `hcl:"config,block"`
	DependsOn []string       `hcl:"depends_on,optional"`
}

// FileRoot is the top-level structure of a node definition file.
type FileRoot struct {
	Nodes []*NodeBlock `hcl:"node,block"`
	Body  hcl.Body     `hcl:",remain"`
}
