package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/fsutil"
	"github.com/vk/livegrid/internal/schema"
)

// Loader parses node definition files into validated schema.Definitions.
type Loader struct {
	validate *validator.Validate
}

// NewLoader returns a ready Loader.
func NewLoader() *Loader {
	return &Loader{validate: validator.New()}
}

// Load discovers every .hcl file under the given paths (files or
// directories) and decodes all node blocks found. Definitions are validated
// structurally; duplicate ids across files are rejected.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]*schema.Definition, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.CollectFiles(paths, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("discover node definitions: %w", err)
	}
	logger.Debug("Discovered node definition files.", "count", len(files))

	parser := hclparse.NewParser()
	var defs []*schema.Definition
	seen := make(map[string]string)

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", file, diags)
		}

		var root schema.FileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("decode %s: %w", file, diags)
		}

		for _, block := range root.Nodes {
			def, err := l.DecodeNode(block)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if prev, dup := seen[def.ID]; dup {
				return nil, &ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("already defined in %s", prev)}
			}
			seen[def.ID] = file
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// DecodeNode converts one HCL node block into a Definition and validates it.
func (l *Loader) DecodeNode(block *schema.NodeBlock) (*schema.Definition, error) {
	now := time.Now().UTC()
	def := &schema.Definition{
		ID:        block.ID,
		Type:      block.Type,
		Inputs:    make(map[string]schema.InputSpec, len(block.Inputs)),
		DependsOn: block.DependsOn,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, in := range block.Inputs {
		spec := schema.InputSpec{
			Type:        in.Type,
			Description: in.Description,
			Source:      in.Source,
		}
		if in.Default != nil {
			converted, err := schema.FromCty(*in.Default)
			if err != nil {
				return nil, &ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("input %q default: %v", in.Name, err)}
			}
			spec.Default = converted
		}
		// An input with a default or a source never blocks a rebuild, so it
		// is required only when neither is present, unless overridden.
		if in.Required != nil {
			spec.Required = *in.Required
		} else {
			spec.Required = spec.Default == nil && spec.Source == ""
		}
		if _, dup := def.Inputs[in.Name]; dup {
			return nil, &ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("duplicate input %q", in.Name)}
		}
		def.Inputs[in.Name] = spec
	}

	for _, out := range block.Outputs {
		if _, dup := def.Output(out.Name); dup {
			return nil, &ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("duplicate output %q", out.Name)}
		}
		def.Outputs = append(def.Outputs, schema.OutputSpec{Name: out.Name, Path: out.Path, Mode: out.Mode})
	}

	if block.Config != nil {
		attrs, diags := block.Config.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, &ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("config block: %v", diags)}
		}
		def.Config = make(map[string]any, len(attrs))
		for name, attr := range attrs {
			val, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, &ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("config %q: %v", name, diags)}
			}
			converted, err := schema.FromCty(val)
			if err != nil {
				return nil, &ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("config %q: %v", name, err)}
			}
			def.Config[name] = converted
		}
	}

	if err := l.Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate applies structural validation to a definition, wrapping failures
// in *ValidationError. Processor-specific config is validated separately by
// the processor registry.
func (l *Loader) Validate(def *schema.Definition) error {
	if err := l.validate.Struct(def); err != nil {
		return &ValidationError{NodeID: def.ID, Reason: err.Error()}
	}
	if _, err := def.DependencyRefs(); err != nil {
		return &ValidationError{NodeID: def.ID, Reason: err.Error()}
	}
	return nil
}
