package processor

import (
	"fmt"
	"sort"
)

// Module is the interface every processor package implements to plug its
// node types into an application instance.
type Module interface {
	Register(r *Registry)
}

// Registry maps node type tags to their Processor implementations. New node
// types are added by registering a new implementation, never by extending
// the core.
type Registry struct {
	processors map[string]Processor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register binds a type tag to a processor. Duplicate registration is a
// programmer error and panics at startup.
func (r *Registry) Register(typeTag string, p Processor) {
	if _, exists := r.processors[typeTag]; exists {
		panic(fmt.Sprintf("processor for node type %q already registered", typeTag))
	}
	r.processors[typeTag] = p
}

// Lookup returns the processor for a node type tag.
func (r *Registry) Lookup(typeTag string) (Processor, bool) {
	p, ok := r.processors[typeTag]
	return p, ok
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.processors))
	for tag := range r.processors {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
