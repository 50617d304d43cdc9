// Package engine is the process-wide core of the daemon: the single object
// owning the dependency graph, the durable registry, the content store, and
// the processor registry. Every mutation of the graph goes through it, so
// graph and registry commit together or not at all.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vk/livegrid/internal/config"
	"github.com/vk/livegrid/internal/content"
	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/graph"
	"github.com/vk/livegrid/internal/processor"
	"github.com/vk/livegrid/internal/schema"
	"github.com/vk/livegrid/internal/store"
)

const defaultProcessTimeout = 30 * time.Second

// Engine wires the core components together. It is created once at startup
// from persisted records and torn down on shutdown.
type Engine struct {
	graph     *graph.Graph
	store     *store.Store
	content   *content.Store
	links     *content.Links
	registry  *processor.Registry
	validator *config.Loader
	timeout   time.Duration

	// mu serializes structural mutations (register/unregister) and the
	// visibility section of a rebuild commit. It is never held across a
	// processor invocation.
	mu sync.Mutex
}

// Options tunes engine behaviour beyond its collaborators.
type Options struct {
	// ProcessTimeout bounds each processor invocation. Zero means the
	// default of 30s.
	ProcessTimeout time.Duration
}

// New assembles an Engine over the given collaborators. Call Recover before
// serving traffic to rebuild the in-memory graph from the registry.
func New(st *store.Store, blobs *content.Store, links *content.Links, registry *processor.Registry, opts Options) *Engine {
	timeout := opts.ProcessTimeout
	if timeout <= 0 {
		timeout = defaultProcessTimeout
	}
	return &Engine{
		graph:     graph.New(),
		store:     st,
		content:   blobs,
		links:     links,
		registry:  registry,
		validator: config.NewLoader(),
		timeout:   timeout,
	}
}

// Graph exposes the in-memory DAG, primarily for the scheduler.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Recover rebuilds the in-memory graph from persisted records and repairs
// managed symlinks that are missing or point at the wrong blob. It must run
// before any mutation or rebuild.
func (e *Engine) Recover(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	defs, err := e.store.ListNodes()
	if err != nil {
		return fmt.Errorf("recover: list nodes: %w", err)
	}
	for _, def := range defs {
		e.graph.AddNode(def.ID)
	}
	edges, err := e.store.ListEdges()
	if err != nil {
		return fmt.Errorf("recover: list edges: %w", err)
	}
	for _, edge := range edges {
		if err := e.graph.AddEdge(edge.Dependent, edge.Dependency, edge.Output); err != nil {
			return fmt.Errorf("recover: corrupt edge set: %w", err)
		}
	}
	logger.Info("Registry recovered.", "nodes", len(defs), "edges", len(edges))

	links, err := e.store.ListLinks()
	if err != nil {
		return fmt.Errorf("recover: list links: %w", err)
	}
	repaired := 0
	for _, record := range links {
		if !e.content.Has(record.Hash) {
			// The commit that produced this record never finished; the next
			// rebuild of the owning node replaces it.
			logger.Warn("Link record points at a missing blob, dropping it.",
				"path", record.Path, "nodeID", record.NodeID)
			if err := e.store.DeleteLink(record.Path); err != nil {
				return fmt.Errorf("recover: drop stale link: %w", err)
			}
			continue
		}
		current, err := e.links.Resolve(record.Path)
		if err == nil && current == record.Hash {
			continue
		}
		if err := e.links.Link(record.Path, record.Hash); err != nil {
			return fmt.Errorf("recover: repair link %s: %w", record.Path, err)
		}
		repaired++
	}
	if repaired > 0 {
		logger.Info("Symlinks repaired.", "count", repaired)
	}
	return nil
}

// RegisterNode validates a definition and commits it: structural validation,
// processor config validation, cycle check, then the durable upsert — graph
// and registry stay in lockstep. Re-registering an existing id replaces its
// definition and dependency edges; the caller triggers the full recompute.
func (e *Engine) RegisterNode(ctx context.Context, def *schema.Definition) error {
	if err := e.validator.Validate(def); err != nil {
		return err
	}
	proc, ok := e.registry.Lookup(def.Type)
	if !ok {
		return &config.ValidationError{NodeID: def.ID, Reason: fmt.Sprintf("unknown node type %q", def.Type)}
	}
	if err := proc.Validate(def.Config); err != nil {
		return err
	}

	edges, err := declaredEdges(def)
	if err != nil {
		return &config.ValidationError{NodeID: def.ID, Reason: err.Error()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, edge := range edges {
		if !e.graph.HasNode(edge.Dependency) {
			return &config.ValidationError{NodeID: def.ID,
				Reason: fmt.Sprintf("dependency %q is not registered", edge.Dependency)}
		}
	}

	// Carry creation time across re-registrations.
	now := time.Now().UTC()
	if prev, err := e.store.GetNode(def.ID); err == nil {
		def.CreatedAt = prev.CreatedAt
	} else if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	existed := e.graph.HasNode(def.ID)
	var prevEdges []graph.Edge
	if existed {
		prevEdges, _ = e.graph.DependenciesOf(def.ID)
	}

	restore := func() {
		e.graph.RemoveEdgesFrom(def.ID)
		if !existed {
			e.graph.RemoveNode(def.ID)
			return
		}
		for _, edge := range prevEdges {
			_ = e.graph.AddEdge(edge.Dependent, edge.Dependency, edge.Output)
		}
	}

	e.graph.AddNode(def.ID)
	e.graph.RemoveEdgesFrom(def.ID)
	for _, edge := range edges {
		if err := e.graph.AddEdge(edge.Dependent, edge.Dependency, edge.Output); err != nil {
			restore()
			return err
		}
	}

	if err := e.store.UpsertNode(def, edges); err != nil {
		restore()
		return fmt.Errorf("persist node %s: %w", def.ID, err)
	}

	ctxlog.FromContext(ctx).Info("Node registered.", "nodeID", def.ID, "type", def.Type, "edges", len(edges))
	return nil
}

// declaredEdges derives the dependency edge set of a definition: one edge per
// input source plus ordering-only entries from depends_on.
func declaredEdges(def *schema.Definition) ([]graph.Edge, error) {
	refs, err := def.DependencyRefs()
	if err != nil {
		return nil, err
	}
	var edges []graph.Edge
	seen := make(map[graph.Edge]bool)
	for _, ref := range refs {
		edge := graph.Edge{Dependent: def.ID, Dependency: ref.NodeID, Output: ref.Output}
		if !seen[edge] {
			seen[edge] = true
			edges = append(edges, edge)
		}
	}
	for _, dep := range def.DependsOn {
		edge := graph.Edge{Dependent: def.ID, Dependency: dep}
		if !seen[edge] {
			seen[edge] = true
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

// UnregisterNode removes a node from registry and graph. Dependents keep
// their definitions but lose the edge; on their next rebuild the missing
// input degrades to its declared default. Managed symlinks of the node are
// removed; blobs stay until the next sweep.
func (e *Engine) UnregisterNode(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, err := e.store.GetNode(id)
	if err != nil {
		return err
	}
	if err := e.store.RemoveNode(id); err != nil {
		return err
	}
	e.graph.RemoveEdgesTo(id)
	e.graph.RemoveNode(id)

	for _, out := range def.Outputs {
		if out.Path == "" {
			continue
		}
		if err := e.links.Unlink(out.Path); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to remove symlink of unregistered node.",
				"nodeID", id, "path", out.Path, "error", err)
		}
	}

	ctxlog.FromContext(ctx).Info("Node unregistered.", "nodeID", id)
	return nil
}

// SetManualInput merges the given values into a node's stored manual inputs.
// The caller emits the change event that triggers propagation.
func (e *Engine) SetManualInput(ctx context.Context, id string, values map[string]any) error {
	def, err := e.store.GetNode(id)
	if err != nil {
		return err
	}
	for name := range values {
		if _, ok := def.Inputs[name]; !ok {
			return &config.ValidationError{NodeID: id, Reason: fmt.Sprintf("no declared input %q", name)}
		}
	}

	current, err := e.store.GetManualInputs(id)
	if err != nil {
		return err
	}
	for name, value := range values {
		current[name] = value
	}
	return e.store.SetManualInputs(id, current)
}

// DeliverWebhook stores a delivery payload as the node's current payload
// input. Only webhook nodes accept deliveries.
func (e *Engine) DeliverWebhook(ctx context.Context, id string, payload any) error {
	def, err := e.store.GetNode(id)
	if err != nil {
		return err
	}
	if def.Type != "webhook" {
		return &config.ValidationError{NodeID: id, Reason: fmt.Sprintf("node type %q does not accept webhook deliveries", def.Type)}
	}
	current, err := e.store.GetManualInputs(id)
	if err != nil {
		return err
	}
	current["payload"] = payload
	return e.store.SetManualInputs(id, current)
}

// GetNode returns a stored definition.
func (e *Engine) GetNode(id string) (*schema.Definition, error) {
	return e.store.GetNode(id)
}

// ListNodes returns every stored definition, sorted by id.
func (e *Engine) ListNodes() ([]*schema.Definition, error) {
	defs, err := e.store.ListNodes()
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// GraphDump is a point-in-time snapshot of the DAG for the control surface.
type GraphDump struct {
	Nodes []string     `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// GetGraph snapshots the current DAG.
func (e *Engine) GetGraph() GraphDump {
	return GraphDump{Nodes: e.graph.Nodes(), Edges: e.graph.Edges()}
}

// GetOutputValue returns the committed record and bytes of a node output.
func (e *Engine) GetOutputValue(id, output string) (store.OutputValue, []byte, error) {
	value, err := e.store.CurrentOutputValue(id, output)
	if err != nil {
		return store.OutputValue{}, nil, err
	}
	data, err := e.content.Get(value.Hash)
	if err != nil {
		return store.OutputValue{}, nil, err
	}
	return value, data, nil
}

// Sweep removes content blobs referenced by no current output value or link
// record. It runs outside any commit path.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	values, err := e.store.ListOutputValues()
	if err != nil {
		return 0, err
	}
	links, err := e.store.ListLinks()
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool, len(values)+len(links))
	for _, v := range values {
		live[v.Hash] = true
	}
	for _, l := range links {
		live[l.Hash] = true
	}
	removed, err := e.content.Sweep(live)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		ctxlog.FromContext(ctx).Info("Content sweep finished.", "removed", removed)
	}
	return removed, nil
}

// IsNotFound reports whether err signals a missing node, value, or blob.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, content.ErrNotFound)
}
