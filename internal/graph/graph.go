package graph

import (
	"fmt"
	"sync"
)

// Edge is a single dependency declaration: Dependent consumes the named
// output of Dependency.
type Edge struct {
	Dependent  string `json:"dependent"`
	Dependency string `json:"dependency"`
	Output     string `json:"output"`
}

// Graph is the in-memory DAG over node identifiers. It is rebuilt from the
// registry at startup and mutated in lockstep with every registry change.
// All operations are concurrency-safe.
type Graph struct {
	// mutex guards the node map. It is held only for structural reads and
	// mutations, never across processor invocations.
	mutex sync.RWMutex
	nodes map[string]*node
}

// node is un-exported so all interaction happens through string IDs.
type node struct {
	id string
	// deps maps dependency node id to the set of output names consumed.
	deps map[string]map[string]struct{}
	// dependents is the reverse adjacency: ids of nodes consuming this one.
	dependents map[string]struct{}
}

// New returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a node with the given ID. Adding an existing ID is a no-op.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.addNodeLocked(id)
}

func (g *Graph) addNodeLocked(id string) *node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &node{
		id:         id,
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]struct{}),
	}
	g.nodes[id] = n
	return n
}

// HasNode reports whether the given node exists.
func (g *Graph) HasNode(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// AddEdge records that `dependent` consumes output `output` of `dependency`.
// It fails with a *CycleError if the insertion would make the graph cyclic,
// leaving the graph unchanged. Both endpoints must already exist.
func (g *Graph) AddEdge(dependent, dependency, output string) error {
	if dependent == dependency {
		return &CycleError{Dependent: dependent, Dependency: dependency}
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	from, ok := g.nodes[dependent]
	if !ok {
		return fmt.Errorf("add edge: %w: %s", ErrNodeNotFound, dependent)
	}
	to, ok := g.nodes[dependency]
	if !ok {
		return fmt.Errorf("add edge: %w: %s", ErrNodeNotFound, dependency)
	}

	// The edge closes a cycle exactly when the dependent is already
	// reachable from the dependency along existing depends-on edges.
	if g.reachableLocked(dependency, dependent) {
		return &CycleError{Dependent: dependent, Dependency: dependency}
	}

	if from.deps[dependency] == nil {
		from.deps[dependency] = make(map[string]struct{})
	}
	from.deps[dependency][output] = struct{}{}
	to.dependents[dependent] = struct{}{}
	return nil
}

// RemoveNode deletes a node and every incident edge. Removing a missing node
// is a no-op.
func (g *Graph) RemoveNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for depID := range n.deps {
		delete(g.nodes[depID].dependents, id)
	}
	for depID := range n.dependents {
		delete(g.nodes[depID].deps, id)
	}
	delete(g.nodes, id)
}

// RemoveEdgesFrom removes every edge whose dependent side is `id`. Used when
// a re-registration replaces the node's declared dependencies.
func (g *Graph) RemoveEdgesFrom(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for depID := range n.deps {
		delete(g.nodes[depID].dependents, id)
	}
	n.deps = make(map[string]map[string]struct{})
}

// RemoveEdgesTo removes every edge whose dependency side is `id`, detaching
// its dependents. Used when a node is unregistered and its dependents are
// degraded to their declared defaults.
func (g *Graph) RemoveEdgesTo(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for depID := range n.dependents {
		delete(g.nodes[depID].deps, id)
	}
	n.dependents = make(map[string]struct{})
}

// reachableLocked walks depends-on edges from `from` and reports whether
// `target` is reachable. Caller holds the mutex.
func (g *Graph) reachableLocked(from, target string) bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		for depID := range g.nodes[id].deps {
			if !seen[depID] {
				seen[depID] = true
				stack = append(stack, depID)
			}
		}
	}
	return false
}

// DependenciesOf returns the direct dependency edges of a node.
func (g *Graph) DependenciesOf(id string) ([]Edge, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("dependencies of: %w: %s", ErrNodeNotFound, id)
	}
	var edges []Edge
	for depID, outputs := range n.deps {
		for output := range outputs {
			edges = append(edges, Edge{Dependent: id, Dependency: depID, Output: output})
		}
	}
	sortEdges(edges)
	return edges, nil
}

// Nodes returns the IDs of all nodes, sorted for determinism.
func (g *Graph) Nodes() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortStrings(ids)
	return ids
}

// Edges returns a snapshot of every edge, sorted for determinism.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var edges []Edge
	for id, n := range g.nodes {
		for depID, outputs := range n.deps {
			for output := range outputs {
				edges = append(edges, Edge{Dependent: id, Dependency: depID, Output: output})
			}
		}
	}
	sortEdges(edges)
	return edges
}
