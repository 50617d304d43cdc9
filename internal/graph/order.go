package graph

import "sort"

// DependentsOf returns every node transitively reachable by following
// dependent edges away from id, i.e. all nodes whose inputs depend directly
// or indirectly on id. The result excludes id itself and is sorted.
func (g *Graph) DependentsOf(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	start, ok := g.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}

	seen := make(map[string]bool)
	stack := []*node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for depID := range n.dependents {
			if !seen[depID] {
				seen[depID] = true
				stack = append(stack, g.nodes[depID])
			}
		}
	}

	out := make([]string, 0, len(seen))
	for depID := range seen {
		out = append(out, depID)
	}
	sortStrings(out)
	return out, nil
}

// DirectDependentsOf returns the ids of nodes consuming id's outputs through
// a direct edge, sorted.
func (g *Graph) DirectDependentsOf(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	out := make([]string, 0, len(n.dependents))
	for depID := range n.dependents {
		out = append(out, depID)
	}
	sortStrings(out)
	return out, nil
}

// TopologicalOrder orders the given subset of nodes so that every dependency
// precedes its dependents, considering only edges between subset members.
// Ties are broken by node id so the order is deterministic. Unknown ids are
// ignored.
func (g *Graph) TopologicalOrder(subset []string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	member := make(map[string]bool, len(subset))
	for _, id := range subset {
		if _, ok := g.nodes[id]; ok {
			member[id] = true
		}
	}

	// Kahn's algorithm with a sorted ready list. indegree counts only
	// dependencies inside the subset.
	indegree := make(map[string]int, len(member))
	for id := range member {
		count := 0
		for depID := range g.nodes[id].deps {
			if member[depID] {
				count++
			}
		}
		indegree[id] = count
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(member))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string
		for depID := range g.nodes[id].dependents {
			if !member[depID] {
				continue
			}
			indegree[depID]--
			if indegree[depID] == 0 {
				unlocked = append(unlocked, depID)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}
	return order
}

func sortStrings(s []string) { sort.Strings(s) }

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Dependent != edges[j].Dependent {
			return edges[i].Dependent < edges[j].Dependent
		}
		if edges[i].Dependency != edges[j].Dependency {
			return edges[i].Dependency < edges[j].Dependency
		}
		return edges[i].Output < edges[j].Output
	})
}
