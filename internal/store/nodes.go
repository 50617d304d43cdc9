package store

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/vk/livegrid/internal/graph"
	"github.com/vk/livegrid/internal/schema"
)

func nodeKey(id string) []byte { return []byte(prefixNode + id) }

// edgeKey encodes one dependency edge. The dependent comes first so a
// node's outgoing edges share a prefix and can be replaced in one pass.
func edgeKey(e graph.Edge) []byte {
	return []byte(prefixEdge + e.Dependent + "\x00" + e.Dependency + "\x00" + e.Output)
}

func parseEdgeKey(key []byte) (graph.Edge, error) {
	parts := strings.SplitN(strings.TrimPrefix(string(key), prefixEdge), "\x00", 3)
	if len(parts) != 3 {
		return graph.Edge{}, fmt.Errorf("corrupt edge key %q", key)
	}
	return graph.Edge{Dependent: parts[0], Dependency: parts[1], Output: parts[2]}, nil
}

// UpsertNode writes a node definition and its outgoing dependency edges in
// one transaction. Any previous edges of the node are replaced, so graph and
// registry commit together or not at all.
func (s *Store) UpsertNode(def *schema.Definition, edges []graph.Edge) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, nodeKey(def.ID), def); err != nil {
			return fmt.Errorf("upsert node %s: %w", def.ID, err)
		}
		if err := deletePrefix(txn, []byte(prefixEdge+def.ID+"\x00")); err != nil {
			return fmt.Errorf("upsert node %s: clear edges: %w", def.ID, err)
		}
		for _, e := range edges {
			if e.Dependent != def.ID {
				return fmt.Errorf("upsert node %s: foreign edge %+v", def.ID, e)
			}
			if err := txn.Set(edgeKey(e), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveNode deletes a node with all its edges (both directions), output
// values, manual inputs, and link records, atomically. Dependents keep their
// definitions; their dangling edges are removed so they degrade to declared
// defaults on their next rebuild.
func (s *Store) RemoveNode(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(id)); err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("remove node: %w: %s", ErrNotFound, id)
			}
			return err
		}
		if err := txn.Delete(nodeKey(id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, []byte(prefixEdge+id+"\x00")); err != nil {
			return err
		}
		// Incoming edges: scan all and drop the ones pointing at id.
		edges, err := listEdges(txn)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if e.Dependency == id {
				if err := txn.Delete(edgeKey(e)); err != nil {
					return err
				}
			}
		}
		if err := deletePrefix(txn, []byte(prefixValue+id+"\x00")); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixInput + id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		// Link records owned by the node.
		links, err := listLinks(txn)
		if err != nil {
			return err
		}
		for _, l := range links {
			if l.NodeID == id {
				if err := txn.Delete(linkKey(l.Path)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetNode returns a node definition or ErrNotFound.
func (s *Store) GetNode(id string) (*schema.Definition, error) {
	var def schema.Definition
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, nodeKey(id), &def)
	})
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListNodes returns every stored definition.
func (s *Store) ListNodes() ([]*schema.Definition, error) {
	var defs []*schema.Definition
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixNode)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var def schema.Definition
			err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &def)
			})
			if err != nil {
				return err
			}
			defs = append(defs, &def)
		}
		return nil
	})
	return defs, err
}

func listEdges(txn *badger.Txn) ([]graph.Edge, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixEdge)})
	defer it.Close()

	var edges []graph.Edge
	for it.Rewind(); it.Valid(); it.Next() {
		e, err := parseEdgeKey(it.Item().Key())
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// ListEdges returns every stored dependency edge.
func (s *Store) ListEdges() ([]graph.Edge, error) {
	var edges []graph.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		edges, err = listEdges(txn)
		return err
	})
	return edges, err
}

// ListDependents returns the ids of nodes holding an edge onto the given
// node, directly.
func (s *Store) ListDependents(id string) ([]string, error) {
	edges, err := s.ListEdges()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range edges {
		if e.Dependency == id && !seen[e.Dependent] {
			seen[e.Dependent] = true
			out = append(out, e.Dependent)
		}
	}
	return out, nil
}
