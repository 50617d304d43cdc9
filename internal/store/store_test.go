package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/livegrid/internal/graph"
	"github.com/vk/livegrid/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDef(id string) *schema.Definition {
	now := time.Now().UTC()
	return &schema.Definition{
		ID:        id,
		Type:      "manual",
		Outputs:   []schema.OutputSpec{{Name: "value"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestUpsertAndGetNode(t *testing.T) {
	s := newTestStore(t)
	def := testDef("n1")
	def.Inputs = map[string]schema.InputSpec{
		"x": {Type: "string", Default: "hello", Required: false},
	}

	require.NoError(t, s.UpsertNode(def, nil))

	got, err := s.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", got.ID)
	assert.Equal(t, "hello", got.Inputs["x"].Default)

	_, err = s.GetNode("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertNodeReplacesEdges(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertNode(testDef("a"), nil))
	require.NoError(t, s.UpsertNode(testDef("b"), []graph.Edge{
		{Dependent: "b", Dependency: "a", Output: "value"},
	}))

	edges, err := s.ListEdges()
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	// Re-registration with no sources drops the old edge set.
	require.NoError(t, s.UpsertNode(testDef("b"), nil))
	edges, err = s.ListEdges()
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestRemoveNodeCascades(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertNode(testDef("a"), nil))
	require.NoError(t, s.UpsertNode(testDef("b"), []graph.Edge{
		{Dependent: "b", Dependency: "a", Output: "value"},
	}))
	require.NoError(t, s.RecordOutputs(
		[]OutputValue{{NodeID: "a", Output: "value", Hash: "h1", Size: 2, UpdatedAt: time.Now().UTC()}},
		[]LinkRecord{{Path: "/tmp/a.out", Hash: "h1", NodeID: "a", UpdatedAt: time.Now().UTC()}},
	))
	require.NoError(t, s.SetManualInputs("a", map[string]any{"value": "x"}))

	require.NoError(t, s.RemoveNode("a"))

	_, err := s.GetNode("a")
	assert.ErrorIs(t, err, ErrNotFound)

	edges, err := s.ListEdges()
	require.NoError(t, err)
	assert.Empty(t, edges, "incoming edges are removed with the node")

	_, err = s.CurrentOutputValue("a", "value")
	assert.ErrorIs(t, err, ErrNotFound)

	links, err := s.ListLinks()
	require.NoError(t, err)
	assert.Empty(t, links)

	// Dependent definition survives.
	_, err = s.GetNode("b")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.RemoveNode("a"), ErrNotFound)
}

func TestRecordOutputsAtomicVisibility(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertNode(testDef("n"), nil))

	now := time.Now().UTC()
	require.NoError(t, s.RecordOutputs(
		[]OutputValue{{NodeID: "n", Output: "value", Hash: "abc", Size: 3, UpdatedAt: now}},
		[]LinkRecord{{Path: "/tmp/n.out", Hash: "abc", NodeID: "n", UpdatedAt: now}},
	))

	v, err := s.CurrentOutputValue("n", "value")
	require.NoError(t, err)
	assert.Equal(t, "abc", v.Hash)
	assert.EqualValues(t, 3, v.Size)

	links, err := s.ListLinks()
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "abc", links[0].Hash)

	// Overwrite with a fresh hash: readers only ever see one generation.
	require.NoError(t, s.RecordOutputs(
		[]OutputValue{{NodeID: "n", Output: "value", Hash: "def", Size: 5, UpdatedAt: now}},
		[]LinkRecord{{Path: "/tmp/n.out", Hash: "def", NodeID: "n", UpdatedAt: now}},
	))
	v, err = s.CurrentOutputValue("n", "value")
	require.NoError(t, err)
	assert.Equal(t, "def", v.Hash)
}

func TestListDependents(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertNode(testDef("src"), nil))
	require.NoError(t, s.UpsertNode(testDef("mid"), []graph.Edge{
		{Dependent: "mid", Dependency: "src", Output: "value"},
	}))
	require.NoError(t, s.UpsertNode(testDef("leaf"), []graph.Edge{
		{Dependent: "leaf", Dependency: "mid", Output: "value"},
	}))

	deps, err := s.ListDependents("src")
	require.NoError(t, err)
	assert.Equal(t, []string{"mid"}, deps)
}

func TestManualInputs(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetManualInputs("n")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SetManualInputs("n", map[string]any{"x": "a", "n": 1.5}))
	got, err = s.GetManualInputs("n")
	require.NoError(t, err)
	assert.Equal(t, "a", got["x"])
	assert.Equal(t, 1.5, got["n"])
}

func TestListNodes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertNode(testDef("a"), nil))
	require.NoError(t, s.UpsertNode(testDef("b"), nil))

	defs, err := s.ListNodes()
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}
