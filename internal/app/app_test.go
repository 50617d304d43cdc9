package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/livegrid/internal/scheduler"
)

func writeNodesFile(t *testing.T, dir, target string) string {
	t.Helper()
	body := fmt.Sprintf(`
node "manual" "greeting" {
  input "text" {
    type    = "string"
    default = "hello"
  }
  output "text" {}
}

node "template" "banner" {
  input "msg" {
    type   = "string"
    source = "greeting.text"
  }
  output "rendered" {
    path = %q
  }
  config {
    template = "== {{ .msg }} =="
  }
}
`, target)
	path := filepath.Join(dir, "nodes.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newTestApp(t *testing.T, nodesPath string) *App {
	t.Helper()
	cfg, err := NewConfig(Config{
		DataDir:   t.TempDir(),
		NodesPath: nodesPath,
		LogLevel:  "error",
		Debounce:  5 * time.Millisecond,
	})
	require.NoError(t, err)

	app := NewApp(io.Discard, cfg)
	t.Cleanup(app.Close)
	return app
}

func waitForStatus(t *testing.T, app *App, id string, want scheduler.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := app.Scheduler().Status(id); ok && st.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	st, _ := app.Scheduler().Status(id)
	t.Fatalf("node %s never reached %s, last status %+v", id, want, st)
}

func TestNewAppLoadsDefinitions(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "banner.txt")
	app := newTestApp(t, writeNodesFile(t, dir, target))

	defs, err := app.Engine().ListNodes()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "banner", defs[0].ID)
	assert.Equal(t, "greeting", defs[1].ID)

	deps, err := app.Engine().Graph().DependenciesOf("banner")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "greeting", deps[0].Dependency)
}

func TestRootRebuildProducesLinkedOutput(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "banner.txt")
	app := newTestApp(t, writeNodesFile(t, dir, target))

	app.rebuildRoots()
	waitForStatus(t, app, "banner", scheduler.Done)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "== hello ==", string(data))

	_, bytes, err := app.Engine().GetOutputValue("greeting", "text")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(bytes))
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "state")
	target := filepath.Join(dir, "banner.txt")
	nodes := writeNodesFile(t, dir, target)

	cfg, err := NewConfig(Config{
		DataDir:   dataDir,
		NodesPath: nodes,
		LogLevel:  "error",
		Debounce:  5 * time.Millisecond,
	})
	require.NoError(t, err)

	first := NewApp(io.Discard, cfg)
	first.rebuildRoots()
	waitForStatus(t, first, "banner", scheduler.Done)
	first.Close()

	// Second instance over the same data dir, without the nodes file.
	cfg2, err := NewConfig(Config{DataDir: dataDir, LogLevel: "error"})
	require.NoError(t, err)
	second := NewApp(io.Discard, cfg2)
	defer second.Close()

	defs, err := second.Engine().ListNodes()
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, bytes, err := second.Engine().GetOutputValue("banner", "rendered")
	require.NoError(t, err)
	assert.Equal(t, "== hello ==", string(bytes))
}

func TestNewConfigRequiresDataDir(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.Error(t, err)
}
