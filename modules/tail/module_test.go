package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/livegrid/internal/processor"
)

func tailRequest(nodeID, path string, config map[string]any) processor.Request {
	return processor.Request{
		NodeID:  nodeID,
		Inputs:  map[string]any{"path": path},
		Outputs: []string{"lines"},
		Config:  config,
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFirstRebuildStartsAtEnd(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "old line\n")

	outputs, err := p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Empty(t, outputs["lines"], "content written before the watch must not be emitted")

	appendFile(t, path, "one\ntwo\n")
	outputs, err = p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(outputs["lines"]))

	// Nothing new since the last read.
	outputs, err = p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Empty(t, outputs["lines"])
}

func TestFromStartEmitsExistingContent(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "old line\n")

	outputs, err := p.Process(context.Background(),
		tailRequest("n", path, map[string]any{"from_start": true}))
	require.NoError(t, err)
	assert.Equal(t, "old line\n", string(outputs["lines"]))
}

func TestPartialLineWithheldUntilComplete(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "")

	_, err := p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)

	appendFile(t, path, "partial")
	outputs, err := p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Empty(t, outputs["lines"], "a line without its newline is not complete yet")

	appendFile(t, path, " done\nnext")
	outputs, err = p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Equal(t, "partial done\n", string(outputs["lines"]))
}

func TestTruncationRestartsFromTheTop(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "app.log")
	appendFile(t, path, "aaaa\nbbbb\n")

	_, err := p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("cc\n"), 0o644))
	outputs, err := p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Equal(t, "cc\n", string(outputs["lines"]))
}

func TestMissingFileAppearsLater(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "app.log")

	outputs, err := p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Empty(t, outputs["lines"])

	appendFile(t, path, "born\n")
	outputs, err = p.Process(context.Background(), tailRequest("n", path, nil))
	require.NoError(t, err)
	assert.Equal(t, "born\n", string(outputs["lines"]),
		"a file created after the watch began is read from the start")
}

func TestProcessRequiresPathInput(t *testing.T) {
	p := NewProcessor()

	_, err := p.Process(context.Background(), processor.Request{
		NodeID:  "n",
		Inputs:  map[string]any{},
		Outputs: []string{"lines"},
	})
	var procErr *processor.Error
	require.ErrorAs(t, err, &procErr)
	assert.False(t, procErr.Transient)
}

func TestValidateConfig(t *testing.T) {
	p := NewProcessor()
	assert.NoError(t, p.Validate(nil))
	assert.NoError(t, p.Validate(map[string]any{"from_start": true}))

	err := p.Validate(map[string]any{"from_start": "yes"})
	var schemaErr *processor.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}
