package program

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/livegrid/internal/processor"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestValidate(t *testing.T) {
	p := &Processor{}

	assert.NoError(t, p.Validate(map[string]any{"script": "/bin/true"}))
	assert.NoError(t, p.Validate(map[string]any{
		"script":      "/bin/true",
		"args":        []any{"-a", "-b"},
		"environment": map[string]any{"KEY": "value"},
	}))

	var schemaErr *processor.SchemaError
	assert.ErrorAs(t, p.Validate(map[string]any{}), &schemaErr)
	assert.ErrorAs(t, p.Validate(map[string]any{"script": ""}), &schemaErr)
	assert.ErrorAs(t, p.Validate(map[string]any{"script": "/bin/true", "args": []any{1}}), &schemaErr)
	assert.ErrorAs(t, p.Validate(map[string]any{"script": "/bin/true", "environment": map[string]any{"K": 1}}), &schemaErr)
}

func TestProcessCollectsOutputs(t *testing.T) {
	script := writeScript(t, `printf '%s' "$LG_GREETING world" > "$LG_OUTPUT_DIR/result"`)
	p := &Processor{}

	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID:  "n",
		Inputs:  map[string]any{"greeting": "hello"},
		Outputs: []string{"result"},
		Config:  map[string]any{"script": script},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(outputs["result"]))
}

func TestProcessEncodesNonStringInputsAsJSON(t *testing.T) {
	script := writeScript(t, `printf '%s' "$LG_ITEMS" > "$LG_OUTPUT_DIR/o"`)
	p := &Processor{}

	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID:  "n",
		Inputs:  map[string]any{"items": []any{"a", "b"}},
		Outputs: []string{"o"},
		Config:  map[string]any{"script": script},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(outputs["o"]))
}

func TestProcessExitFailureIsPermanent(t *testing.T) {
	script := writeScript(t, `echo boom >&2; exit 3`)
	p := &Processor{}

	_, err := p.Process(context.Background(), processor.Request{
		NodeID: "n",
		Config: map[string]any{"script": script},
	})
	var procErr *processor.Error
	require.ErrorAs(t, err, &procErr)
	assert.False(t, procErr.Transient)
	assert.Contains(t, procErr.Error(), "exited with 3")
	assert.Contains(t, procErr.Error(), "boom")
}

func TestProcessMissingBinaryIsTransient(t *testing.T) {
	p := &Processor{}

	_, err := p.Process(context.Background(), processor.Request{
		NodeID: "n",
		Config: map[string]any{"script": filepath.Join(t.TempDir(), "not-deployed-yet")},
	})
	var procErr *processor.Error
	require.ErrorAs(t, err, &procErr)
	assert.True(t, procErr.Transient)
}

func TestProcessMissingOutputFile(t *testing.T) {
	script := writeScript(t, `exit 0`)
	p := &Processor{}

	_, err := p.Process(context.Background(), processor.Request{
		NodeID:  "n",
		Outputs: []string{"never_written"},
		Config:  map[string]any{"script": script},
	})
	var procErr *processor.Error
	require.ErrorAs(t, err, &procErr)
	assert.False(t, procErr.Transient)
	assert.Contains(t, procErr.Error(), "never_written")
}

func TestProcessHonorsContextCancellation(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	p := &Processor{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Process(ctx, processor.Request{
		NodeID: "n",
		Config: map[string]any{"script": script},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
