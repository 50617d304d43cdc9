package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/livegrid/internal/processor"
)

func TestValidate(t *testing.T) {
	p := &Processor{}

	assert.NoError(t, p.Validate(map[string]any{"template": "hello {{ .name }}"}))

	var schemaErr *processor.SchemaError
	assert.ErrorAs(t, p.Validate(map[string]any{}), &schemaErr)
	assert.ErrorAs(t, p.Validate(map[string]any{"template": 42}), &schemaErr)
	assert.ErrorAs(t, p.Validate(map[string]any{"template": "{{ unclosed"}), &schemaErr)
}

func TestProcessRendersInputs(t *testing.T) {
	p := &Processor{}

	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID:  "motd",
		Inputs:  map[string]any{"user": "ada", "count": 3.0},
		Outputs: []string{"rendered"},
		Config:  map[string]any{"template": "hi {{ .user }}, {{ .count }} items"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi ada, 3 items", string(outputs["rendered"]))
}

func TestProcessMultipleOutputsShareContent(t *testing.T) {
	p := &Processor{}

	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID:  "n",
		Inputs:  map[string]any{"x": "v"},
		Outputs: []string{"a", "b"},
		Config:  map[string]any{"template": "{{ .x }}"},
	})
	require.NoError(t, err)
	assert.Equal(t, outputs["a"], outputs["b"])
}

func TestProcessMissingField(t *testing.T) {
	p := &Processor{}

	// Referencing an absent key renders "<no value>" rather than failing;
	// calling a missing function is a parse error caught by Validate.
	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID:  "n",
		Inputs:  map[string]any{},
		Outputs: []string{"o"},
		Config:  map[string]any{"template": "{{ .absent }}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<no value>", string(outputs["o"]))
}

func TestEnvFunc(t *testing.T) {
	t.Setenv("LIVEGRID_TEST_VAR", "present")
	p := &Processor{}

	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID:  "n",
		Outputs: []string{"o"},
		Config:  map[string]any{"template": `{{ env "LIVEGRID_TEST_VAR" }}/{{ env "LIVEGRID_MISSING" "fallback" }}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "present/fallback", string(outputs["o"]))
}
