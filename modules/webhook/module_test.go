package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/livegrid/internal/processor"
)

func TestProcessDefaultsToJSON(t *testing.T) {
	p := &Processor{}

	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID: "hook",
		Inputs: map[string]any{
			PayloadInput: map[string]any{"event": "push", "ref": "main"},
		},
		Outputs: []string{"body"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"push","ref":"main"}`, string(outputs["body"]))
}

func TestProcessWithTemplate(t *testing.T) {
	p := &Processor{}

	outputs, err := p.Process(context.Background(), processor.Request{
		NodeID: "hook",
		Inputs: map[string]any{
			PayloadInput: map[string]any{"event": "push"},
		},
		Outputs: []string{"body"},
		Config:  map[string]any{"template": "got {{ .payload.event }}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "got push", string(outputs["body"]))
}

func TestProcessBeforeFirstDelivery(t *testing.T) {
	p := &Processor{}

	_, err := p.Process(context.Background(), processor.Request{
		NodeID:  "hook",
		Inputs:  map[string]any{},
		Outputs: []string{"body"},
	})
	var procErr *processor.Error
	require.ErrorAs(t, err, &procErr)
	assert.False(t, procErr.Transient)
}

func TestValidate(t *testing.T) {
	p := &Processor{}

	assert.NoError(t, p.Validate(nil))
	assert.NoError(t, p.Validate(map[string]any{"template": "{{ .payload }}"}))

	var schemaErr *processor.SchemaError
	assert.ErrorAs(t, p.Validate(map[string]any{"template": "{{ bad"}), &schemaErr)
	assert.ErrorAs(t, p.Validate(map[string]any{"template": 7}), &schemaErr)
}
