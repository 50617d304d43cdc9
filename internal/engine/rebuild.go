package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vk/livegrid/internal/config"
	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/processor"
	"github.com/vk/livegrid/internal/schema"
	"github.com/vk/livegrid/internal/scheduler"
	"github.com/vk/livegrid/internal/store"
)

// RebuildNode resolves a node's current inputs, runs its processor under the
// configured timeout, and commits the outputs: blobs first, then symlinks,
// then the value records in a single transaction. Rebuilding a node that was
// unregistered in the meantime discards the result without error.
func (e *Engine) RebuildNode(ctx context.Context, nodeID string, progress func(scheduler.State)) error {
	logger := ctxlog.FromContext(ctx).With("nodeID", nodeID)

	progress(scheduler.ResolvingInputs)
	def, err := e.store.GetNode(nodeID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("Node unregistered before rebuild, discarding.")
		return nil
	}
	if err != nil {
		return err
	}

	inputs, err := e.resolveInputs(def)
	if err != nil {
		return err
	}

	proc, ok := e.registry.Lookup(def.Type)
	if !ok {
		return &config.ValidationError{NodeID: nodeID, Reason: fmt.Sprintf("unknown node type %q", def.Type)}
	}

	outputNames := make([]string, 0, len(def.Outputs))
	for _, out := range def.Outputs {
		outputNames = append(outputNames, out.Name)
	}

	progress(scheduler.Processing)
	procCtx, cancel := context.WithTimeout(ctx, e.timeout)
	outputs, err := proc.Process(procCtx, processor.Request{
		NodeID:  nodeID,
		Inputs:  inputs,
		Outputs: outputNames,
		Config:  def.Config,
	})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: node %s exceeded %s", processor.ErrTimeout, nodeID, e.timeout)
		}
		return err
	}

	progress(scheduler.Committing)
	return e.commit(ctx, def, outputs)
}

// resolveInputs gathers the current value of every declared input. Manual
// overrides win over graph sources, which win over declared defaults; a
// required input with no value fails the rebuild with a validation error.
func (e *Engine) resolveInputs(def *schema.Definition) (map[string]any, error) {
	manual, err := e.store.GetManualInputs(def.ID)
	if err != nil {
		return nil, err
	}

	inputs := make(map[string]any, len(def.Inputs))
	for name, spec := range def.Inputs {
		if value, ok := manual[name]; ok {
			inputs[name] = value
			continue
		}

		if spec.Source != "" {
			ref, err := schema.ParseRef(spec.Source)
			if err != nil {
				return nil, &config.ValidationError{NodeID: def.ID, Reason: err.Error()}
			}
			value, err := e.store.CurrentOutputValue(ref.NodeID, ref.Output)
			if err == nil {
				data, err := e.content.Get(value.Hash)
				if err != nil {
					return nil, fmt.Errorf("input %q of %s: %w", name, def.ID, err)
				}
				inputs[name] = decodeInput(spec.Type, data)
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			// Source never committed or unregistered: fall through to the
			// declared default.
		}

		if spec.Default != nil {
			inputs[name] = spec.Default
			continue
		}
		if spec.Required {
			return nil, &config.ValidationError{NodeID: def.ID,
				Reason: fmt.Sprintf("required input %q has no value", name)}
		}
	}
	return inputs, nil
}

// decodeInput turns committed output bytes into an input value of the
// declared type. String-ish inputs take the bytes verbatim; structured ones
// are decoded from JSON, falling back to the raw string when that fails.
func decodeInput(inputType string, data []byte) any {
	switch inputType {
	case "string", "file", "":
		return string(data)
	default:
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return string(data)
		}
		return value
	}
}

// writeOutput stores one output's blob according to the declared mode:
// replace takes the bytes as-is, append and prepend combine them with the
// currently committed value. The scheduler's per-node lock keeps the
// read-combine-write free of concurrent rebuilds of the same node.
func (e *Engine) writeOutput(nodeID string, out schema.OutputSpec, data []byte) (string, int64, error) {
	switch out.Mode {
	case "append", "prepend":
		prior := ""
		prev, err := e.store.CurrentOutputValue(nodeID, out.Name)
		if err == nil {
			prior = prev.Hash
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", 0, err
		}
		if out.Mode == "append" {
			return e.content.Append(prior, data)
		}
		return e.content.Prepend(prior, data)
	default:
		hash, err := e.content.Put(data)
		return hash, int64(len(data)), err
	}
}

// commit makes a rebuild visible: write blobs, re-check the node still
// exists, swap symlinks, then record values and links in one transaction.
// Everything before that final transaction is repairable at startup.
func (e *Engine) commit(ctx context.Context, def *schema.Definition, outputs map[string][]byte) error {
	logger := ctxlog.FromContext(ctx).With("nodeID", def.ID)
	now := time.Now().UTC()

	values := make([]store.OutputValue, 0, len(def.Outputs))
	var links []store.LinkRecord
	for _, out := range def.Outputs {
		data, ok := outputs[out.Name]
		if !ok {
			return processor.Fail(def.ID, fmt.Errorf("processor produced no output %q", out.Name))
		}
		hash, size, err := e.writeOutput(def.ID, out, data)
		if err != nil {
			return fmt.Errorf("commit %s.%s: %w", def.ID, out.Name, err)
		}
		values = append(values, store.OutputValue{
			NodeID:    def.ID,
			Output:    out.Name,
			Hash:      hash,
			Size:      size,
			UpdatedAt: now,
		})
		if out.Path != "" {
			links = append(links, store.LinkRecord{
				Path:      out.Path,
				Hash:      hash,
				NodeID:    def.ID,
				UpdatedAt: now,
			})
		}
	}

	// The node may have been unregistered while the processor ran; its
	// result is discarded and the orphaned blobs wait for the next sweep.
	// The structural mutex spans the re-check through the record commit, so
	// an unregistration either precedes it (the result is dropped) or follows
	// it (unlinking the paths this commit just swapped).
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.store.GetNode(def.ID); errors.Is(err, store.ErrNotFound) {
		logger.Debug("Node unregistered during rebuild, discarding result.")
		return nil
	} else if err != nil {
		return err
	}

	for _, link := range links {
		if err := e.links.Link(link.Path, link.Hash); err != nil {
			return fmt.Errorf("commit %s: %w", def.ID, err)
		}
	}
	if err := e.store.RecordOutputs(values, links); err != nil {
		return fmt.Errorf("commit %s: %w", def.ID, err)
	}

	logger.Debug("Rebuild committed.", "outputs", len(values), "links", len(links))
	return nil
}
