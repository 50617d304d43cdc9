// Package tail implements the "tail" node type: the node follows a growing
// file and emits only the bytes added since its previous rebuild. Declared
// with an append-mode output, the committed value accumulates into a
// log-shaped mirror of the source. The followed file arrives as a "file"
// input, so ordinary file watching supplies the change events.
package tail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/vk/livegrid/internal/processor"
)

// Module implements the processor.Module interface for this package.
type Module struct{}

// Register registers the tail processor with the engine.
func (m *Module) Register(r *processor.Registry) {
	r.Register("tail", NewProcessor())
}

// cursor tracks how far into the followed file a node has read. The FileInfo
// detects rotation: a recreated file under the same path starts over.
type cursor struct {
	offset int64
	info   os.FileInfo
}

// Processor follows one file per node. Cursors live in memory only; after a
// daemon restart a node starts at the end of its file again, exactly like a
// fresh watch.
type Processor struct {
	mu      sync.Mutex
	cursors map[string]*cursor
}

// NewProcessor returns a tail processor with no active cursors.
func NewProcessor() *Processor {
	return &Processor{cursors: make(map[string]*cursor)}
}

type tailConfig struct {
	fromStart bool
}

func parseConfig(config map[string]any) (*tailConfig, error) {
	cfg := &tailConfig{}
	if raw, ok := config["from_start"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, errors.New("attribute \"from_start\" must be a bool")
		}
		cfg.fromStart = b
	}
	return cfg, nil
}

// Validate checks the config shape.
func (p *Processor) Validate(config map[string]any) error {
	if _, err := parseConfig(config); err != nil {
		return &processor.SchemaError{Type: "tail", Reason: err.Error()}
	}
	return nil
}

// Process reads the bytes appended to the followed file since the previous
// rebuild and emits them on every declared output. Only complete lines are
// consumed; a partial trailing line stays unread until its newline arrives.
func (p *Processor) Process(ctx context.Context, req processor.Request) (map[string][]byte, error) {
	cfg, err := parseConfig(req.Config)
	if err != nil {
		return nil, processor.Fail(req.NodeID, err)
	}
	path, ok := req.Inputs["path"].(string)
	if !ok || path == "" {
		return nil, processor.Fail(req.NodeID,
			errors.New("tail nodes need a \"path\" input naming the file to follow"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.cursors[req.NodeID]
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		// Not created yet, or removed: read from the start once it appears.
		p.cursors[req.NodeID] = &cursor{}
		return emit(req.Outputs, nil), nil
	}
	if err != nil {
		// Permissions and transient filesystem trouble may clear up.
		return nil, processor.Retryable(req.NodeID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, processor.Retryable(req.NodeID, err)
	}

	if cur == nil {
		cur = &cursor{}
		p.cursors[req.NodeID] = cur
		if !cfg.fromStart {
			cur.offset = info.Size()
		}
	} else if cur.info != nil && (!os.SameFile(cur.info, info) || info.Size() < cur.offset) {
		// Rotated or truncated: start over.
		cur.offset = 0
	}
	cur.info = info

	if _, err := f.Seek(cur.offset, io.SeekStart); err != nil {
		return nil, processor.Retryable(req.NodeID, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, processor.Retryable(req.NodeID, err)
	}

	var chunk []byte
	if n := bytes.LastIndexByte(data, '\n'); n >= 0 {
		chunk = data[:n+1]
		cur.offset += int64(n + 1)
	}
	return emit(req.Outputs, chunk), nil
}

func emit(names []string, chunk []byte) map[string][]byte {
	outputs := make(map[string][]byte, len(names))
	for _, name := range names {
		outputs[name] = chunk
	}
	return outputs
}
