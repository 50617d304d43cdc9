// Package watch turns filesystem changes into change events. Nodes declare
// file inputs; the watcher maps the underlying paths back to their owning
// nodes and pushes an event per change. Burst coalescing happens in the
// scheduler's debounce window, so the watcher itself forwards immediately.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/schema"
	"github.com/vk/livegrid/internal/scheduler"
)

// Notifier receives a change event for every relevant filesystem change.
type Notifier interface {
	Notify(event scheduler.ChangeEvent)
}

// Watcher observes the files behind declared file inputs. fsnotify watches
// parent directories, not files, so editors that replace files by rename are
// still seen.
type Watcher struct {
	notifier Notifier
	fs       *fsnotify.Watcher

	mu sync.Mutex
	// nodes maps an absolute file path to the ids of nodes reading it.
	nodes map[string]map[string]bool
	// dirs refcounts watched parent directories.
	dirs map[string]int

	done     chan struct{}
	stopOnce sync.Once
}

// New returns a watcher pushing events into notifier. Call Start to begin
// forwarding.
func New(notifier Notifier) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return &Watcher{
		notifier: notifier,
		fs:       fs,
		nodes:    make(map[string]map[string]bool),
		dirs:     make(map[string]int),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the event loop. It returns immediately; the loop exits when
// ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Close stops the event loop and releases the underlying watcher.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fs.Close()
	})
}

// Watch registers a file path as an input source of the given node.
func (w *Watcher) Watch(path, nodeID string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.nodes[abs] == nil {
		w.nodes[abs] = make(map[string]bool)
	}
	if w.nodes[abs][nodeID] {
		return nil
	}
	w.nodes[abs][nodeID] = true

	dir := filepath.Dir(abs)
	w.dirs[dir]++
	if w.dirs[dir] == 1 {
		if err := w.fs.Add(dir); err != nil {
			delete(w.nodes[abs], nodeID)
			w.dirs[dir]--
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	return nil
}

// Unwatch drops a node's registration for a path. The parent directory stays
// watched while any other registration needs it.
func (w *Watcher) Unwatch(path, nodeID string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ids, ok := w.nodes[abs]
	if !ok || !ids[nodeID] {
		return
	}
	delete(ids, nodeID)
	if len(ids) == 0 {
		delete(w.nodes, abs)
	}

	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.fs.Remove(dir)
	}
}

// Sync replaces all registrations with the file inputs of the given
// definitions: every input of type "file" whose default is a path.
func (w *Watcher) Sync(defs []*schema.Definition) error {
	type entry struct{ path, nodeID string }
	var wanted []entry
	for _, def := range defs {
		for _, spec := range def.Inputs {
			if spec.Type != "file" {
				continue
			}
			path, ok := spec.Default.(string)
			if !ok || path == "" {
				continue
			}
			wanted = append(wanted, entry{path: path, nodeID: def.ID})
		}
	}

	w.mu.Lock()
	current := make([]entry, 0, len(w.nodes))
	for path, ids := range w.nodes {
		for id := range ids {
			current = append(current, entry{path: path, nodeID: id})
		}
	}
	w.mu.Unlock()

	for _, e := range current {
		w.Unwatch(e.path, e.nodeID)
	}
	for _, e := range wanted {
		if err := w.Watch(e.path, e.nodeID); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("File watcher started.")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}

			w.mu.Lock()
			var ids []string
			for id := range w.nodes[abs] {
				ids = append(ids, id)
			}
			w.mu.Unlock()

			for _, id := range ids {
				logger.Debug("Watched file changed.", "path", abs, "nodeID", id)
				w.notifier.Notify(scheduler.NewChangeEvent(id, ""))
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("File watcher error.", "error", err)
		}
	}
}
