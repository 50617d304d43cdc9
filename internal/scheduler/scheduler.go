// Package scheduler is the change-propagation engine: it consumes change
// events, debounces bursts per source, computes the affected subgraph, and
// rebuilds it with a topologically ordered worker pool. Failures are
// contained to the failed node's downstream subgraph and surfaced through
// status queries.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/graph"
)

// Rebuilder is the scheduler's single seam into the build core. RebuildNode
// resolves the node's current inputs, invokes its processor, and commits the
// outputs; progress is called as the rebuild advances through its phases.
type Rebuilder interface {
	RebuildNode(ctx context.Context, nodeID string, progress func(State)) error
}

// ChangeEvent reports that a node's value changed at the source: a watched
// file edit, a manual input update, or a webhook delivery. Events are
// ephemeral; they exist only until the pass they trigger has been scheduled.
type ChangeEvent struct {
	ID     uuid.UUID
	NodeID string
	Output string
	At     time.Time
}

// NewChangeEvent stamps a change on the given node with a fresh event id.
func NewChangeEvent(nodeID, output string) ChangeEvent {
	return ChangeEvent{ID: uuid.New(), NodeID: nodeID, Output: output, At: time.Now()}
}

// Config carries the scheduler's tunables. Zero values fall back to the
// defaults below.
type Config struct {
	// Workers is the number of concurrent rebuild workers per pass.
	Workers int
	// Debounce is the per-source window within which bursts of change
	// events coalesce into a single pass using the latest value.
	Debounce time.Duration
	// RetryMaxTries bounds attempts per rebuild, counting the first one.
	// Only transient processor failures are retried.
	RetryMaxTries uint
	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration
}

const (
	defaultWorkers              = 4
	defaultDebounce             = 100 * time.Millisecond
	defaultRetryMaxTries        = 3
	defaultRetryInitialInterval = 250 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.RetryMaxTries == 0 {
		c.RetryMaxTries = defaultRetryMaxTries
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = defaultRetryInitialInterval
	}
	return c
}

// pendingEvent is the latest not-yet-fired event for one source, together
// with the debounce timer that will fire it.
type pendingEvent struct {
	event ChangeEvent
	timer *time.Timer
}

// Scheduler owns change-event intake and propagation passes. It holds no
// node data itself: the graph supplies topology and the Rebuilder performs
// the actual work.
type Scheduler struct {
	cfg       Config
	graph     *graph.Graph
	rebuilder Rebuilder
	statuses  *statusBoard

	// baseCtx carries the daemon logger into debounce-fired passes.
	baseCtx context.Context

	mu      sync.Mutex
	pending map[string]*pendingEvent
	nodeMu  map[string]*sync.Mutex
	closed  bool

	passes sync.WaitGroup
}

// New returns a Scheduler ready to accept change events. ctx scopes every
// debounce-fired pass and supplies their logger.
func New(ctx context.Context, cfg Config, g *graph.Graph, rebuilder Rebuilder) *Scheduler {
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		graph:     g,
		rebuilder: rebuilder,
		statuses:  newStatusBoard(),
		baseCtx:   ctx,
		pending:   make(map[string]*pendingEvent),
		nodeMu:    make(map[string]*sync.Mutex),
	}
}

// Notify pushes a change event. Events for the same source arriving within
// the debounce window collapse into one pass carrying the latest event.
func (s *Scheduler) Notify(event ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	ctxlog.FromContext(s.baseCtx).Debug("Change event received.",
		"eventID", event.ID.String(), "nodeID", event.NodeID, "output", event.Output)

	if p, ok := s.pending[event.NodeID]; ok {
		p.event = event
		p.timer.Reset(s.cfg.Debounce)
		return
	}

	p := &pendingEvent{event: event}
	s.passes.Add(1)
	p.timer = time.AfterFunc(s.cfg.Debounce, func() { s.fire(event.NodeID) })
	s.pending[event.NodeID] = p
}

// fire runs the pass for a source whose debounce window elapsed.
func (s *Scheduler) fire(sourceID string) {
	defer s.passes.Done()

	s.mu.Lock()
	p, ok := s.pending[sourceID]
	delete(s.pending, sourceID)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.runPass(s.baseCtx, p.event)
}

// ForceRebuild runs a propagation pass for the node synchronously, skipping
// the debounce window. It returns once the whole pass has settled.
func (s *Scheduler) ForceRebuild(ctx context.Context, nodeID string) error {
	s.passes.Add(1)
	defer s.passes.Done()
	return s.runPass(ctx, NewChangeEvent(nodeID, ""))
}

// Status returns the latest rebuild status recorded for a node.
func (s *Scheduler) Status(nodeID string) (NodeStatus, bool) {
	return s.statuses.get(nodeID)
}

// Statuses returns the latest rebuild status of every tracked node.
func (s *Scheduler) Statuses() []NodeStatus {
	return s.statuses.all()
}

// ForgetStatus drops a node's status record, used on unregistration.
func (s *Scheduler) ForgetStatus(nodeID string) {
	s.statuses.forget(nodeID)
}

// Close stops accepting events, drops debounce timers that have not fired,
// and waits for in-flight passes to settle.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, p := range s.pending {
		if p.timer.Stop() {
			s.passes.Done()
		}
	}
	s.pending = make(map[string]*pendingEvent)
	s.mu.Unlock()

	s.passes.Wait()
}

// nodeLock returns the mutex serializing rebuilds of one node. Overlapping
// triggers therefore run back to back, each resolving inputs afresh, so the
// last writer wins without unbounded queueing.
func (s *Scheduler) nodeLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.nodeMu[id]
	if !ok {
		m = &sync.Mutex{}
		s.nodeMu[id] = m
	}
	return m
}
