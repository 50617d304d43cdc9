package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"

	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/processor"
)

// task is one node rebuild inside a propagation pass.
type task struct {
	id string
	// depCount counts unfinished predecessors within the pass.
	depCount atomic.Int32
	// skipOnce guarantees exactly one terminal transition for tasks that
	// never run because an upstream dependency failed.
	skipOnce sync.Once
	skipped  atomic.Bool
}

// skip marks the task failed without running it. Returns true on the first
// call, which is also the one that releases the pass's wait counter.
func (t *task) skip(wg *sync.WaitGroup) bool {
	first := false
	t.skipOnce.Do(func() {
		t.skipped.Store(true)
		wg.Done()
		first = true
	})
	return first
}

// pass is the execution of one propagation: the affected subgraph of a
// single change event, rebuilt in topological order by a worker pool.
type pass struct {
	scheduler *Scheduler
	logger    *slog.Logger
	tasks     map[string]*task
	ready     chan *task
	wg        sync.WaitGroup
}

// runPass computes the affected subgraph for the event and rebuilds it.
// It returns after every affected node reached Done or Failed.
func (s *Scheduler) runPass(ctx context.Context, event ChangeEvent) error {
	logger := ctxlog.FromContext(ctx).With("passID", event.ID.String(), "sourceID", event.NodeID)

	dependents, err := s.graph.DependentsOf(event.NodeID)
	if err != nil {
		// The source was unregistered between the event and the pass.
		logger.Debug("Change source no longer registered, dropping pass.")
		return nil
	}
	affected := append(dependents, event.NodeID)
	order := s.graph.TopologicalOrder(affected)
	logger.Debug("Propagation pass starting.", "affected", len(order))

	p := &pass{
		scheduler: s,
		logger:    logger,
		tasks:     make(map[string]*task, len(order)),
		ready:     make(chan *task, len(order)),
	}
	for _, id := range order {
		p.tasks[id] = &task{id: id}
	}
	for _, id := range order {
		deps, err := s.graph.DependenciesOf(id)
		if err != nil {
			continue
		}
		inPass := make(map[string]bool)
		for _, edge := range deps {
			if _, ok := p.tasks[edge.Dependency]; ok {
				inPass[edge.Dependency] = true
			}
		}
		p.tasks[id].depCount.Store(int32(len(inPass)))
	}

	p.wg.Add(len(order))
	for _, id := range order {
		s.statuses.set(id, Pending)
		if p.tasks[id].depCount.Load() == 0 {
			p.ready <- p.tasks[id]
		}
	}

	workers := s.cfg.Workers
	if workers > len(order) {
		workers = len(order)
	}
	for i := 0; i < workers; i++ {
		go p.worker(ctx, i)
	}

	p.wg.Wait()
	close(p.ready)
	logger.Debug("Propagation pass settled.")
	return nil
}

// worker drains the ready channel until the pass settles.
func (p *pass) worker(ctx context.Context, workerID int) {
	for t := range p.ready {
		// A sibling failure may have skipped this task after it was
		// enqueued; its terminal accounting already happened.
		if t.skipped.Load() {
			continue
		}
		logger := p.logger.With("workerID", workerID, "nodeID", t.id)

		if err := p.scheduler.runTask(ctx, t.id); err != nil {
			logger.Error("Node rebuild failed.", "error", err)
			p.scheduler.statuses.fail(t.id, err)
			p.skipDependents(t)
		} else {
			logger.Debug("Node rebuild committed.")
			p.scheduler.statuses.set(t.id, Done)
			p.unlockDependents(t)
		}
		p.wg.Done()
	}
}

// unlockDependents releases in-pass dependents whose last predecessor just
// finished.
func (p *pass) unlockDependents(t *task) {
	dependents, err := p.scheduler.graph.DirectDependentsOf(t.id)
	if err != nil {
		return
	}
	for _, id := range dependents {
		d, ok := p.tasks[id]
		if !ok {
			continue
		}
		if d.depCount.Add(-1) == 0 && !d.skipped.Load() {
			p.ready <- d
		}
	}
}

// skipDependents marks every in-pass node downstream of a failure as Failed
// with an upstream-failure reason. Sibling subgraphs are untouched.
func (p *pass) skipDependents(t *task) {
	dependents, err := p.scheduler.graph.DirectDependentsOf(t.id)
	if err != nil {
		return
	}
	for _, id := range dependents {
		d, ok := p.tasks[id]
		if !ok {
			continue
		}
		if d.skip(&p.wg) {
			p.scheduler.statuses.fail(id, &UpstreamError{NodeID: id, Dependency: t.id})
			p.skipDependents(d)
		}
	}
}

// runTask rebuilds one node under its per-node lock, retrying transient
// processor failures with exponential backoff. Structural failures and
// timeouts settle immediately.
func (s *Scheduler) runTask(ctx context.Context, nodeID string) error {
	mu := s.nodeLock(nodeID)
	mu.Lock()
	defer mu.Unlock()

	operation := func() (struct{}, error) {
		err := s.rebuilder.RebuildNode(ctx, nodeID, func(state State) {
			s.statuses.set(nodeID, state)
		})
		if err == nil {
			return struct{}{}, nil
		}
		var procErr *processor.Error
		if errors.As(err, &procErr) && procErr.Transient {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryInitialInterval

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.cfg.RetryMaxTries))
	return err
}
