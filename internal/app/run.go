package app

import (
	"context"

	"github.com/vk/livegrid/internal/api"
	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/scheduler"
)

// Run starts the daemon: file watching, an initial propagation pass over
// every root node so outputs reflect current inputs, and the control API.
// It blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.watcher.Start(ctx)
	a.rebuildRoots()

	if a.cfg.Listen == "" {
		a.logger.Info("Control API disabled, running headless.")
		<-ctx.Done()
		return nil
	}

	server := api.NewServer(ctx, a.engine, a.sched, a.syncWatcher)
	return server.Run(ctx, a.cfg.Listen)
}

// rebuildRoots schedules a pass from every node without dependencies. In a
// DAG every node sits downstream of some root, so this recomputes the whole
// graph after a restart.
func (a *App) rebuildRoots() {
	g := a.engine.Graph()
	for _, id := range g.Nodes() {
		deps, err := g.DependenciesOf(id)
		if err != nil || len(deps) > 0 {
			continue
		}
		a.sched.Notify(scheduler.NewChangeEvent(id, ""))
	}
}
