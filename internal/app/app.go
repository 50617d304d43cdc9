// Package app assembles a daemon instance: logger, durable store, content
// store, engine, scheduler, file watcher, and control API, created once at
// startup from persisted records and torn down together.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/vk/livegrid/internal/config"
	"github.com/vk/livegrid/internal/content"
	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/engine"
	"github.com/vk/livegrid/internal/processor"
	"github.com/vk/livegrid/internal/scheduler"
	"github.com/vk/livegrid/internal/store"
	"github.com/vk/livegrid/internal/watch"
)

// App encapsulates the daemon's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	cfg     *Config
	store   *store.Store
	engine  *engine.Engine
	sched   *scheduler.Scheduler
	watcher *watch.Watcher
	baseCtx context.Context
}

// NewApp is the constructor for the daemon. It opens the state directory,
// recovers the registry, registers processor modules, and loads any node
// definitions found at NodesPath. Startup failures panic; main recovers them
// into a clean exit.
func NewApp(outW io.Writer, cfg *Config, modules ...processor.Module) *App {
	logger, err := newLogger(cfg, outW)
	if err != nil {
		panic(fmt.Errorf("failed to configure logger: %w", err))
	}
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	st, err := store.Open(store.Config{
		Path:       filepath.Join(cfg.DataDir, "registry"),
		SyncWrites: cfg.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		panic(fmt.Errorf("failed to open registry: %w", err))
	}

	blobs, err := content.NewStore(filepath.Join(cfg.DataDir, "objects"))
	if err != nil {
		panic(fmt.Errorf("failed to open content store: %w", err))
	}
	links := content.NewLinks(blobs)

	registry := processor.NewRegistry()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(registry)
	}
	logger.Debug("Processor modules registered.", "types", registry.Types())

	eng := engine.New(st, blobs, links, registry, engine.Options{ProcessTimeout: cfg.ProcessTimeout})
	if err := eng.Recover(ctx); err != nil {
		panic(fmt.Errorf("failed to recover registry: %w", err))
	}

	sched := scheduler.New(ctx, scheduler.Config{
		Workers:  cfg.Workers,
		Debounce: cfg.Debounce,
	}, eng.Graph(), eng)

	watcher, err := watch.New(sched)
	if err != nil {
		panic(fmt.Errorf("failed to create file watcher: %w", err))
	}

	app := &App{
		outW:    outW,
		logger:  logger,
		cfg:     cfg,
		store:   st,
		engine:  eng,
		sched:   sched,
		watcher: watcher,
		baseCtx: ctx,
	}

	if cfg.NodesPath != "" {
		if err := app.loadDefinitions(ctx); err != nil {
			panic(fmt.Errorf("failed to load node definitions: %w", err))
		}
	}
	if err := app.syncWatcher(); err != nil {
		panic(fmt.Errorf("failed to start watching file inputs: %w", err))
	}

	return app
}

// loadDefinitions registers every node defined under NodesPath, replacing
// any stored definition with the same id.
func (a *App) loadDefinitions(ctx context.Context) error {
	defs, err := config.NewLoader().Load(ctx, a.cfg.NodesPath)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := a.engine.RegisterNode(ctx, def); err != nil {
			return err
		}
	}
	a.logger.Info("Node definitions loaded.", "count", len(defs))
	return nil
}

// syncWatcher re-registers the file watcher from the current definitions.
func (a *App) syncWatcher() error {
	defs, err := a.engine.ListNodes()
	if err != nil {
		return err
	}
	return a.watcher.Sync(defs)
}

// Engine returns the application's engine. This is primarily for testing.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Scheduler returns the application's scheduler. This is primarily for
// testing.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.sched
}

// Close tears the instance down: scheduler first so no pass is mid-commit
// when the store closes.
func (a *App) Close() {
	a.sched.Close()
	a.watcher.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close registry.", "error", err)
	}
}
