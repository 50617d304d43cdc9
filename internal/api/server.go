// Package api is the HTTP control surface: node registration and queries,
// manual input updates, forced rebuilds, and webhook ingestion. It is a thin
// client of the engine and scheduler; all invariants live below it.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vk/livegrid/internal/config"
	"github.com/vk/livegrid/internal/ctxlog"
	"github.com/vk/livegrid/internal/engine"
	"github.com/vk/livegrid/internal/graph"
	"github.com/vk/livegrid/internal/processor"
	"github.com/vk/livegrid/internal/scheduler"
)

// Server exposes the control API over a gin router.
type Server struct {
	engine *engine.Engine
	sched  *scheduler.Scheduler
	// resync refreshes the file watcher after a registry mutation; nil when
	// file watching is disabled.
	resync func() error
	// baseCtx scopes background work that outlives a request.
	baseCtx   context.Context
	startedAt time.Time
}

// NewServer wires a control surface over the given core components.
func NewServer(ctx context.Context, eng *engine.Engine, sched *scheduler.Scheduler, resync func() error) *Server {
	return &Server{
		engine:    eng,
		sched:     sched,
		resync:    resync,
		baseCtx:   ctx,
		startedAt: time.Now(),
	}
}

// Router builds the route table.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/graph", s.handleGraph)

		v1.GET("/nodes", s.handleListNodes)
		v1.POST("/nodes", s.handleRegisterNode)
		v1.GET("/nodes/:id", s.handleGetNode)
		v1.DELETE("/nodes/:id", s.handleUnregisterNode)
		v1.GET("/nodes/:id/status", s.handleNodeStatus)
		v1.GET("/nodes/:id/outputs/:output", s.handleOutputValue)
		v1.POST("/nodes/:id/rebuild", s.handleForceRebuild)
		v1.PUT("/nodes/:id/inputs", s.handleSetInputs)

		v1.POST("/webhooks/:id", s.handleWebhook)
	}
	return router
}

// Run serves the API until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	ctxlog.FromContext(ctx).Info("Control API listening.", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	logger := ctxlog.FromContext(s.baseCtx)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request handled.",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// writeError maps core error types onto HTTP status codes: validation and
// schema problems are the caller's fault, cycles conflict with current
// state, and missing references are 404s.
func writeError(c *gin.Context, err error) {
	var valErr *config.ValidationError
	var schemaErr *processor.SchemaError
	var cycleErr *graph.CycleError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &valErr), errors.As(err, &schemaErr):
		status = http.StatusBadRequest
	case errors.As(err, &cycleErr):
		status = http.StatusConflict
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
