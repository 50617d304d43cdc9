package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vk/livegrid/internal/scheduler"
	"github.com/vk/livegrid/internal/schema"
)

func (s *Server) handleStatus(c *gin.Context) {
	defs, err := s.engine.ListNodes()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).String(),
		"nodes":       len(defs),
		"node_states": s.sched.Statuses(),
	})
}

func (s *Server) handleGraph(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.GetGraph())
}

func (s *Server) handleListNodes(c *gin.Context) {
	defs, err := s.engine.ListNodes()
	if err != nil {
		writeError(c, err)
		return
	}
	if defs == nil {
		defs = []*schema.Definition{}
	}
	c.JSON(http.StatusOK, defs)
}

func (s *Server) handleRegisterNode(c *gin.Context) {
	var def schema.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed definition: " + err.Error()})
		return
	}
	if err := s.engine.RegisterNode(c.Request.Context(), &def); err != nil {
		writeError(c, err)
		return
	}
	s.refreshWatcher(c)

	// A (re-)registration forces a full recompute of the node and its
	// transitive dependents.
	s.sched.Notify(scheduler.NewChangeEvent(def.ID, ""))
	c.JSON(http.StatusCreated, def)
}

func (s *Server) handleGetNode(c *gin.Context) {
	def, err := s.engine.GetNode(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) handleUnregisterNode(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.UnregisterNode(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	s.sched.ForgetStatus(id)
	s.refreshWatcher(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleNodeStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.GetNode(id); err != nil {
		writeError(c, err)
		return
	}
	status, ok := s.sched.Status(id)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"node_id": id, "state": "never_built"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleOutputValue(c *gin.Context) {
	value, data, err := s.engine.GetOutputValue(c.Param("id"), c.Param("output"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("X-Livegrid-Hash", value.Hash)
	c.Header("X-Livegrid-Updated-At", value.UpdatedAt.Format(time.RFC3339))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleForceRebuild(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.GetNode(id); err != nil {
		writeError(c, err)
		return
	}
	// The pass is asynchronous; progress is visible via the status routes.
	go func() {
		_ = s.sched.ForceRebuild(s.baseCtx, id)
	}()
	c.JSON(http.StatusAccepted, gin.H{"node_id": id, "state": "scheduled"})
}

func (s *Server) handleSetInputs(c *gin.Context) {
	id := c.Param("id")
	var values map[string]any
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed input values: " + err.Error()})
		return
	}
	if err := s.engine.SetManualInput(c.Request.Context(), id, values); err != nil {
		writeError(c, err)
		return
	}
	s.sched.Notify(scheduler.NewChangeEvent(id, ""))
	c.JSON(http.StatusOK, gin.H{"node_id": id, "state": "scheduled"})
}

func (s *Server) handleWebhook(c *gin.Context) {
	id := c.Param("id")
	var payload any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload: " + err.Error()})
		return
	}
	if err := s.engine.DeliverWebhook(c.Request.Context(), id, payload); err != nil {
		writeError(c, err)
		return
	}
	s.sched.Notify(scheduler.NewChangeEvent(id, ""))
	c.JSON(http.StatusAccepted, gin.H{"node_id": id, "state": "scheduled"})
}

func (s *Server) refreshWatcher(c *gin.Context) {
	if s.resync == nil {
		return
	}
	if err := s.resync(); err != nil {
		// Watcher trouble must not fail the mutation that already committed.
		_ = c.Error(err)
	}
}
