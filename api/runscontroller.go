package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"

	"filingbot/orchestrator"

	"github.com/gin-gonic/gin"
)

type runsController struct {
	runner Runner
	buffer BufferStats
}

// RegisterRunRoutes registers status and run trigger endpoints.
func RegisterRunRoutes(r *gin.Engine, d Deps) {
	rc := &runsController{runner: d.Runner, buffer: d.Buffer}
	g := r.Group("/api")
	g.GET("/status", rc.handleStatus)
	g.GET("/runs", rc.handleListRuns)
	g.POST("/runs/:plan", rc.handleStartRun)
}

// StatusResponse is the JSON body of GET /api/status.
type StatusResponse struct {
	orchestrator.Status
	Plans  []string `json:"plans"`
	Buffer any      `json:"buffer,omitempty"`
}

func (rc *runsController) handleStatus(c *gin.Context) {
	resp := StatusResponse{Status: rc.runner.Status(), Plans: rc.runner.Plans()}
	if rc.buffer != nil {
		resp.Buffer = rc.buffer.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (rc *runsController) handleListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": rc.runner.Status().Runs})
}

// handleStartRun starts a plan asynchronously and returns 202 Accepted.
func (rc *runsController) handleStartRun(c *gin.Context) {
	plan := c.Param("plan")
	if !slices.Contains(rc.runner.Plans(), plan) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown plan " + plan})
		return
	}
	status := rc.runner.Status()
	if !status.Ingest {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion is disabled"})
		return
	}
	if status.State == orchestrator.StateDiscovering || status.State == orchestrator.StateDispatching {
		c.JSON(http.StatusConflict, gin.H{"error": "run already in progress", "state": status.State})
		return
	}

	go func() {
		if _, err := rc.runner.RunPlan(context.Background(), plan, orchestrator.TriggerManual); err != nil &&
			!errors.Is(err, orchestrator.ErrRunInProgress) {
			log.Printf("Manual %s run error: %v", plan, err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "plan": plan})
}
