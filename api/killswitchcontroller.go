package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// KillSwitchRequest toggles ingestion.
type KillSwitchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// RegisterKillSwitchRoutes registers the kill switch endpoints.
func RegisterKillSwitchRoutes(r *gin.Engine, kill Switch) {
	g := r.Group("/api/killswitch")
	g.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ingest_enabled": kill.Enabled()})
	})
	g.PUT("", func(c *gin.Context) {
		var req KillSwitchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		kill.Set(*req.Enabled)
		log.Printf("Kill switch set: ingest_enabled=%t", *req.Enabled)
		c.JSON(http.StatusOK, gin.H{"ingest_enabled": kill.Enabled()})
	})
}
