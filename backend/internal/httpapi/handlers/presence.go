package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"workspaceCollab/backend/internal/cache"
	"workspaceCollab/backend/internal/protocol"
)

type RosterSource interface {
	Roster(workspaceID string) []protocol.Session
}

type PresenceHandler struct {
	// 为 nil 时只看本进程的 hub
	cache cache.PresenceCache
	hub   RosterSource
}

func NewPresenceHandler(p cache.PresenceCache, hub RosterSource) *PresenceHandler {
	return &PresenceHandler{cache: p, hub: hub}
}

// GetPresence lists the sessions active in a workspace. The redis mirror
// covers every hub instance; the local hub is the fallback when redis fails.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing workspaceId"})
		return
	}

	if h.cache != nil {
		members, err := h.cache.GetAliveMembers(c.Request.Context(), workspaceID)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"workspaceId": workspaceID, "activeUsers": members, "source": "redis"})
			return
		}
		log.Printf("presence cache error (ws=%s), falling back to hub: %v", workspaceID, err)
	}
	c.JSON(http.StatusOK, gin.H{"workspaceId": workspaceID, "activeUsers": h.hub.Roster(workspaceID), "source": "hub"})
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
