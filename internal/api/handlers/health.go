package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printspool/internal/core"
)

type HealthHandler struct {
	manager *core.Manager
	version string
}

func NewHealthHandler(manager *core.Manager, version string) *HealthHandler {
	return &HealthHandler{manager: manager, version: version}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     h.version,
		"queue_depth": h.manager.QueueDepth(),
		"running":     h.manager.Running(),
	})
}
