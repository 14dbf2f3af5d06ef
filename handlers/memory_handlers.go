package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
	"github.com/tas-memory-service/services"
)

// MemoryHandlers exposes the memory service over HTTP.
type MemoryHandlers struct {
	memoryService services.MemoryService
	logger        *logger.Logger
}

// NewMemoryHandlers creates the HTTP handlers for the memory service.
func NewMemoryHandlers(memoryService services.MemoryService, log *logger.Logger) *MemoryHandlers {
	return &MemoryHandlers{
		memoryService: memoryService,
		logger:        log,
	}
}

// Memorize handles POST /api/v1/memory/memorize.
func (h *MemoryHandlers) Memorize(c *gin.Context) {
	var req models.MemorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.memoryService.Memorize(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("memorize failed", "owner_id", req.OwnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to memorize turn"})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Research handles POST /api/v1/memory/research.
func (h *MemoryHandlers) Research(c *gin.Context) {
	var req models.ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.memoryService.Research(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("research failed", "owner_id", req.OwnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to research query"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ResearchStream handles POST /api/v1/memory/research/stream. Each loop
// phase is sent as one SSE event; the final event carries the full context.
func (h *MemoryHandlers) ResearchStream(c *gin.Context) {
	var req models.ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	steps := h.memoryService.ResearchStream(c.Request.Context(), req)
	for step := range steps {
		data, err := json.Marshal(step)
		if err != nil {
			h.logger.Error("failed to marshal research step", "error", err)
			continue
		}
		c.SSEvent(string(step.Phase), string(data))
		c.Writer.Flush()
	}
}

// Forget handles POST /api/v1/memory/forget.
func (h *MemoryHandlers) Forget(c *gin.Context) {
	var req models.ForgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !req.All && len(req.PageIDs) == 0 && req.Before == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "One of all, page_ids, or before is required"})
		return
	}

	resp, err := h.memoryService.Forget(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("forget failed", "owner_id", req.OwnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to forget memories"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Stats handles GET /api/v1/memory/stats/:owner.
func (h *MemoryHandlers) Stats(c *gin.Context) {
	ownerID := c.Param("owner")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Owner is required"})
		return
	}

	stats, err := h.memoryService.Stats(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Error("stats failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
