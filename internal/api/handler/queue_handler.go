package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticketero/internal/api/dto"
)

// ListQueues handles GET /api/v1/queues
func (h *QueueHandler) ListQueues(c *gin.Context) {
	queues := h.service.ListQueues()

	resp := make([]dto.QueueDTO, len(queues))
	for i, q := range queues {
		resp[i] = dto.NewQueueDTO(q)
	}
	c.JSON(http.StatusOK, gin.H{"queues": resp})
}

// SetQueueActive handles PATCH /api/v1/queues/:queue_type
// Opens or closes a queue
func (h *QueueHandler) SetQueueActive(c *gin.Context) {
	var req dto.SetQueueActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	q, err := h.service.SetQueueActive(c.Param("queue_type"), *req.Active)
	if err != nil {
		respondError(c, h.logger, "Failed to update queue", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQueueDTO(q))
}
