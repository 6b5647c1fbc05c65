package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticketero/internal/api/dto"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
)

// ListWorkers handles GET /api/v1/workers
func (h *WorkerHandler) ListWorkers(c *gin.Context) {
	var req dto.ListWorkersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "Invalid query parameters", err)
		return
	}

	filter := storage.WorkerFilter{
		Status: domain.WorkerStatus(strings.ToUpper(req.Status)),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(c, h.logger, "Invalid status", domain.NewValidationError("status", req.Status+" is not a worker status"))
		return
	}
	if req.QueueType != "" {
		qt, err := domain.ParseQueueType(req.QueueType)
		if err != nil {
			respondError(c, h.logger, "Invalid queue_type", err)
			return
		}
		filter.QueueType = qt
	}

	workers, err := h.service.ListWorkers(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "Failed to list workers", err)
		return
	}

	resp := make([]dto.WorkerDTO, len(workers))
	for i, w := range workers {
		resp[i] = dto.NewWorkerDTO(w)
	}
	c.JSON(http.StatusOK, gin.H{"workers": resp})
}

// GetWorker handles GET /api/v1/workers/:worker_id
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	w, err := h.service.GetWorker(c.Request.Context(), c.Param("worker_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get worker", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewWorkerDTO(w))
}

// UpdateWorkerStatus handles PATCH /api/v1/workers/:worker_id/status
func (h *WorkerHandler) UpdateWorkerStatus(c *gin.Context) {
	var req dto.UpdateWorkerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	status := domain.WorkerStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	w, err := h.service.SetWorkerStatus(c.Request.Context(), c.Param("worker_id"), status)
	if err != nil {
		respondError(c, h.logger, "Failed to update worker status", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewWorkerDTO(w))
}
