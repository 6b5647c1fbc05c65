package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticketero/internal/api/dto"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateTicket handles POST /api/v1/tickets
// Admits a requester into a queue
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req dto.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	ticket, err := h.service.Admit(c.Request.Context(), req.NationalID, req.QueueType)
	if err != nil {
		respondError(c, h.logger, "Failed to create ticket", err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewTicketDTO(ticket))
}

// GetTicket handles GET /api/v1/tickets/:ticket_id
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ticket, err := h.service.Get(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get ticket", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketDTO(ticket))
}

// GetTicketByCode handles GET /api/v1/tickets/code/:code
func (h *TicketHandler) GetTicketByCode(c *gin.Context) {
	ticket, err := h.service.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.logger, "Failed to get ticket", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketDTO(ticket))
}

// GetTicketStatus handles GET /api/v1/tickets/:ticket_id/status
// Returns the live position and ETA of a ticket
func (h *TicketHandler) GetTicketStatus(c *gin.Context) {
	st, err := h.service.Status(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get ticket status", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketStatusDTO(st))
}

// ListTickets handles GET /api/v1/tickets
// Lists tickets in creation order with cursor pagination
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req dto.ListTicketsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "Invalid query parameters", err)
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		badRequest(c, h.logger, "Invalid cursor", err)
		return
	}

	filter := storage.TicketFilter{
		CustomerID: req.CustomerID,
		WorkerID:   req.WorkerID,
		After:      cursor,
		// one extra row tells whether another page exists
		Limit: req.PageSize + 1,
	}
	if req.QueueType != "" {
		qt, err := domain.ParseQueueType(req.QueueType)
		if err != nil {
			respondError(c, h.logger, "Invalid queue_type", err)
			return
		}
		filter.QueueType = qt
	}
	for _, raw := range strings.Split(req.Status, ",") {
		if raw = strings.ToUpper(strings.TrimSpace(raw)); raw == "" {
			continue
		}
		status := domain.TicketStatus(raw)
		if !status.Valid() {
			respondError(c, h.logger, "Invalid status", domain.NewValidationError("status", raw+" is not a ticket status"))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	tickets, err := h.service.ListTickets(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "Failed to list tickets", err)
		return
	}

	hasMore := len(tickets) > req.PageSize
	if hasMore {
		tickets = tickets[:req.PageSize]
	}

	resp := dto.ListTicketsResponse{Tickets: make([]dto.TicketDTO, len(tickets))}
	for i, t := range tickets {
		resp.Tickets[i] = dto.NewTicketDTO(t)
	}
	if hasMore {
		last := tickets[len(tickets)-1]
		resp.NextCursor = EncodeCursor(storage.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	h.logger.Debug("Tickets listed",
		slog.Int("count", len(tickets)),
		slog.Bool("has_more", hasMore),
	)
	c.JSON(http.StatusOK, resp)
}

// CallTicket handles POST /api/v1/tickets/:ticket_id/call
// Calls a pending ticket, optionally binding a worker
func (h *TicketHandler) CallTicket(c *gin.Context) {
	var req dto.CallTicketRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "Invalid request body", err)
			return
		}
	}

	ticket, err := h.service.Call(c.Request.Context(), c.Param("ticket_id"), req.WorkerID)
	if err != nil {
		respondError(c, h.logger, "Failed to call ticket", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketDTO(ticket))
}

// StartTicket handles POST /api/v1/tickets/:ticket_id/start
func (h *TicketHandler) StartTicket(c *gin.Context) {
	ticket, err := h.service.StartProgress(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to start ticket", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketDTO(ticket))
}

// CompleteTicket handles POST /api/v1/tickets/:ticket_id/complete
func (h *TicketHandler) CompleteTicket(c *gin.Context) {
	ticket, err := h.service.Complete(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to complete ticket", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketDTO(ticket))
}

// CancelTicket handles POST /api/v1/tickets/:ticket_id/cancel
func (h *TicketHandler) CancelTicket(c *gin.Context) {
	var req dto.CancelTicketRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "Invalid request body", err)
			return
		}
	}

	ticket, err := h.service.Cancel(c.Request.Context(), c.Param("ticket_id"), req.Reason)
	if err != nil {
		respondError(c, h.logger, "Failed to cancel ticket", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketDTO(ticket))
}

// NoShowTicket handles POST /api/v1/tickets/:ticket_id/no-show
func (h *TicketHandler) NoShowTicket(c *gin.Context) {
	ticket, err := h.service.MarkNoShow(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to mark no-show", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTicketDTO(ticket))
}

// ListTicketNotifications handles GET /api/v1/tickets/:ticket_id/notifications
func (h *TicketHandler) ListTicketNotifications(c *gin.Context) {
	ticket, err := h.service.Get(c.Request.Context(), c.Param("ticket_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get ticket", err)
		return
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), storage.JobFilter{TicketID: ticket.ID})
	if err != nil {
		respondError(c, h.logger, "Failed to list notifications", err)
		return
	}

	resp := make([]dto.NotificationDTO, len(jobs))
	for i, j := range jobs {
		resp[i] = dto.NewNotificationDTO(j)
	}
	c.JSON(http.StatusOK, gin.H{"notifications": resp})
}
