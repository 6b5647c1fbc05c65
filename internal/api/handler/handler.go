package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticketero/internal/api/dto"
	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/engine"
	"github.com/cuongbtq/ticketero/internal/ticketing"
)

// HealthCheck probes one backing dependency
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ServiceName  string
	Service      *ticketing.Service
	Engine       *engine.Driver // nil when the engine runs in another process
	HealthChecks map[string]HealthCheck
}

// TicketHandler handles ticket requests
type TicketHandler struct {
	logger  *slog.Logger
	service *ticketing.Service
}

// NewTicketHandler creates a new TicketHandler instance
func NewTicketHandler(deps *Dependencies) *TicketHandler {
	return &TicketHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// QueueHandler handles queue catalog requests
type QueueHandler struct {
	logger  *slog.Logger
	service *ticketing.Service
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// WorkerHandler handles worker requests
type WorkerHandler struct {
	logger  *slog.Logger
	service *ticketing.Service
}

// NewWorkerHandler creates a new WorkerHandler instance
func NewWorkerHandler(deps *Dependencies) *WorkerHandler {
	return &WorkerHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCapacity):
		return http.StatusConflict, "capacity"
	case errors.Is(err, domain.ErrState):
		return http.StatusConflict, "state"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// respondError writes the error response for err. Internal errors are logged
// and their text is not exposed.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, kind := statusFor(err)
	resp := dto.ErrorResponse{Error: err.Error(), Kind: kind}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}

	if status == http.StatusInternalServerError {
		logger.Error(msg,
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		resp.Error = msg
	} else {
		logger.Info(msg,
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}

	_ = c.Error(err)
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Kind: "validation"})
}
