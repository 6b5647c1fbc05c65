package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticketero/internal/engine"
)

// SystemHandler serves health and engine introspection
type SystemHandler struct {
	logger      *slog.Logger
	serviceName string
	engine      *engine.Driver
	checks      map[string]HealthCheck
}

// NewSystemHandler creates a new SystemHandler instance
func NewSystemHandler(deps *Dependencies) *SystemHandler {
	return &SystemHandler{
		logger:      deps.Logger,
		serviceName: deps.ServiceName,
		engine:      deps.Engine,
		checks:      deps.HealthChecks,
	}
}

// Health handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("check", name),
				slog.Any("error", err),
			)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":  state,
		"service": h.serviceName,
		"checks":  results,
	})
}

// EngineTasks handles GET /api/v1/engine/tasks
func (h *SystemHandler) EngineTasks(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "engine is not running in this process"})
		return
	}

	tasks := make([]gin.H, 0)
	for _, name := range h.engine.Tasks() {
		stats, _ := h.engine.Stats(name)
		tasks = append(tasks, gin.H{
			"task":     name,
			"runs":     stats.Runs,
			"skipped":  stats.Skipped,
			"failures": stats.Failures,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// TriggerEngineTask handles POST /api/v1/engine/tasks/:task/run
func (h *SystemHandler) TriggerEngineTask(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "engine is not running in this process"})
		return
	}

	name := c.Param("task")
	if _, ok := h.engine.Stats(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task " + name})
		return
	}
	// the run outlives the request
	if !h.engine.Trigger(context.WithoutCancel(c.Request.Context()), name) {
		c.JSON(http.StatusConflict, gin.H{"error": "task is already running or the engine is stopping", "task": name})
		return
	}

	h.logger.Info("Engine task triggered", slog.String("task", name))
	c.JSON(http.StatusAccepted, gin.H{"task": name, "status": "started"})
}
