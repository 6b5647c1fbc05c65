package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/ticketero/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	systemHandler := handler.NewSystemHandler(deps)
	ticketHandler := handler.NewTicketHandler(deps)
	queueHandler := handler.NewQueueHandler(deps)
	workerHandler := handler.NewWorkerHandler(deps)

	r.GET("/health", systemHandler.Health)

	v1 := r.Group("/api/v1")
	{
		tickets := v1.Group("/tickets")
		{
			// POST /api/v1/tickets - Admit a requester into a queue
			tickets.POST("", ticketHandler.CreateTicket)

			// GET /api/v1/tickets - List tickets with filtering and pagination
			tickets.GET("", ticketHandler.ListTickets)

			// GET /api/v1/tickets/code/:code - Get the ticket holding a code
			tickets.GET("/code/:code", ticketHandler.GetTicketByCode)

			tickets.GET("/:ticket_id", ticketHandler.GetTicket)
			tickets.GET("/:ticket_id/status", ticketHandler.GetTicketStatus)
			tickets.GET("/:ticket_id/notifications", ticketHandler.ListTicketNotifications)

			// Operator overrides
			tickets.POST("/:ticket_id/call", ticketHandler.CallTicket)
			tickets.POST("/:ticket_id/start", ticketHandler.StartTicket)
			tickets.POST("/:ticket_id/complete", ticketHandler.CompleteTicket)
			tickets.POST("/:ticket_id/cancel", ticketHandler.CancelTicket)
			tickets.POST("/:ticket_id/no-show", ticketHandler.NoShowTicket)
		}

		queues := v1.Group("/queues")
		{
			queues.GET("", queueHandler.ListQueues)
			queues.PATCH("/:queue_type", queueHandler.SetQueueActive)
		}

		workers := v1.Group("/workers")
		{
			workers.GET("", workerHandler.ListWorkers)
			workers.GET("/:worker_id", workerHandler.GetWorker)
			workers.PATCH("/:worker_id/status", workerHandler.UpdateWorkerStatus)
		}

		engineRoutes := v1.Group("/engine")
		{
			engineRoutes.GET("/tasks", systemHandler.EngineTasks)
			engineRoutes.POST("/tasks/:task/run", systemHandler.TriggerEngineTask)
		}
	}

	return r
}
