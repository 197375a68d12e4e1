package server

import (
	"github.com/OFFIS-RIT/talentgraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/talentgraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Ranking
	apiRoutes.POST("/rank", routes.RankHandler)

	// Merge plans. Plans are only identified here, never executed.
	apiRoutes.GET("/plans", routes.ListPlansHandler, middleware.RequireAPIKey)
	apiRoutes.POST("/plans", routes.CreatePlanHandler, middleware.RequireAPIKey)
	apiRoutes.GET("/plans/:id", routes.GetPlanHandler, middleware.RequireAPIKey)

	// Ingestion
	apiRoutes.GET("/documents/:id/jobs", routes.GetDocumentJobsHandler)
	apiRoutes.POST("/documents/:id/ingest", routes.EnqueueIngestHandler, middleware.RequireAPIKey)
	apiRoutes.POST("/documents/:id/resubmit", routes.ResubmitFailedHandler, middleware.RequireAPIKey)
}
