package server

import (
	"github.com/labstack/echo/v4"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server/middleware"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Run control routes
	apiRoutes.POST("/runs", routes.StartRunHandler)
	apiRoutes.GET("/runs", routes.GetRunsHandler)
	apiRoutes.GET("/runs/:id", routes.GetRunHandler)
	apiRoutes.DELETE("/runs/:id", routes.CancelRunHandler)

	// Graph routes
	apiRoutes.GET("/graph/stats", routes.GetGraphStatsHandler)
}
