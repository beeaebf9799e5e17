package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server/middleware"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/pipeline"
)

// GetRunsHandler lists the most recent runs.
func GetRunsHandler(c echo.Context) error {
	ctx := c.Request().Context()
	orchestrator := c.(*middleware.AppContext).App.Orchestrator

	runs, err := orchestrator.ListRuns(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRunHandler returns one run's status document: the registry row
// plus the last checkpoint of every stage.
func GetRunHandler(c echo.Context) error {
	type getRunParams struct {
		RunID string `param:"id" validate:"required"`
	}

	params := new(getRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	ctx := c.Request().Context()
	orchestrator := c.(*middleware.AppContext).App.Orchestrator

	status, err := orchestrator.GetStatus(ctx, params.RunID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, status)
}
