package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server/middleware"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/pipeline"
)

// CancelRunHandler requests cooperative cancellation of a run. The
// worker stops between work units; nothing already written is rolled
// back, and the run can be resumed later.
func CancelRunHandler(c echo.Context) error {
	type cancelRunParams struct {
		RunID string `param:"id" validate:"required"`
	}

	params := new(cancelRunParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	ctx := c.Request().Context()
	orchestrator := c.(*middleware.AppContext).App.Orchestrator

	if err := orchestrator.CancelRun(ctx, params.RunID); err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"message": "Cancellation requested"})
}
