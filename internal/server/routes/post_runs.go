package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server/middleware"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/config"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/pipeline"
)

// StartRunHandler registers a pipeline run and queues it for the
// worker. Returns 202 with the run id; progress is read from GET.
func StartRunHandler(c echo.Context) error {
	type startRunBody struct {
		SampleSize  int      `json:"sample_size" validate:"omitempty,min=1"`
		Sources     []string `json:"sources" validate:"omitempty,dive,oneof=newsapi alphavantage yahoo_rss"`
		Tickers     []string `json:"tickers" validate:"omitempty,dive,min=1,max=6"`
		ForceStages []string `json:"force_stages"`
		ReuseRaw    bool     `json:"reuse_raw"`
	}

	type startRunResponse struct {
		Message string `json:"message"`
		RunID   string `json:"run_id,omitempty"`
	}

	data := new(startRunBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, startRunResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, startRunResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	orchestrator := c.(*middleware.AppContext).App.Orchestrator

	runID, err := orchestrator.StartRun(ctx, config.RunOptions{
		SampleSize:  data.SampleSize,
		Sources:     data.Sources,
		Tickers:     data.Tickers,
		ForceStages: data.ForceStages,
		ReuseRaw:    data.ReuseRaw,
	})
	if err != nil {
		var cfgErr *pipeline.ConfigurationError
		if errors.As(err, &cfgErr) {
			return c.JSON(http.StatusBadRequest, startRunResponse{
				Message: cfgErr.Error(),
			})
		}
		return c.JSON(http.StatusInternalServerError, startRunResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, startRunResponse{
		Message: "Run accepted",
		RunID:   runID,
	})
}
