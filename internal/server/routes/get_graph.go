package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server/middleware"
)

// GetGraphStatsHandler reports the size of the knowledge graph.
func GetGraphStatsHandler(c echo.Context) error {
	type graphStatsResponse struct {
		Nodes int64 `json:"nodes"`
		Edges int64 `json:"edges"`
	}

	ctx := c.Request().Context()
	graphStore := c.(*middleware.AppContext).App.GraphStore

	nodes, edges, err := graphStore.Stats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, graphStatsResponse{Nodes: nodes, Edges: edges})
}
