package middleware

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/pipeline"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/store"
)

// App holds the handles every request handler needs.
type App struct {
	DBConn       *pgxpool.Pool
	Queue        *amqp091.Channel
	Orchestrator *pipeline.Orchestrator
	GraphStore   store.GraphStore
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}
