package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/queue"
	mid "github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/server/middleware"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/checkpoint"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/config"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/pipeline"
	pgstore "github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/store/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	settings := config.FromEnv()
	if err := settings.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, []string{queue.RunQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	graphStore := pgstore.New(pgstore.Params{
		Pool:        conn,
		DatabaseURL: settings.DatabaseURL,
	})
	if err := graphStore.EnsureConstraints(ctx); err != nil {
		logger.Fatal("Failed to migrate schema", "err", err)
	}

	orchestrator := pipeline.New(pipeline.Params{
		Registry:    pipeline.NewRegistry(conn),
		Checkpoints: checkpoint.NewStore(filepath.Join(settings.BaseDataDir, "checkpoints")),
		Publisher:   queue.NewRunPublisher(ch),
	})

	e.Use(mid.AppContextMiddleware(&mid.App{
		DBConn:       conn,
		Queue:        ch,
		Orchestrator: orchestrator,
		GraphStore:   graphStore,
		MasterAPIKey: settings.MasterAPIKey,
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
