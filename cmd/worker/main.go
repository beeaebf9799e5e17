package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/queue"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/checkpoint"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/config"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/extract"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/ingest"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/leaselock"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger/console"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/pipeline"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/preprocess"
	pgstore "github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.New(console.Params{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	settings := config.FromEnv()
	if err := settings.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	// Extraction adapter
	var adapter extract.Adapter
	switch settings.AIAdapter {
	case "ollama":
		client, err := extract.NewOllamaAdapter(extract.OllamaAdapterParams{
			BaseURL: settings.ChatURL,
			Model:   settings.ChatModel,
			APIKey:  util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama adapter", "err", err)
		}
		adapter = client
	default:
		adapter = extract.NewOpenAIAdapter(extract.OpenAIAdapterParams{
			APIKey:  settings.OpenAIKey,
			Model:   settings.ChatModel,
			BaseURL: settings.ChatURL,
		})
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.RunQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	backoff := util.Backoff{
		MaxTries:  settings.RetryMaxTries,
		BaseDelay: settings.RetryBaseDelay,
		MaxDelay:  30 * time.Second,
	}

	ingestStage := ingest.NewStage(
		ingest.NewRawStore(settings.BaseDataDir),
		ingest.NewNewsAPIClient(ingest.NewsAPIClientParams{APIKey: settings.NewsAPIKey}),
		ingest.NewAlphaVantageClient(ingest.AlphaVantageClientParams{APIKey: settings.AlphaVantageKey}),
		ingest.NewYahooRSSClient(ingest.YahooRSSClientParams{}),
	)
	preprocessStage := preprocess.NewStage(settings.BaseDataDir, settings.ChunkTokens)
	extractStage := extract.NewStage(extract.StageParams{
		Adapter: adapter,
		BaseDir: settings.BaseDataDir,
		Workers: settings.Workers,
		Backoff: backoff,
	})

	graphStore := pgstore.New(pgstore.Params{
		Pool:        pgConn,
		DatabaseURL: settings.DatabaseURL,
		Backoff:     backoff,
	})

	orchestrator := pipeline.New(pipeline.Params{
		Registry:    pipeline.NewRegistry(pgConn),
		Checkpoints: checkpoint.NewStore(filepath.Join(settings.BaseDataDir, "checkpoints")),
		Stages: pipeline.NewStages(pipeline.StageDeps{
			Ingest:     ingestStage,
			Preprocess: preprocessStage,
			Extract:    extractStage,
			Threshold:  settings.ResolutionThreshold,
			BaseDir:    settings.BaseDataDir,
			Store:      graphStore,
			Locks:      leaselock.New(pgConn),
		}),
		Backoff: backoff,
	})

	logger.Info("Listening for messages")

	// Separate consumer channel with prefetch=1 so runs execute one at
	// a time per worker.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.RunQueue,
		queue.RunQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.RunQueue, "err", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.RunQueue)
					return
				}
				startTime := time.Now()

				processingErr := processRun(ctx, orchestrator, msg.Body)

				// If there was an error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", queue.RunQueue, "err", processingErr)
					handleProcessingError(consumerCh, msg, queue.RunQueue)
				} else {
					err = msg.Ack(false)
					if err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
				}

				logger.Info("Run finished", "duration", time.Since(startTime).Round(time.Second).String())
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

// runExecutor is the slice of the orchestrator the consumer needs.
type runExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

// processRun executes the run named in the message. A non-nil return
// sends the message through the retry queue; canceled, unknown and
// terminally failed runs are swallowed so the message is acked instead
// of bouncing forever while the run row flips back to running.
func processRun(ctx context.Context, executor runExecutor, body []byte) error {
	var msg queue.RunMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Error("Discarding malformed run message", "err", err)
		return nil
	}

	logger.Info("Executing run", "run_id", msg.RunID)
	err := executor.ExecuteRun(ctx, msg.RunID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrCanceled):
		logger.Info("Run canceled", "run_id", msg.RunID)
		return nil
	case errors.Is(err, pipeline.ErrRunNotFound):
		logger.Error("Run not found, discarding message", "run_id", msg.RunID)
		return nil
	case !pipeline.IsRetryable(err):
		logger.Error("Run failed terminally, discarding message", "run_id", msg.RunID, "err", err)
		return nil
	default:
		return err
	}
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// If message has been retried 10 times, send to dead-letter
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
