// Package queue wires the server and the worker together over
// RabbitMQ. Runs are published FIFO to a durable queue; failed
// deliveries dead-letter through a retry queue with a TTL before
// landing back on the main queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

// RunQueue carries pipeline run requests from the API to the worker.
const RunQueue = "pipeline_queue"

// retryTTL is how long a redelivered message parks in the retry queue
// before returning to the main queue.
const retryTTL = int32(10000)

// RunMessage is the payload published for every started run.
type RunMessage struct {
	RunID string `json:"run_id"`
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares each queue together with its dead-letter and
// retry companions. Declaration is idempotent; both server and worker
// call it on startup.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}

	return nil
}

// PublishFIFO publishes a persistent message straight to a queue via
// the default exchange.
func PublishFIFO(ch *amqp091.Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

// RunPublisher satisfies the orchestrator's Publisher over an amqp
// channel.
type RunPublisher struct {
	ch *amqp091.Channel
}

func NewRunPublisher(ch *amqp091.Channel) *RunPublisher {
	return &RunPublisher{ch: ch}
}

func (p *RunPublisher) PublishRun(_ context.Context, runID string) error {
	payload, err := json.Marshal(RunMessage{RunID: runID})
	if err != nil {
		return err
	}
	if err := PublishFIFO(p.ch, RunQueue, payload); err != nil {
		return fmt.Errorf("publish run %s: %w", runID, err)
	}
	logger.Debug("[Queue] Run published", "run", runID)
	return nil
}
