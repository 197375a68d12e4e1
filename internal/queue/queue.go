package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue = "ingest_queue"

	retrySuffix = "_retry"
	dlqSuffix   = "_dlq"

	// MaxRetries is how often a message is redelivered through the retry
	// queue before it is parked in the dead-letter queue.
	MaxRetries = 10
	retryDelay = 10 * time.Second
)

// Publisher is the publishing side of an AMQP channel.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Declarer is the queue declaration side of an AMQP channel.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// URLFromEnv builds the broker URL from the RABBITMQ_* variables.
func URLFromEnv() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnvString("RABBITMQ_USER", "guest"),
		util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
		util.GetEnvString("RABBITMQ_HOST", "localhost"),
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

// Dial connects to the broker, retrying while it is still starting up.
func Dial(ctx context.Context, url string) (*amqp091.Connection, error) {
	b := util.Backoff{MaxAttempts: 5, InitialDelay: time.Second, Factor: 2, MaxDelay: 10 * time.Second}
	conn, attempts, err := util.RetryWithBackoff(ctx, b, nil, func(ctx context.Context, attempt int) (*amqp091.Connection, error) {
		return amqp091.Dial(url)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempt(s): %w", attempts, err)
	}
	return conn, nil
}

// SetupQueues declares each work queue with its retry queue, which
// dead-letters back into the work queue after retryDelay, and its
// dead-letter queue.
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", name, err)
		}
		if _, err := ch.QueueDeclare(name+dlqSuffix, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", name+dlqSuffix, err)
		}
		_, err := ch.QueueDeclare(name+retrySuffix, true, false, false, false, amqp091.Table{
			"x-message-ttl":             int32(retryDelay.Milliseconds()),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("failed to declare %s: %w", name+retrySuffix, err)
		}
	}
	return nil
}

// PublishFIFO sends a persistent JSON message to queueName over the default
// exchange.
func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish("", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
