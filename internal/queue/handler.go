package queue

import (
	"context"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. A returned error sends the message
// through the retry queue.
type Handler func(ctx context.Context, body []byte) error

// Dispatch runs handle on msg and acknowledges it, routing failures to the
// retry or dead-letter queue.
func Dispatch(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, handle Handler) error {
	if err := handle(ctx, msg.Body); err != nil {
		logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
		HandleProcessingError(ch, msg, queueName)
		return err
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "queue", queueName, "err", err)
	}
	return nil
}

// retryCount reads the x-retries header. The broker hands integers back
// with the width they were published with, so several types are accepted.
func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError republishes msg to the retry queue with an
// incremented x-retries header, or to the dead-letter queue once MaxRetries
// is reached. If publishing fails the message is requeued.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string) {
	retries := retryCount(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + retrySuffix
	if retries >= MaxRetries {
		target = queueName + dlqSuffix
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	err := ch.Publish("", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
