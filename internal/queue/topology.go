package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker topology shared by the publisher and the consumer. Both sides
// declare it, so argument tables must stay identical or the broker rejects
// the second declaration with PRECONDITION_FAILED.
const (
	ExchangeName = "warden.direct"
	RoutingKey   = "execute"
	QueueName    = "execution_tasks"

	DeadLetterExchange   = "warden.dlx"
	DeadLetterQueue      = "execution_tasks.dlq"
	deadLetterRoutingKey = "execution_tasks.dlq"

	// Reconnection parameters
	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

func queueArgs() amqp.Table {
	return amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
}

// declareTopology declares the exchanges, the work queue and its DLQ.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare DLX: %w", err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare DLQ: %w", err)
	}
	if err := ch.QueueBind(DeadLetterQueue, deadLetterRoutingKey, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind DLQ: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, queueArgs()); err != nil {
		return fmt.Errorf("rabbitmq: declare queue: %w", err)
	}
	if err := ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind queue: %w", err)
	}
	return nil
}

// backoff returns the delay before reconnect attempt n (0-based).
func backoff(attempt int) time.Duration {
	delay := baseReconnectDelay
	for i := 0; i < attempt && delay < maxReconnectDelay; i++ {
		delay *= 2
	}
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}
