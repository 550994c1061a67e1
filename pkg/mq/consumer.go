package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNonRetryable marks a handler failure that redelivery cannot fix
// (malformed payload, unknown schema). The consumer routes the message to
// the DLQ and acks it instead of requeueing forever.
var ErrNonRetryable = errors.New("non-retryable handler error")

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	logger     *zap.Logger
	done       chan struct{}
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := DeclareDLQExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		routingKey,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Stop closes the channel, which ends the delivery loop; StartConsuming
// returns once the in-flight message is acked or nacked.
func (c *Consumer) Stop() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	<-c.done
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be
// called in a goroutine.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	// Closed on every exit path, including registration failures, so Stop
	// never blocks on a consumer that never started.
	defer close(c.done)

	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	// Every delivery gets exactly one ack, nack or DLQ publish.
	for msg := range deliveries {
		c.handleDelivery(ctx, msg)
	}

	return nil
}

func (c *Consumer) handleDelivery(ctx context.Context, msg amqp091.Delivery) {
	c.logger.Debug("Received message",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.Int("message_size", len(msg.Body)),
	)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic",
					zap.String("routing_key", c.routingKey),
					zap.Error(err),
				)
			}
		}
	}()

	if err := c.handler(ctx, msg.Body); err != nil {
		if errors.Is(err, ErrNonRetryable) {
			// Poison message: park it in the DLQ and ack, redelivery
			// would fail the same way.
			c.logger.Error("Non-retryable handler error, routing to DLQ",
				zap.String("routing_key", c.routingKey),
				zap.Error(err),
			)
			if dlqErr := c.publishToDLQ(msg.Body, err.Error()); dlqErr != nil {
				c.logger.Error("Failed to publish to DLQ, requeueing",
					zap.String("routing_key", c.routingKey),
					zap.Error(dlqErr),
				)
				_ = msg.Nack(false, true)
				return
			}
			_ = msg.Ack(false)
			return
		}

		c.logger.Error("Handler error",
			zap.String("routing_key", c.routingKey),
			zap.String("queue", c.queue.Name),
			zap.Error(err),
		)
		// Retryable failure: nack and requeue so the broker redelivers.
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message",
				zap.String("routing_key", c.routingKey),
				zap.Error(err),
			)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("routing_key", c.routingKey),
			zap.Error(err),
		)
	} else {
		c.logger.Debug("Message processed successfully",
			zap.String("routing_key", c.routingKey),
			zap.String("queue", c.queue.Name),
		)
	}
}

func (c *Consumer) publishToDLQ(body []byte, reason string) error {
	headers := amqp091.Table{
		"x-original-error": reason,
		"x-failed-queue":   c.queue.Name,
	}

	return c.channel.Publish(
		DLQExchangeName,
		c.routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/cloudevents+json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
