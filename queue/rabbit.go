package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// RabbitMQEventBus implements EventBus over a durable RabbitMQ queue.
type RabbitMQEventBus struct {
	connection AMQPConnection
	channel    AMQPChannel
	queueName  string
}

// RabbitConfig configures the RabbitMQ connection and queue name.
type RabbitConfig struct {
	URL       string
	QueueName string
}

// NewRabbitMQEventBus connects to RabbitMQ and declares the durable queue.
func NewRabbitMQEventBus(cfg RabbitConfig) (*RabbitMQEventBus, error) {
	return NewRabbitMQEventBusWithDialer(cfg, &RealAMQPDialer{})
}

// NewRabbitMQEventBusWithDialer allows injecting a custom dialer for testing.
func NewRabbitMQEventBusWithDialer(cfg RabbitConfig, dialer AMQPDialer) (*RabbitMQEventBus, error) {
	conn, err := dialer.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &RabbitMQEventBus{connection: conn, channel: ch, queueName: cfg.QueueName}, nil
}

// Publish serializes and publishes a StorageEvent to the default exchange.
func (r *RabbitMQEventBus) Publish(ctx context.Context, event StorageEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = r.channel.Publish("", r.queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Consume starts delivering queued events to handler. Delivery
// acknowledgement (at-least-once) happens only after handler returns nil;
// a handler error requeues the message.
func (r *RabbitMQEventBus) Consume(ctx context.Context, consumerTag string, handler func(StorageEvent) error) error {
	deliveries, err := r.channel.Consume(r.queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			var event StorageEvent
			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				delivery.Nack(false, false)
				continue
			}
			if err := handler(event); err != nil {
				delivery.Nack(false, true)
				continue
			}
			delivery.Ack(false)
		}
	}
}

// Close closes the channel and connection.
func (r *RabbitMQEventBus) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		r.connection.Close()
	}
	return nil
}
