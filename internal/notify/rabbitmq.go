package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of amqp.Channel the dispatcher uses
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitDispatcher publishes email jobs to a durable RabbitMQ queue
type RabbitDispatcher struct {
	conn  *amqp.Connection
	ch    Channel
	queue string
}

// NewRabbitDispatcher dials url, opens a channel and declares the queue
func NewRabbitDispatcher(url, queue string) (*RabbitDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	d, err := NewRabbitDispatcherWithChannel(ch, queue)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	d.conn = conn
	return d, nil
}

// NewRabbitDispatcherWithChannel declares the queue on an existing channel
func NewRabbitDispatcherWithChannel(ch Channel, queue string) (*RabbitDispatcher, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &RabbitDispatcher{ch: ch, queue: queue}, nil
}

func (d *RabbitDispatcher) Send(ctx context.Context, to, templateID string, vars map[string]string) error {
	body, err := json.Marshal(EmailJob{
		To:        to,
		Template:  templateID,
		Variables: vars,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return d.ch.PublishWithContext(ctx, "", d.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close closes the channel and, when owned, the connection
func (d *RabbitDispatcher) Close() error {
	if err := d.ch.Close(); err != nil {
		return err
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
