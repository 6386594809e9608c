// Package broker is a thin RabbitMQ client: one connection, one confirming
// channel, serialized publishes.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"restoran-fulfillment/internal/clock"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNack = errors.New("publish NACK from broker")

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks  <-chan amqp.Confirmation
	mu    sync.Mutex // one publish awaits its confirm at a time
	clock clock.Clock
}

// Dial connects to url (amqp:// or amqps://) and puts the channel in
// confirm mode.
func Dial(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &Client{conn: conn, ch: ch, acks: acks, clock: clock.Real()}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// DeclareTopic declares a durable topic exchange plus a durable queue bound
// to it with bindingKey.
func (c *Client) DeclareTopic(exchange, queue, bindingKey string) error {
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if queue == "" {
		return nil
	}
	if _, err := c.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := c.ch.QueueBind(queue, bindingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", queue, exchange, err)
	}
	return nil
}

// Publish sends a persistent JSON message and waits for the broker's confirm
// or ctx.
func (c *Client) Publish(ctx context.Context, exchange, key string, body []byte, headers map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.ch.GetNextPublishSeqNo()
	if err := c.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    c.clock.Now(),
		Headers:      amqp.Table(headers),
		Body:         body,
	}); err != nil {
		return err
	}
	return awaitConfirm(ctx, c.acks, seq)
}

// awaitConfirm waits for the confirmation of delivery tag seq. Confirmations
// for earlier tags belong to publishes that gave up on ctx and are dropped.
func awaitConfirm(ctx context.Context, acks <-chan amqp.Confirmation, seq uint64) error {
	for {
		select {
		case conf, ok := <-acks:
			if !ok {
				return amqp.ErrClosed
			}
			if conf.DeliveryTag < seq {
				continue
			}
			if conf.Ack {
				return nil
			}
			return ErrNack
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
