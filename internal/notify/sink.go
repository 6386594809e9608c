package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/models"

	"github.com/google/uuid"
)

// Sink delivers one message to one recipient on one channel.
type Sink interface {
	Send(ctx context.Context, channel models.NotificationChannel, recipient, content string) error
}

// LogSink only logs; it stands in when no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(_ context.Context, channel models.NotificationChannel, recipient, content string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification_sent", "channel", channel, "recipient", recipient, "content", content)
	return nil
}

const (
	DefaultExchange = "notifications"
	DefaultQueue    = "notifications.q"
)

// Publisher is satisfied by *broker.Client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers map[string]any) error
}

// Job is the message a channel worker (mail, WhatsApp, Telegram gateway)
// consumes from the notifications exchange.
type Job struct {
	ID        string                     `json:"id"`
	Channel   models.NotificationChannel `json:"channel"`
	Recipient string                     `json:"recipient"`
	Content   string                     `json:"content"`
	CreatedAt string                     `json:"created_at"`
}

// BrokerSink hands notifications to channel workers over RabbitMQ, routed by
// "notify.<channel>". A publish is successful once the broker confirms it.
type BrokerSink struct {
	pub      Publisher
	exchange string
	clock    clock.Clock
}

func NewBrokerSink(pub Publisher, exchange string, clk clock.Clock) *BrokerSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &BrokerSink{pub: pub, exchange: exchange, clock: clk}
}

func RoutingKey(channel models.NotificationChannel) string {
	return "notify." + string(channel)
}

func (s *BrokerSink) Send(ctx context.Context, channel models.NotificationChannel, recipient, content string) error {
	job := Job{
		ID:        uuid.NewString(),
		Channel:   channel,
		Recipient: recipient,
		Content:   content,
		CreatedAt: s.clock.Now().Format("2006-01-02 15:04:05"),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.pub.Publish(ctx, s.exchange, RoutingKey(channel), body, map[string]any{"message_id": job.ID}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
