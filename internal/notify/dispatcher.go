// Package notify tells customers when something they wait for happens:
// their order is ready, handed over or cancelled, or their reservation
// lapsed. Every attempt is recorded in a NotificationLog; failed sends are
// retried with exponential backoff until MaxAttempts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultMaxAttempts   = 5
	DefaultRetryInterval = 30 * time.Second
	DefaultBaseBackoff   = 30 * time.Second
	maxBackoff           = time.Hour
	sendTimeout          = 10 * time.Second
)

type Deps struct {
	Store         *store.Store
	Sink          Sink
	Clock         clock.Clock
	MaxAttempts   int
	RetryInterval time.Duration
	BaseBackoff   time.Duration
	Logger        *slog.Logger
}

type Dispatcher struct {
	store         *store.Store
	sink          Sink
	clock         clock.Clock
	maxAttempts   int
	retryInterval time.Duration
	baseBackoff   time.Duration
	logger        *slog.Logger
}

func NewDispatcher(d Deps) *Dispatcher {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if d.RetryInterval <= 0 {
		d.RetryInterval = DefaultRetryInterval
	}
	if d.BaseBackoff <= 0 {
		d.BaseBackoff = DefaultBaseBackoff
	}
	return &Dispatcher{
		store:         d.Store,
		sink:          d.Sink,
		clock:         d.Clock,
		maxAttempts:   d.MaxAttempts,
		retryInterval: d.RetryInterval,
		baseBackoff:   d.BaseBackoff,
		logger:        d.Logger.With("component", "notify"),
	}
}

// Subscriber is satisfied by *events.Source.
type Subscriber interface {
	Subscribe(fn events.Listener, types ...events.Type)
}

func (d *Dispatcher) Subscribe(src Subscriber) {
	src.Subscribe(d.Handle, events.OrderReady, events.OrderStatusUpdated, events.ReservationAutoReleased)
}

// Content renders the customer-facing text for e; ok is false for events
// nobody is told about.
func Content(e events.Event) (content string, ok bool) {
	switch e.Type {
	case events.OrderReady:
		if o, isOrder := e.Payload.(events.OrderData); isOrder {
			return fmt.Sprintf("Your order %s is ready.", o.OrderNumber), true
		}
	case events.OrderStatusUpdated:
		o, isOrder := e.Payload.(events.OrderData)
		if !isOrder {
			return "", false
		}
		switch o.Status {
		case models.OrderDelivered:
			return fmt.Sprintf("Your order %s has been delivered. Enjoy your meal!", o.OrderNumber), true
		case models.OrderCancelled:
			return fmt.Sprintf("Your order %s has been cancelled.", o.OrderNumber), true
		}
	case events.ReservationAutoReleased:
		return "Your reservation was released because nobody arrived within the hold time.", true
	}
	return "", false
}

// Handle is the events.Listener. It never returns an error: failures are in
// the NotificationLog and picked up by the retry loop.
func (d *Dispatcher) Handle(ctx context.Context, e events.Event) {
	content, ok := Content(e)
	if !ok || e.Route.CustomerID == "" {
		return
	}

	u, err := d.store.Users.Get(ctx, e.Route.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.logger.Debug("notification_skipped", "reason", "unknown user", "user_id", e.Route.CustomerID, "type", e.Type)
			return
		}
		d.logger.Error("user_lookup_failed", "user_id", e.Route.CustomerID, "error", err)
		return
	}
	channel, recipient := u.Recipient()
	if recipient == "" {
		d.logger.Debug("notification_skipped", "reason", "no address", "user_id", u.ID, "type", e.Type)
		return
	}

	now := d.clock.Now()
	n := &models.NotificationLog{
		ID:        uuid.NewString(),
		EventType: string(e.Type),
		EntityID:  e.EntityID,
		UserID:    u.ID,
		Channel:   channel,
		Recipient: recipient,
		Content:   content,
		Status:    models.NotificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.Notifications.Create(ctx, n); err != nil {
		d.logger.Error("notification_log_failed", "user_id", u.ID, "type", e.Type, "error", err)
		return
	}
	d.attempt(ctx, n)
}

// Backoff is the wait before retry number attempt (1-based), doubling from
// base and capped at an hour.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}

func (d *Dispatcher) attempt(ctx context.Context, n *models.NotificationLog) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := d.sink.Send(sendCtx, n.Channel, n.Recipient, n.Content)
	cancel()

	now := d.clock.Now()
	n.Attempts++
	n.UpdatedAt = now
	switch {
	case err == nil:
		n.Status = models.NotificationSent
		n.SentAt = &now
		n.NextAttemptAt = nil
		n.LastError = ""
		d.logger.Info("notification_delivered", "notification_id", n.ID, "channel", n.Channel, "attempts", n.Attempts)
	case n.Attempts >= d.maxAttempts:
		n.Status = models.NotificationFailed
		n.NextAttemptAt = nil
		n.LastError = truncate(err.Error(), 255)
		d.logger.Error("notification_failed", "notification_id", n.ID, "attempts", n.Attempts, "error", err)
	default:
		next := now.Add(Backoff(d.baseBackoff, n.Attempts))
		n.NextAttemptAt = &next
		n.LastError = truncate(err.Error(), 255)
		d.logger.Warn("notification_retry_scheduled", "notification_id", n.ID, "attempts", n.Attempts, "next_attempt_at", next, "error", err)
	}

	if err := d.store.Notifications.Update(ctx, n); err != nil {
		d.logger.Error("notification_log_failed", "notification_id", n.ID, "error", err)
	}
}

// RetryDue re-sends every pending notification whose next attempt is due and
// returns how many were attempted.
func (d *Dispatcher) RetryDue(ctx context.Context) (int, error) {
	pending, err := d.store.Notifications.List(ctx, store.Where(
		store.Eq("status", models.NotificationPending),
	).Sorted(store.Sort{Field: "created_at"}))
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	now := d.clock.Now()
	tried := 0
	for _, n := range pending {
		if n.NextAttemptAt == nil || now.Before(*n.NextAttemptAt) {
			continue
		}
		if ctx.Err() != nil {
			return tried, ctx.Err()
		}
		d.attempt(ctx, n)
		tried++
	}
	return tried, nil
}

// Run retries due notifications every RetryInterval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := d.RetryDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("notification_retry_failed", "error", err)
			}
		}
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
