// Package events turns domain transitions into wire frames and decides which
// topics receive them. The routing table is static: every event type maps to
// a fixed set of topic templates filled from the event's Route.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/realtime/wire"
)

type Type string

const (
	OrderCreated             Type = "order:created"
	OrderStatusUpdated       Type = "order:status_updated"
	OrderReady               Type = "order:ready"
	OrderItemStatusUpdated   Type = "order_item:status_updated"
	KitchenNewItem           Type = "kitchen:new_item"
	KitchenItemCancelled     Type = "kitchen:item_cancelled"
	KitchenItemStarted       Type = "kitchen:item_started"
	KitchenItemCompleted     Type = "kitchen:item_completed"
	KitchenStationAssigned   Type = "kitchen:station_assigned"
	TableStatusUpdated       Type = "table:status_updated"
	ReservationStatusUpdated Type = "reservation:status_updated"
	ReservationAutoReleased  Type = "reservation:auto_released"
)

// UnassignedStation is the topic suffix for tickets without a station.
const UnassignedStation = "unassigned"

// Route carries the ids the routing table needs. Empty fields produce no
// topic, except Station which falls back to UnassignedStation.
type Route struct {
	CustomerID      string
	WaiterID        string
	Station         string
	PreviousStation string
	TableID         string
}

type Event struct {
	Type      Type
	EntityID  string
	Payload   any
	Timestamp time.Time
	Route     Route
}

type target int

const (
	toCustomer target = iota
	toWaiter
	toStation
	toPreviousStation
	toTable
)

var routes = map[Type][]target{
	OrderCreated:             {toCustomer, toWaiter},
	OrderStatusUpdated:       {toCustomer, toWaiter},
	OrderReady:               {toCustomer, toWaiter},
	OrderItemStatusUpdated:   {toCustomer, toWaiter},
	KitchenNewItem:           {toStation},
	KitchenItemCancelled:     {toStation},
	KitchenItemStarted:       {toStation, toWaiter},
	KitchenItemCompleted:     {toStation, toWaiter},
	KitchenStationAssigned:   {toPreviousStation, toStation},
	TableStatusUpdated:       {toTable},
	ReservationStatusUpdated: {toCustomer, toTable},
	ReservationAutoReleased:  {toCustomer, toTable},
}

func stationTopic(station string) string {
	if station == "" {
		station = UnassignedStation
	}
	return "kitchen." + station
}

// Topics resolves the event's destinations, without duplicates.
func Topics(e Event) []string {
	var out []string
	add := func(t string) {
		for _, existing := range out {
			if existing == t {
				return
			}
		}
		out = append(out, t)
	}

	for _, t := range routes[e.Type] {
		switch t {
		case toCustomer:
			if e.Route.CustomerID != "" {
				add("order." + e.Route.CustomerID)
			}
		case toWaiter:
			if e.Route.WaiterID != "" {
				add("waiter." + e.Route.WaiterID)
			}
		case toStation:
			add(stationTopic(e.Route.Station))
		case toPreviousStation:
			add(stationTopic(e.Route.PreviousStation))
		case toTable:
			if e.Route.TableID != "" {
				add("table." + e.Route.TableID)
			}
		}
	}
	return out
}

// Message renders the wire frame. Kitchen start/complete carry the ticket id
// at the top level instead of a data body.
func Message(e Event) wire.Message {
	ts := e.Timestamp
	switch e.Type {
	case KitchenItemStarted, KitchenItemCompleted:
		return wire.Message{Type: string(e.Type), ItemID: e.EntityID, Timestamp: &ts}
	}
	return wire.Message{Type: string(e.Type), Data: e.Payload, Timestamp: &ts}
}

// Publisher is satisfied by *hub.Hub.
type Publisher interface {
	PublishMessage(topics []string, msg wire.Message) (int, error)
}

// Listener reacts to emitted events off the request path.
type Listener func(ctx context.Context, e Event)

const defaultBacklog = 256

type subscription struct {
	types map[Type]bool
	fn    Listener
}

type Source struct {
	pub    Publisher
	clock  clock.Clock
	logger *slog.Logger

	mu   sync.RWMutex
	subs []subscription

	backlog chan Event
}

func NewSource(pub Publisher, clk clock.Clock, logger *slog.Logger) *Source {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		pub:     pub,
		clock:   clk,
		logger:  logger.With("component", "events"),
		backlog: make(chan Event, defaultBacklog),
	}
}

// Subscribe registers fn for the given types, or for every type when none
// are given. Listeners run on the Run goroutine.
func (s *Source) Subscribe(fn Listener, types ...Type) {
	sub := subscription{fn: fn}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Emit publishes to the hub and queues the event for listeners. It never
// blocks and never fails the caller.
func (s *Source) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock.Now()
	}

	topics := Topics(e)
	if len(topics) > 0 && s.pub != nil {
		n, err := s.pub.PublishMessage(topics, Message(e))
		if err != nil {
			s.logger.Error("publish_failed", "type", e.Type, "entity_id", e.EntityID, "error", err)
		} else {
			s.logger.Debug("event_published", "type", e.Type, "entity_id", e.EntityID, "topics", topics, "sessions", n)
		}
	}

	s.mu.RLock()
	interested := s.interested(e.Type)
	s.mu.RUnlock()
	if !interested {
		return
	}

	select {
	case s.backlog <- e:
	default:
		s.logger.Warn("listener_backlog_full", "type", e.Type, "entity_id", e.EntityID)
	}
}

func (s *Source) interested(t Type) bool {
	for _, sub := range s.subs {
		if sub.types == nil || sub.types[t] {
			return true
		}
	}
	return false
}

// Run delivers queued events to listeners until ctx is done.
func (s *Source) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.backlog:
			s.dispatch(ctx, e)
		}
	}
}

func (s *Source) dispatch(ctx context.Context, e Event) {
	s.mu.RLock()
	subs := append([]subscription(nil), s.subs...)
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("listener_panic", "type", e.Type, "panic", r)
				}
			}()
			sub.fn(ctx, e)
		}()
	}
}
