package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/realtime/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 16, 19, 30, 0, 0, time.UTC)

type published struct {
	topics []string
	msg    wire.Message
}

type recorder struct {
	mu  sync.Mutex
	got []published
}

func (r *recorder) PublishMessage(topics []string, msg wire.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, published{topics: topics, msg: msg})
	return len(topics), nil
}

func strPtr(s string) *string { return &s }

func TestRoutingTable(t *testing.T) {
	order := &models.Order{ID: "o1", OrderNumber: "ORD-20261016-ABC123", CustomerID: "c1", WaiterID: strPtr("w1"), Status: models.OrderReady}
	grill := &models.KitchenQueueEntry{ID: "e1", Station: strPtr("grill")}
	loose := &models.KitchenQueueEntry{ID: "e2"}

	cases := []struct {
		name string
		ev   Event
		want []string
	}{
		{"order ready", OrderEvent(OrderReady, order), []string{"order.c1", "waiter.w1"}},
		{"order without waiter", OrderEvent(OrderCreated, &models.Order{ID: "o2", CustomerID: "c2"}), []string{"order.c2"}},
		{"item", ItemEvent(order, &models.OrderItem{ID: "i1"}), []string{"order.c1", "waiter.w1"}},
		{"new ticket", TicketEvent(KitchenNewItem, grill, order.WaiterID), []string{"kitchen.grill"}},
		{"started reaches waiter", TicketEvent(KitchenItemStarted, grill, order.WaiterID), []string{"kitchen.grill", "waiter.w1"}},
		{"no station", TicketEvent(KitchenItemCancelled, loose, nil), []string{"kitchen.unassigned"}},
		{"station moved", StationEvent(grill, "fryer"), []string{"kitchen.fryer", "kitchen.grill"}},
		{"station assigned first time", StationEvent(grill, ""), []string{"kitchen.unassigned", "kitchen.grill"}},
		{"table", TableEvent(&models.Table{ID: "t1"}), []string{"table.t1"}},
		{"reservation released", ReservationEvent(ReservationAutoReleased, &models.Reservation{ID: "r1", CustomerID: "c9", TableID: strPtr("t4")}), []string{"order.c9", "table.t4"}},
		{"unknown type", Event{Type: "menu:updated"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Topics(tc.ev))
		})
	}
}

func TestMessageShapes(t *testing.T) {
	e := &models.KitchenQueueEntry{ID: "e1", Station: strPtr("bar")}

	started := Message(Event{Type: KitchenItemStarted, EntityID: e.ID, Payload: e, Timestamp: t0})
	assert.Equal(t, "e1", started.ItemID)
	assert.Nil(t, started.Data)
	require.NotNil(t, started.Timestamp)
	assert.Equal(t, t0, *started.Timestamp)

	order := Message(OrderEvent(OrderStatusUpdated, &models.Order{ID: "o1", OrderNumber: "ORD-1", Status: models.OrderConfirmed}))
	assert.Equal(t, OrderData{OrderID: "o1", OrderNumber: "ORD-1", Status: models.OrderConfirmed}, order.Data)
	assert.Empty(t, order.ItemID)
}

func TestEmitPublishesAndNotifiesListeners(t *testing.T) {
	pub := &recorder{}
	src := NewSource(pub, clock.NewFake(t0), slog.New(slog.NewTextHandler(io.Discard, nil)))

	got := make(chan Event, 4)
	src.Subscribe(func(_ context.Context, e Event) { got <- e }, OrderReady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	order := &models.Order{ID: "o1", CustomerID: "c1"}
	src.Emit(OrderEvent(OrderStatusUpdated, order))
	src.Emit(OrderEvent(OrderReady, order))

	select {
	case e := <-got:
		assert.Equal(t, OrderReady, e.Type)
		assert.Equal(t, t0, e.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
	assert.Empty(t, got, "status_updated is not subscribed")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.got, 2)
	assert.Equal(t, []string{"order.c1"}, pub.got[0].topics)
	assert.Equal(t, string(OrderReady), pub.got[1].msg.Type)
}

func TestEmitNeverBlocksWithoutRunner(t *testing.T) {
	src := NewSource(&recorder{}, clock.NewFake(t0), slog.New(slog.NewTextHandler(io.Discard, nil)))
	src.Subscribe(func(context.Context, Event) {})

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBacklog*2; i++ {
			src.Emit(TableEvent(&models.Table{ID: "t1"}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full backlog")
	}
}
