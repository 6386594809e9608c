package fulfillment

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/lock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/priority"
	"restoran-fulfillment/internal/store"

	"github.com/google/uuid"
)

type CreateItemInput struct {
	MenuItemID string  `json:"menu_item_id"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	Station    *string `json:"station"`
	Notes      string  `json:"notes"`
	// SkipKitchen items (bottled drinks, desserts from the fridge) get no
	// ticket; staff move them along with UpdateItemStatus.
	SkipKitchen bool `json:"skip_kitchen"`
}

type CreateOrderInput struct {
	Type          models.OrderType  `json:"type"`
	CustomerID    string            `json:"customer_id"`
	WaiterID      *string           `json:"waiter_id"`
	TableID       *string           `json:"table_id"`
	ReservationID *string           `json:"reservation_id"`
	Notes         string            `json:"notes"`
	Items         []CreateItemInput `json:"items"`
}

func (in CreateOrderInput) validate() error {
	if !in.Type.Valid() {
		return apperr.InvalidInput("unknown order type %q", in.Type)
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return apperr.InvalidInput("customer_id is required")
	}
	if len(in.Items) == 0 {
		return apperr.InvalidInput("an order needs at least one item")
	}
	if in.TableID != nil && in.Type != models.OrderTypeDineIn {
		return apperr.InvalidInput("only dine_in orders can hold a table")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.Name) == "" {
			return apperr.InvalidInput("item %d: name is required", i)
		}
		if it.Quantity <= 0 {
			return apperr.InvalidInput("item %d: quantity must be positive", i)
		}
		if it.UnitPrice < 0 {
			return apperr.InvalidInput("item %d: unit_price cannot be negative", i)
		}
	}
	return nil
}

func roundMoney(v float64) float64 { return math.Round(v*100) / 100 }

func orderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

func normStation(st *string) *string {
	if st == nil {
		return nil
	}
	v := strings.TrimSpace(*st)
	if v == "" {
		return nil
	}
	return &v
}

// CreateOrder stores the order, its items and one ticket per item that needs
// the kitchen. A dine-in order with a table occupies it in the same commit.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput, actor audit.Actor) (*models.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := &models.Order{
		ID:            uuid.NewString(),
		OrderNumber:   orderNumber(now),
		Type:          in.Type,
		Status:        models.OrderPending,
		CustomerID:    in.CustomerID,
		WaiterID:      in.WaiterID,
		TableID:       in.TableID,
		ReservationID: in.ReservationID,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	unlock := s.locks.Lock(lock.OrderKey(order.ID))
	defer unlock()

	unlockTables, err := s.lockOrderTables(ctx, order)
	if err != nil {
		return nil, err
	}
	defer unlockTables()

	var evs []events.Event
	err = s.store.Transact(ctx, func(ctx context.Context) error {
		if order.ReservationID != nil {
			r, err := s.store.Reservations.Get(ctx, *order.ReservationID)
			if err != nil {
				return storeErr(err, "reservation", *order.ReservationID)
			}
			if r.Status.Terminal() {
				return apperr.Conflict("reservation %s is %s", r.ID, r.Status)
			}
		}

		var subtotal float64
		items := make([]models.OrderItem, 0, len(in.Items))
		var tickets []*models.KitchenQueueEntry
		for _, it := range in.Items {
			item := &models.OrderItem{
				ID:         uuid.NewString(),
				OrderID:    order.ID,
				MenuItemID: it.MenuItemID,
				Name:       it.Name,
				Quantity:   it.Quantity,
				UnitPrice:  it.UnitPrice,
				Station:    normStation(it.Station),
				Status:     models.ItemPending,
				Notes:      it.Notes,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			subtotal += float64(it.Quantity) * it.UnitPrice
			if err := s.store.Items.Create(ctx, item); err != nil {
				return storeErr(err, entityItem, item.ID)
			}
			items = append(items, *item)

			if it.SkipKitchen {
				continue
			}
			ticket := &models.KitchenQueueEntry{
				OrderID:        order.ID,
				OrderItemID:    item.ID,
				OrderType:      order.Type,
				OrderCreatedAt: order.CreatedAt,
				MenuItemName:   item.Name,
				Quantity:       item.Quantity,
				Notes:          item.Notes,
				Station:        item.Station,
				Status:         models.QueueQueued,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.store.Queue.Create(ctx, ticket); err != nil {
				return storeErr(err, entityTicket, "")
			}
			tickets = append(tickets, ticket)
		}

		order.Subtotal = roundMoney(subtotal)
		order.Tax = roundMoney(subtotal * s.taxRate)
		order.Total = roundMoney(order.Subtotal + order.Tax)
		if err := s.store.Orders.Create(ctx, order); err != nil {
			return storeErr(err, entityOrder, order.ID)
		}
		order.Items = items

		if err := s.writeAudit(ctx, actor, entityOrder, order.ID, models.AuditActionCreate,
			fmt.Sprintf("order %s created with %d items", order.OrderNumber, len(items)), nil, order); err != nil {
			return err
		}

		if order.TableID != nil {
			if s.tables == nil {
				return apperr.InvalidInput("table assignment is not available")
			}
			tableEvs, err := s.tables.HoldTableForOrder(ctx, *order.TableID, order, actor)
			if err != nil {
				return err
			}
			evs = append(evs, tableEvs...)
		}

		evs = append(evs, events.OrderEvent(events.OrderCreated, order))
		for _, t := range tickets {
			t.Priority = priority.Calculate(t.OrderType, t.OrderCreatedAt, now)
			evs = append(evs, events.TicketEvent(events.KitchenNewItem, t, order.WaiterID))
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	s.logger.Info("order_created", "order_id", order.ID, "order_number", order.OrderNumber, "type", order.Type, "items", len(order.Items))
	s.emit(evs)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.store.Orders.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, entityOrder, id)
	}
	items, err := s.orderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *Service) orderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	list, err := s.store.Items.List(ctx, store.Where(store.Eq("order_id", orderID)).Sorted(store.Sort{Field: "created_at"}))
	if err != nil {
		return nil, storeErr(err, entityItem, orderID)
	}
	items := make([]models.OrderItem, 0, len(list))
	for _, it := range list {
		items = append(items, *it)
	}
	return items, nil
}

type OrderFilter struct {
	Statuses   []models.OrderStatus
	Type       models.OrderType
	CustomerID string
	WaiterID   string
	Limit      int
}

// ListOrders returns orders newest first, without their items.
func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
	var conds []store.Cond
	if len(f.Statuses) > 0 {
		conds = append(conds, store.In("status", f.Statuses...))
	}
	if f.Type != "" {
		conds = append(conds, store.Eq("type", f.Type))
	}
	if f.CustomerID != "" {
		conds = append(conds, store.Eq("customer_id", f.CustomerID))
	}
	if f.WaiterID != "" {
		conds = append(conds, store.Eq("waiter_id", f.WaiterID))
	}
	q := store.Where(conds...).Sorted(store.Sort{Field: "created_at", Desc: true})
	q.Limit = f.Limit

	orders, err := s.store.Orders.List(ctx, q)
	if err != nil {
		return nil, storeErr(err, entityOrder, "")
	}
	return orders, nil
}

// manual order transitions; ready is derived and cancelled goes through
// CancelOrder.
var orderNext = map[models.OrderStatus]models.OrderStatus{
	models.OrderPending:   models.OrderConfirmed,
	models.OrderConfirmed: models.OrderPreparing,
	models.OrderReady:     models.OrderDelivered,
}

func (s *Service) UpdateOrderStatus(ctx context.Context, id string, to models.OrderStatus, actor audit.Actor) (*models.Order, error) {
	switch to {
	case models.OrderReady:
		return nil, apperr.InvalidTransition("ready is derived from item statuses and cannot be set")
	case models.OrderCancelled:
		return s.CancelOrder(ctx, id, actor)
	case models.OrderPending, models.OrderConfirmed, models.OrderPreparing, models.OrderDelivered:
	default:
		return nil, apperr.InvalidInput("unknown order status %q", to)
	}

	unlock := s.locks.Lock(lock.OrderKey(id))
	defer unlock()

	current, err := s.store.Orders.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, entityOrder, id)
	}
	if next, ok := orderNext[current.Status]; !ok || next != to {
		return nil, apperr.InvalidTransition("order %s cannot move from %s to %s", current.OrderNumber, current.Status, to)
	}

	unlockTables := func() {}
	if to == models.OrderDelivered {
		if unlockTables, err = s.lockOrderTables(ctx, current); err != nil {
			return nil, err
		}
	}
	defer unlockTables()

	var (
		order *models.Order
		evs   []events.Event
	)
	err = s.store.Transact(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.Get(ctx, id)
		if err != nil {
			return storeErr(err, entityOrder, id)
		}
		before := *o
		now := s.clock.Now()

		o.Status = to
		o.UpdatedAt = now
		switch to {
		case models.OrderConfirmed:
			o.ConfirmedAt = &now
		case models.OrderDelivered:
			o.CompletedAt = &now
			served, err := s.serveRemaining(ctx, o, now, actor)
			if err != nil {
				return err
			}
			evs = append(evs, served...)
		}

		if err := s.store.Orders.Update(ctx, o); err != nil {
			return storeErr(err, entityOrder, id)
		}
		if err := s.writeAudit(ctx, actor, entityOrder, id, models.AuditActionTransition,
			fmt.Sprintf("%s -> %s", before.Status, to), before, o); err != nil {
			return err
		}

		if to == models.OrderDelivered {
			tableEvs, err := s.releaseTables(ctx, o, actor)
			if err != nil {
				return err
			}
			evs = append(evs, tableEvs...)
		}

		evs = append(evs, events.OrderEvent(events.OrderStatusUpdated, o))
		order = o
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	s.logger.Info("order_status_updated", "order_id", id, "status", to, "actor_id", actor.ID)
	s.emit(evs)
	return order, nil
}

// serveRemaining marks ready items served and archives their tickets when
// the order is handed over.
func (s *Service) serveRemaining(ctx context.Context, o *models.Order, now time.Time, actor audit.Actor) ([]events.Event, error) {
	items, err := s.store.Items.List(ctx, store.Where(store.Eq("order_id", o.ID), store.Eq("status", models.ItemReady)))
	if err != nil {
		return nil, storeErr(err, entityItem, o.ID)
	}
	var evs []events.Event
	for _, it := range items {
		it.Status = models.ItemServed
		it.ServedAt = &now
		it.UpdatedAt = now
		if err := s.store.Items.Update(ctx, it); err != nil {
			return nil, storeErr(err, entityItem, it.ID)
		}
		if err := s.archiveTicket(ctx, it.ID, now); err != nil {
			return nil, err
		}
		evs = append(evs, events.ItemEvent(o, it))
	}
	return evs, nil
}

// CancelOrder freezes the order's open tickets as cancelled audit records
// and releases any table or reservation it held.
func (s *Service) CancelOrder(ctx context.Context, id string, actor audit.Actor) (*models.Order, error) {
	unlock := s.locks.Lock(lock.OrderKey(id))
	defer unlock()

	current, err := s.store.Orders.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, entityOrder, id)
	}
	if current.Status.Terminal() {
		return nil, apperr.InvalidTransition("order %s is already %s", current.OrderNumber, current.Status)
	}

	unlockTables, err := s.lockOrderTables(ctx, current)
	if err != nil {
		return nil, err
	}
	defer unlockTables()

	var (
		order *models.Order
		evs   []events.Event
	)
	err = s.store.Transact(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.Get(ctx, id)
		if err != nil {
			return storeErr(err, entityOrder, id)
		}
		before := *o
		now := s.clock.Now()

		tickets, err := s.store.Queue.List(ctx, store.Where(store.Eq("order_id", id)))
		if err != nil {
			return storeErr(err, entityTicket, id)
		}
		for _, t := range tickets {
			if !t.Open() {
				continue
			}
			t.Cancelled = true
			t.UpdatedAt = now
			if err := s.store.Queue.Update(ctx, t); err != nil {
				return storeErr(err, entityTicket, t.ID)
			}
			t.Priority = priority.Calculate(t.OrderType, t.OrderCreatedAt, now)
			evs = append(evs, events.TicketEvent(events.KitchenItemCancelled, t, o.WaiterID))
		}

		o.Status = models.OrderCancelled
		o.CompletedAt = &now
		o.UpdatedAt = now
		if err := s.store.Orders.Update(ctx, o); err != nil {
			return storeErr(err, entityOrder, id)
		}
		if err := s.writeAudit(ctx, actor, entityOrder, id, models.AuditActionCancel,
			fmt.Sprintf("order %s cancelled from %s", o.OrderNumber, before.Status), before, o); err != nil {
			return err
		}

		tableEvs, err := s.releaseTables(ctx, o, actor)
		if err != nil {
			return err
		}
		evs = append(evs, tableEvs...)
		evs = append(evs, events.OrderEvent(events.OrderStatusUpdated, o))
		order = o
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	s.logger.Info("order_cancelled", "order_id", id, "actor_id", actor.ID)
	s.emit(evs)
	return order, nil
}
