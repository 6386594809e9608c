package fulfillment

import (
	"context"
	"fmt"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/lock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"
)

// workable reports whether items of an order in status st may move.
func workable(st models.OrderStatus) bool {
	return st == models.OrderConfirmed || st == models.OrderPreparing || st == models.OrderReady
}

// UpdateItemStatus moves an item forward. Items with a live kitchen ticket
// only reach preparing/ready through StartEntry/CompleteEntry; served
// requires ready and archives the ticket.
func (s *Service) UpdateItemStatus(ctx context.Context, itemID string, to models.ItemStatus, actor audit.Actor) (*models.OrderItem, error) {
	if to.Rank() < 0 {
		return nil, apperr.InvalidInput("unknown item status %q", to)
	}

	peek, err := s.store.Items.Get(ctx, itemID)
	if err != nil {
		return nil, storeErr(err, entityItem, itemID)
	}
	unlock := s.locks.Lock(lock.OrderKey(peek.OrderID))
	defer unlock()

	var (
		item *models.OrderItem
		evs  []events.Event
	)
	err = s.store.Transact(ctx, func(ctx context.Context) error {
		it, err := s.store.Items.Get(ctx, itemID)
		if err != nil {
			return storeErr(err, entityItem, itemID)
		}
		o, err := s.store.Orders.Get(ctx, it.OrderID)
		if err != nil {
			return storeErr(err, entityOrder, it.OrderID)
		}
		if !workable(o.Status) {
			return apperr.InvalidTransition("items of a %s order cannot change", o.Status)
		}
		if to.Rank() <= it.Status.Rank() {
			return apperr.InvalidTransition("item cannot move from %s to %s", it.Status, to)
		}
		if to == models.ItemServed && it.Status != models.ItemReady {
			return apperr.InvalidTransition("only ready items can be served")
		}

		ticket, err := s.ticketForItem(ctx, it.ID)
		if err != nil {
			return err
		}
		if ticket != nil && !ticket.Cancelled && to != models.ItemServed {
			return apperr.InvalidTransition("item is prepared through kitchen ticket %s", ticket.ID)
		}

		before := *it
		now := s.clock.Now()
		it.Status = to
		it.UpdatedAt = now
		if to == models.ItemServed {
			it.ServedAt = &now
			if err := s.archiveTicket(ctx, it.ID, now); err != nil {
				return err
			}
		}
		if err := s.store.Items.Update(ctx, it); err != nil {
			return storeErr(err, entityItem, it.ID)
		}
		if err := s.writeAudit(ctx, actor, entityItem, it.ID, models.AuditActionTransition,
			fmt.Sprintf("%s -> %s", before.Status, to), before, it); err != nil {
			return err
		}
		evs = append(evs, events.ItemEvent(o, it))

		settled, err := s.settle(ctx, o, now)
		if err != nil {
			return err
		}
		evs = append(evs, settled...)
		item = it
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	s.emit(evs)
	return item, nil
}

func (s *Service) ticketForItem(ctx context.Context, itemID string) (*models.KitchenQueueEntry, error) {
	list, err := s.store.Queue.List(ctx, store.Where(store.Eq("order_item_id", itemID)))
	if err != nil {
		return nil, storeErr(err, entityTicket, itemID)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Service) archiveTicket(ctx context.Context, itemID string, now time.Time) error {
	t, err := s.ticketForItem(ctx, itemID)
	if err != nil || t == nil || t.Archived {
		return err
	}
	t.Archived = true
	t.UpdatedAt = now
	if err := s.store.Queue.Update(ctx, t); err != nil {
		return storeErr(err, entityTicket, t.ID)
	}
	return nil
}

// settle recomputes the derived ready status after an item moved. It only
// returns order:ready when the order was not ready before.
func (s *Service) settle(ctx context.Context, o *models.Order, now time.Time) ([]events.Event, error) {
	if o.Status != models.OrderConfirmed && o.Status != models.OrderPreparing {
		return nil, nil
	}

	items, err := s.store.Items.List(ctx, store.Where(store.Eq("order_id", o.ID)))
	if err != nil {
		return nil, storeErr(err, entityItem, o.ID)
	}
	if len(items) == 0 {
		return nil, nil
	}
	for _, it := range items {
		if !it.Status.Done() {
			return nil, nil
		}
	}

	before := *o
	o.Status = models.OrderReady
	o.UpdatedAt = now
	if err := s.store.Orders.Update(ctx, o); err != nil {
		return nil, storeErr(err, entityOrder, o.ID)
	}
	if err := s.writeAudit(ctx, audit.System, entityOrder, o.ID, models.AuditActionTransition,
		fmt.Sprintf("%s -> ready: all items done", before.Status), before, o); err != nil {
		return nil, err
	}

	s.logger.Info("order_ready", "order_id", o.ID, "order_number", o.OrderNumber)
	return []events.Event{
		events.OrderEvent(events.OrderStatusUpdated, o),
		events.OrderEvent(events.OrderReady, o),
	}, nil
}

// promote moves a confirmed order to preparing when its first ticket starts.
func (s *Service) promote(ctx context.Context, o *models.Order, now time.Time) ([]events.Event, error) {
	if o.Status != models.OrderConfirmed {
		return nil, nil
	}
	before := *o
	o.Status = models.OrderPreparing
	o.UpdatedAt = now
	if err := s.store.Orders.Update(ctx, o); err != nil {
		return nil, storeErr(err, entityOrder, o.ID)
	}
	if err := s.writeAudit(ctx, audit.System, entityOrder, o.ID, models.AuditActionTransition,
		"confirmed -> preparing: first ticket started", before, o); err != nil {
		return nil, err
	}
	return []events.Event{events.OrderEvent(events.OrderStatusUpdated, o)}, nil
}
