package tables

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/lock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"

	"github.com/google/uuid"
)

type CreateTableInput struct {
	Number   int    `json:"number"`
	Capacity int    `json:"capacity"`
	Location string `json:"location"`
}

func (c *Coordinator) CreateTable(ctx context.Context, in CreateTableInput, actor audit.Actor) (*models.Table, error) {
	if in.Number <= 0 {
		return nil, apperr.InvalidInput("table number must be positive")
	}
	if in.Capacity <= 0 {
		return nil, apperr.InvalidInput("capacity must be positive")
	}

	now := c.clock.Now()
	tb := &models.Table{
		ID:        uuid.NewString(),
		Number:    in.Number,
		Capacity:  in.Capacity,
		Location:  strings.TrimSpace(in.Location),
		Status:    models.TableAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := c.store.Transact(ctx, func(ctx context.Context) error {
		n, err := c.store.Tables.Count(ctx, store.Where(store.Eq("number", in.Number)))
		if err != nil {
			return storeErr(err, entityTable, "")
		}
		if n > 0 {
			return apperr.Conflict("table number %d already exists", in.Number)
		}
		if err := c.store.Tables.Create(ctx, tb); err != nil {
			return storeErr(err, entityTable, tb.ID)
		}
		return c.writeAudit(ctx, actor, entityTable, tb.ID, models.AuditActionCreate,
			fmt.Sprintf("table %d created", tb.Number), nil, tb)
	})
	if err != nil {
		return nil, txErr(err)
	}

	c.logger.Info("table_created", "table_id", tb.ID, "number", tb.Number)
	return tb, nil
}

func (c *Coordinator) GetTable(ctx context.Context, id string) (*models.Table, error) {
	tb, err := c.store.Tables.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, entityTable, id)
	}
	return tb, nil
}

// ListTables returns tables by number, optionally narrowed to one status.
func (c *Coordinator) ListTables(ctx context.Context, status models.TableStatus) ([]*models.Table, error) {
	var conds []store.Cond
	if status != "" {
		conds = append(conds, store.Eq("status", status))
	}
	list, err := c.store.Tables.List(ctx, store.Where(conds...).Sorted(store.Sort{Field: "number"}))
	if err != nil {
		return nil, storeErr(err, entityTable, "")
	}
	return list, nil
}

// HoldTableForOrder occupies the table for a dine-in order. The table must be
// available, or held by the order's own reservation, which is seated as a
// side effect. Runs inside the caller's transaction under LockForOrder.
func (c *Coordinator) HoldTableForOrder(ctx context.Context, tableID string, o *models.Order, actor audit.Actor) ([]events.Event, error) {
	tb, err := c.store.Tables.Get(ctx, tableID)
	if err != nil {
		return nil, storeErr(err, entityTable, tableID)
	}

	ownReservation := o.ReservationID != nil && tb.CurrentReservationID != nil &&
		*tb.CurrentReservationID == *o.ReservationID && tb.CurrentOrderID == nil
	if tb.Status != models.TableAvailable && !ownReservation {
		return nil, apperr.Conflict("table %d is %s", tb.Number, tb.Status)
	}

	var evs []events.Event
	if ownReservation {
		r, err := c.store.Reservations.Get(ctx, *o.ReservationID)
		if err != nil {
			return nil, storeErr(err, entityReservation, *o.ReservationID)
		}
		if r.Status == models.ReservationConfirmed {
			before := *r
			now := c.clock.Now()
			r.Status = models.ReservationActive
			r.SeatedAt = &now
			r.UpdatedAt = now
			if err := c.store.Reservations.Update(ctx, r); err != nil {
				return nil, storeErr(err, entityReservation, r.ID)
			}
			if err := c.writeAudit(ctx, actor, entityReservation, r.ID, models.AuditActionTransition,
				"confirmed -> active: order placed at the table", before, r); err != nil {
				return nil, err
			}
			evs = append(evs, events.ReservationEvent(events.ReservationStatusUpdated, r))
		}
	}

	before := *tb
	tb.Status = models.TableOccupied
	tb.CurrentOrderID = strPtr(o.ID)
	ev, err := c.saveTable(ctx, actor, before, tb, models.AuditActionAssign,
		fmt.Sprintf("table %d occupied by order %s", tb.Number, o.OrderNumber))
	if err != nil {
		return nil, err
	}
	return append(evs, ev), nil
}

// ReleaseForOrder completes the order's active reservation and frees every
// table still held by the order or that reservation. A cancelled order also
// cancels a reservation it had not been seated on yet. Tables already moved
// on are left alone. Runs inside the caller's transaction under LockForOrder.
func (c *Coordinator) ReleaseForOrder(ctx context.Context, o *models.Order, actor audit.Actor) ([]events.Event, error) {
	var (
		evs      []events.Event
		released string
		tableIDs []string
	)
	now := c.clock.Now()

	if o.TableID != nil {
		tableIDs = append(tableIDs, *o.TableID)
	}
	if o.ReservationID != nil {
		r, err := c.store.Reservations.Get(ctx, *o.ReservationID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, storeErr(err, entityReservation, *o.ReservationID)
		}
		if err == nil {
			before := *r
			action := models.AuditActionTransition
			switch {
			case r.Status == models.ReservationActive:
				r.Status = models.ReservationCompleted
				r.CompletedAt = &now
			case o.Status == models.OrderCancelled &&
				(r.Status == models.ReservationPending || r.Status == models.ReservationConfirmed):
				r.Status = models.ReservationCancelled
				action = models.AuditActionCancel
			}
			if r.Status != before.Status {
				r.UpdatedAt = now
				if err := c.store.Reservations.Update(ctx, r); err != nil {
					return nil, storeErr(err, entityReservation, r.ID)
				}
				if err := c.writeAudit(ctx, actor, entityReservation, r.ID, action,
					fmt.Sprintf("%s -> %s: order %s %s", before.Status, r.Status, o.OrderNumber, o.Status), before, r); err != nil {
					return nil, err
				}
				evs = append(evs, events.ReservationEvent(events.ReservationStatusUpdated, r))
				released = r.ID
				if r.TableID != nil && (o.TableID == nil || *r.TableID != *o.TableID) {
					tableIDs = append(tableIDs, *r.TableID)
				}
			}
		}
	}

	for _, id := range tableIDs {
		tb, err := c.store.Tables.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, storeErr(err, entityTable, id)
		}
		holdsOrder := tb.CurrentOrderID != nil && *tb.CurrentOrderID == o.ID
		holdsReservation := released != "" && tb.CurrentReservationID != nil && *tb.CurrentReservationID == released
		if !holdsOrder && !holdsReservation {
			continue
		}
		before := *tb
		if holdsOrder {
			tb.CurrentOrderID = nil
		}
		if holdsReservation {
			tb.CurrentReservationID = nil
		}
		if tb.CurrentOrderID == nil && tb.CurrentReservationID == nil {
			tb.Free()
		}
		ev, err := c.saveTable(ctx, actor, before, tb, models.AuditActionRelease,
			fmt.Sprintf("table %d released by order %s", tb.Number, o.OrderNumber))
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// OnOrderCompleted releases what a finished order held, for callers outside
// the fulfillment transaction. The order lock must already be held.
func (c *Coordinator) OnOrderCompleted(ctx context.Context, o *models.Order, actor audit.Actor) error {
	unlock, err := c.LockForOrder(ctx, o.TableID, o.ReservationID)
	if err != nil {
		return err
	}
	defer unlock()

	var evs []events.Event
	err = c.store.Transact(ctx, func(ctx context.Context) error {
		released, err := c.ReleaseForOrder(ctx, o, actor)
		evs = released
		return err
	})
	if err != nil {
		return txErr(err)
	}
	c.emit(evs)
	return nil
}

// AssignOrderToTable seats an existing dine-in order at an available table.
func (c *Coordinator) AssignOrderToTable(ctx context.Context, tableID, orderID string, actor audit.Actor) (*models.Table, error) {
	unlockOrder := c.locks.Lock(lock.OrderKey(orderID))
	defer unlockOrder()

	peek, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, entityOrder, orderID)
	}
	unlock, err := c.LockForOrder(ctx, &tableID, peek.ReservationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		table *models.Table
		evs   []events.Event
	)
	err = c.store.Transact(ctx, func(ctx context.Context) error {
		o, err := c.store.Orders.Get(ctx, orderID)
		if err != nil {
			return storeErr(err, entityOrder, orderID)
		}
		if o.Status.Terminal() {
			return apperr.InvalidTransition("order %s is already %s", o.OrderNumber, o.Status)
		}
		if o.Type != models.OrderTypeDineIn {
			return apperr.InvalidInput("only dine_in orders can hold a table")
		}
		if o.TableID != nil {
			return apperr.Conflict("order %s already holds table %s", o.OrderNumber, *o.TableID)
		}

		held, err := c.HoldTableForOrder(ctx, tableID, o, actor)
		if err != nil {
			return err
		}
		evs = held

		before := *o
		o.TableID = strPtr(tableID)
		o.UpdatedAt = c.clock.Now()
		if err := c.store.Orders.Update(ctx, o); err != nil {
			return storeErr(err, entityOrder, o.ID)
		}
		if err := c.writeAudit(ctx, actor, entityOrder, o.ID, models.AuditActionAssign,
			fmt.Sprintf("order %s seated at table %s", o.OrderNumber, tableID), before, o); err != nil {
			return err
		}

		table, err = c.store.Tables.Get(ctx, tableID)
		return storeErr(err, entityTable, tableID)
	})
	if err != nil {
		return nil, txErr(err)
	}

	c.logger.Info("order_assigned_to_table", "order_id", orderID, "table_id", tableID, "actor_id", actor.ID)
	c.emit(evs)
	return table, nil
}

// ReleaseTable frees the table whatever it held. Releasing an available
// table is a no-op.
func (c *Coordinator) ReleaseTable(ctx context.Context, tableID string, actor audit.Actor) (*models.Table, error) {
	unlock := c.locks.Lock(lock.TableKey(tableID))
	defer unlock()

	var (
		table *models.Table
		evs   []events.Event
	)
	err := c.store.Transact(ctx, func(ctx context.Context) error {
		tb, err := c.store.Tables.Get(ctx, tableID)
		if err != nil {
			return storeErr(err, entityTable, tableID)
		}
		table = tb
		if tb.Status == models.TableAvailable && tb.CurrentOrderID == nil && tb.CurrentReservationID == nil {
			return nil
		}

		before := *tb
		tb.Free()
		ev, err := c.saveTable(ctx, actor, before, tb, models.AuditActionRelease,
			fmt.Sprintf("table %d released from %s", tb.Number, before.Status))
		if err != nil {
			return err
		}
		evs = append(evs, ev)
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	if len(evs) > 0 {
		c.logger.Info("table_released", "table_id", tableID, "actor_id", actor.ID)
	}
	c.emit(evs)
	return table, nil
}

// SetTableStatus toggles housekeeping between cleaning and available. Tables
// that still hold an order or reservation must be released first.
func (c *Coordinator) SetTableStatus(ctx context.Context, tableID string, to models.TableStatus, actor audit.Actor) (*models.Table, error) {
	switch to {
	case models.TableCleaning, models.TableAvailable:
	case models.TableOccupied, models.TableReserved:
		return nil, apperr.InvalidTransition("%s is set by assigning an order or reservation", to)
	default:
		return nil, apperr.InvalidInput("unknown table status %q", to)
	}

	unlock := c.locks.Lock(lock.TableKey(tableID))
	defer unlock()

	var (
		table *models.Table
		evs   []events.Event
	)
	err := c.store.Transact(ctx, func(ctx context.Context) error {
		tb, err := c.store.Tables.Get(ctx, tableID)
		if err != nil {
			return storeErr(err, entityTable, tableID)
		}
		table = tb
		if tb.Status == to {
			return nil
		}
		if tb.CurrentOrderID != nil || tb.CurrentReservationID != nil {
			return apperr.Conflict("table %d is %s; release it first", tb.Number, tb.Status)
		}

		before := *tb
		tb.Status = to
		ev, err := c.saveTable(ctx, actor, before, tb, models.AuditActionTransition,
			fmt.Sprintf("%s -> %s", before.Status, to))
		if err != nil {
			return err
		}
		evs = append(evs, ev)
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	c.emit(evs)
	return table, nil
}
