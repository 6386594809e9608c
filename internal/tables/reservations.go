package tables

import (
	"context"
	"fmt"
	"strings"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"

	"github.com/google/uuid"
)

type CreateReservationInput struct {
	CustomerID         string    `json:"customer_id"`
	CustomerName       string    `json:"customer_name"`
	PartySize          int       `json:"party_size"`
	ReservationTime    time.Time `json:"reservation_time"`
	AutoReleaseMinutes int       `json:"auto_release_minutes"`
	Notes              string    `json:"notes"`
}

func (c *Coordinator) CreateReservation(ctx context.Context, in CreateReservationInput, actor audit.Actor) (*models.Reservation, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, apperr.InvalidInput("customer_id is required")
	}
	if in.PartySize <= 0 {
		return nil, apperr.InvalidInput("party_size must be positive")
	}
	if in.ReservationTime.IsZero() {
		return nil, apperr.InvalidInput("reservation_time is required")
	}
	if in.AutoReleaseMinutes < 0 {
		return nil, apperr.InvalidInput("auto_release_minutes cannot be negative")
	}
	if in.AutoReleaseMinutes == 0 {
		in.AutoReleaseMinutes = c.autoRelease
	}

	now := c.clock.Now()
	r := &models.Reservation{
		ID:                 uuid.NewString(),
		CustomerID:         in.CustomerID,
		CustomerName:       strings.TrimSpace(in.CustomerName),
		PartySize:          in.PartySize,
		ReservationTime:    in.ReservationTime.UTC(),
		AutoReleaseMinutes: in.AutoReleaseMinutes,
		Status:             models.ReservationPending,
		Notes:              in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := c.store.Transact(ctx, func(ctx context.Context) error {
		if err := c.store.Reservations.Create(ctx, r); err != nil {
			return storeErr(err, entityReservation, r.ID)
		}
		return c.writeAudit(ctx, actor, entityReservation, r.ID, models.AuditActionCreate,
			fmt.Sprintf("reservation for %d at %s", r.PartySize, r.ReservationTime.Format(time.RFC3339)), nil, r)
	})
	if err != nil {
		return nil, txErr(err)
	}

	c.logger.Info("reservation_created", "reservation_id", r.ID, "customer_id", r.CustomerID, "party_size", r.PartySize)
	c.emit([]events.Event{events.ReservationEvent(events.ReservationStatusUpdated, r)})
	return r, nil
}

func (c *Coordinator) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := c.store.Reservations.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, entityReservation, id)
	}
	return r, nil
}

type ReservationFilter struct {
	Statuses   []models.ReservationStatus
	CustomerID string
	TableID    string
	Limit      int
}

// ListReservations returns reservations by reservation time, earliest first.
func (c *Coordinator) ListReservations(ctx context.Context, f ReservationFilter) ([]*models.Reservation, error) {
	var conds []store.Cond
	if len(f.Statuses) > 0 {
		conds = append(conds, store.In("status", f.Statuses...))
	}
	if f.CustomerID != "" {
		conds = append(conds, store.Eq("customer_id", f.CustomerID))
	}
	if f.TableID != "" {
		conds = append(conds, store.Eq("table_id", f.TableID))
	}
	q := store.Where(conds...).Sorted(store.Sort{Field: "reservation_time"})
	q.Limit = f.Limit

	list, err := c.store.Reservations.List(ctx, q)
	if err != nil {
		return nil, storeErr(err, entityReservation, "")
	}
	return list, nil
}

// AssignReservationToTable confirms a pending reservation and holds the
// table for it.
func (c *Coordinator) AssignReservationToTable(ctx context.Context, reservationID, tableID string, actor audit.Actor) (*models.Reservation, error) {
	unlock, err := c.LockForOrder(ctx, &tableID, &reservationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		res *models.Reservation
		evs []events.Event
	)
	err = c.store.Transact(ctx, func(ctx context.Context) error {
		r, err := c.store.Reservations.Get(ctx, reservationID)
		if err != nil {
			return storeErr(err, entityReservation, reservationID)
		}
		if r.Status != models.ReservationPending {
			return apperr.InvalidTransition("reservation %s is %s, not pending", r.ID, r.Status)
		}
		tb, err := c.store.Tables.Get(ctx, tableID)
		if err != nil {
			return storeErr(err, entityTable, tableID)
		}
		if tb.Status != models.TableAvailable {
			return apperr.Conflict("table %d is %s", tb.Number, tb.Status)
		}
		if tb.Capacity < r.PartySize {
			return apperr.Conflict("table %d seats %d, party is %d", tb.Number, tb.Capacity, r.PartySize)
		}

		now := c.clock.Now()
		beforeRes := *r
		r.Status = models.ReservationConfirmed
		r.TableID = strPtr(tb.ID)
		r.ConfirmedAt = &now
		r.UpdatedAt = now
		if err := c.store.Reservations.Update(ctx, r); err != nil {
			return storeErr(err, entityReservation, r.ID)
		}
		if err := c.writeAudit(ctx, actor, entityReservation, r.ID, models.AuditActionAssign,
			fmt.Sprintf("pending -> confirmed at table %d", tb.Number), beforeRes, r); err != nil {
			return err
		}

		beforeTable := *tb
		tb.Status = models.TableReserved
		tb.CurrentReservationID = strPtr(r.ID)
		ev, err := c.saveTable(ctx, actor, beforeTable, tb, models.AuditActionAssign,
			fmt.Sprintf("table %d reserved for %s", tb.Number, r.ID))
		if err != nil {
			return err
		}

		evs = append(evs, events.ReservationEvent(events.ReservationStatusUpdated, r), ev)
		res = r
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	c.logger.Info("reservation_confirmed", "reservation_id", reservationID, "table_id", tableID, "actor_id", actor.ID)
	c.emit(evs)
	return res, nil
}

// reservationMove mutates r (already set to the target status) and its table,
// reporting whether the table changed.
type reservationMove func(r *models.Reservation, tb *models.Table, now time.Time) (bool, error)

func (c *Coordinator) moveReservation(ctx context.Context, id string, to models.ReservationStatus, from []models.ReservationStatus, actor audit.Actor, evType events.Type, fn reservationMove) (*models.Reservation, error) {
	unlock, err := c.LockForOrder(ctx, nil, &id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		res *models.Reservation
		evs []events.Event
	)
	err = c.store.Transact(ctx, func(ctx context.Context) error {
		r, err := c.store.Reservations.Get(ctx, id)
		if err != nil {
			return storeErr(err, entityReservation, id)
		}
		allowed := false
		for _, st := range from {
			if r.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperr.InvalidTransition("reservation %s cannot move from %s to %s", r.ID, r.Status, to)
		}

		var tb *models.Table
		if r.TableID != nil {
			if tb, err = c.store.Tables.Get(ctx, *r.TableID); err != nil {
				return storeErr(err, entityTable, *r.TableID)
			}
		}
		var beforeTable models.Table
		if tb != nil {
			beforeTable = *tb
		}

		now := c.clock.Now()
		before := *r
		r.Status = to
		r.UpdatedAt = now
		tableChanged, err := fn(r, tb, now)
		if err != nil {
			return err
		}
		if err := c.store.Reservations.Update(ctx, r); err != nil {
			return storeErr(err, entityReservation, r.ID)
		}
		action := models.AuditActionTransition
		if to == models.ReservationCancelled || to == models.ReservationNoShow {
			action = models.AuditActionCancel
		}
		if err := c.writeAudit(ctx, actor, entityReservation, r.ID, action,
			fmt.Sprintf("%s -> %s", before.Status, to), before, r); err != nil {
			return err
		}
		evs = append(evs, events.ReservationEvent(evType, r))

		if tableChanged {
			ev, err := c.saveTable(ctx, actor, beforeTable, tb, models.AuditActionTransition,
				fmt.Sprintf("table %d: reservation %s %s", tb.Number, r.ID, to))
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	c.logger.Info("reservation_status_updated", "reservation_id", id, "status", to, "actor_id", actor.ID)
	c.emit(evs)
	return res, nil
}

// ActivateReservation seats the party: the reserved table becomes occupied.
func (c *Coordinator) ActivateReservation(ctx context.Context, id string, actor audit.Actor) (*models.Reservation, error) {
	return c.moveReservation(ctx, id, models.ReservationActive,
		[]models.ReservationStatus{models.ReservationConfirmed}, actor, events.ReservationStatusUpdated,
		func(r *models.Reservation, tb *models.Table, now time.Time) (bool, error) {
			if tb == nil {
				return false, apperr.InvalidState("reservation %s has no table", r.ID)
			}
			if tb.CurrentReservationID == nil || *tb.CurrentReservationID != r.ID {
				return false, apperr.Conflict("table %d is not held for reservation %s", tb.Number, r.ID)
			}
			r.SeatedAt = &now
			tb.Status = models.TableOccupied
			return true, nil
		})
}

// CompleteReservation ends a seated reservation and frees its table unless an
// order is still being served there.
func (c *Coordinator) CompleteReservation(ctx context.Context, id string, actor audit.Actor) (*models.Reservation, error) {
	return c.moveReservation(ctx, id, models.ReservationCompleted,
		[]models.ReservationStatus{models.ReservationActive}, actor, events.ReservationStatusUpdated,
		func(r *models.Reservation, tb *models.Table, now time.Time) (bool, error) {
			r.CompletedAt = &now
			return detach(tb, r.ID), nil
		})
}

func (c *Coordinator) CancelReservation(ctx context.Context, id string, actor audit.Actor) (*models.Reservation, error) {
	return c.moveReservation(ctx, id, models.ReservationCancelled,
		[]models.ReservationStatus{models.ReservationPending, models.ReservationConfirmed}, actor, events.ReservationStatusUpdated,
		func(r *models.Reservation, tb *models.Table, now time.Time) (bool, error) {
			return detach(tb, r.ID), nil
		})
}

func (c *Coordinator) MarkNoShow(ctx context.Context, id string, actor audit.Actor) (*models.Reservation, error) {
	return c.moveReservation(ctx, id, models.ReservationNoShow,
		[]models.ReservationStatus{models.ReservationPending, models.ReservationConfirmed}, actor, events.ReservationStatusUpdated,
		func(r *models.Reservation, tb *models.Table, now time.Time) (bool, error) {
			return detach(tb, r.ID), nil
		})
}
