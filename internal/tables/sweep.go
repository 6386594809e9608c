package tables

import (
	"context"
	"errors"
	"fmt"

	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"
)

// Sweep cancels every pending or confirmed reservation whose release
// deadline has passed and frees its table. Seated (active) reservations are
// never touched. It returns how many reservations were released.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	now := c.clock.Now()
	due, err := c.store.Reservations.List(ctx, store.Where(
		store.In("status", models.ReservationPending, models.ReservationConfirmed),
	).Sorted(store.Sort{Field: "reservation_time"}))
	if err != nil {
		return 0, storeErr(err, entityReservation, "")
	}

	var (
		released int
		errs     []error
	)
	for _, r := range due {
		if now.Before(r.ReleaseDeadline()) {
			continue
		}
		ok, err := c.releaseExpired(ctx, r.ID)
		if err != nil {
			c.logger.Error("auto_release_failed", "reservation_id", r.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			released++
		}
	}
	if released > 0 {
		c.logger.Info("sweep_completed", "released", released)
	}
	return released, errors.Join(errs...)
}

// releaseExpired re-checks the reservation under its lock; it may have been
// seated or cancelled since the sweep listed it.
func (c *Coordinator) releaseExpired(ctx context.Context, id string) (bool, error) {
	unlock, err := c.LockForOrder(ctx, nil, &id)
	if err != nil {
		return false, err
	}
	defer unlock()

	var evs []events.Event
	err = c.store.Transact(ctx, func(ctx context.Context) error {
		r, err := c.store.Reservations.Get(ctx, id)
		if err != nil {
			return storeErr(err, entityReservation, id)
		}
		now := c.clock.Now()
		if r.Status != models.ReservationPending && r.Status != models.ReservationConfirmed {
			return nil
		}
		if now.Before(r.ReleaseDeadline()) {
			return nil
		}

		before := *r
		r.Status = models.ReservationCancelled
		r.AutoReleasedAt = &now
		r.UpdatedAt = now
		if err := c.store.Reservations.Update(ctx, r); err != nil {
			return storeErr(err, entityReservation, r.ID)
		}
		if err := c.writeAudit(ctx, audit.System, entityReservation, r.ID, models.AuditActionCancel,
			fmt.Sprintf("auto-released %d minutes after %s", r.AutoReleaseMinutes, r.ReservationTime.Format("15:04")), before, r); err != nil {
			return err
		}
		evs = append(evs, events.ReservationEvent(events.ReservationAutoReleased, r))

		if r.TableID != nil {
			tb, err := c.store.Tables.Get(ctx, *r.TableID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return storeErr(err, entityTable, *r.TableID)
			}
			if err == nil {
				beforeTable := *tb
				if detach(tb, r.ID) {
					ev, err := c.saveTable(ctx, audit.System, beforeTable, tb, models.AuditActionRelease,
						fmt.Sprintf("table %d released: reservation %s expired", tb.Number, r.ID))
					if err != nil {
						return err
					}
					evs = append(evs, ev)
				}
			}
		}
		return nil
	})
	if err != nil {
		return false, txErr(err)
	}
	if len(evs) == 0 {
		return false, nil
	}

	c.logger.Info("reservation_auto_released", "reservation_id", id)
	c.emit(evs)
	return true, nil
}

// Run sweeps every SweepInterval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	c.logger.Info("sweep_started", "interval", c.sweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sweep_stopped")
			return
		case <-ticker.C():
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Error("sweep_failed", "error", err)
			}
		}
	}
}
