// Package tables owns the table and reservation lifecycles: assignment,
// release, seating and the periodic auto-release sweep of reservations
// nobody showed up for.
package tables

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/lock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"
)

const (
	entityTable       = "table"
	entityReservation = "reservation"
	entityOrder       = "order"

	DefaultAutoReleaseMinutes = 15
	DefaultSweepInterval      = time.Minute
)

type Emitter interface {
	Emit(e events.Event)
}

type Auditor interface {
	WriteLog(ctx context.Context, opts audit.LogOptions) error
}

type Deps struct {
	Store  *store.Store
	Locks  *lock.Keyed
	Clock  clock.Clock
	Events Emitter
	Audit  Auditor
	// AutoReleaseMinutes is used for reservations created without one.
	AutoReleaseMinutes int
	SweepInterval      time.Duration
	Logger             *slog.Logger
}

type Coordinator struct {
	store         *store.Store
	locks         *lock.Keyed
	clock         clock.Clock
	events        Emitter
	auditor       Auditor
	autoRelease   int
	sweepInterval time.Duration
	logger        *slog.Logger
}

// NewCoordinator shares Locks with the fulfillment service so that both
// sides serialize on the same keys.
func NewCoordinator(d Deps) *Coordinator {
	if d.Locks == nil {
		d.Locks = lock.NewKeyed()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.AutoReleaseMinutes <= 0 {
		d.AutoReleaseMinutes = DefaultAutoReleaseMinutes
	}
	if d.SweepInterval <= 0 {
		d.SweepInterval = DefaultSweepInterval
	}
	return &Coordinator{
		store:         d.Store,
		locks:         d.Locks,
		clock:         d.Clock,
		events:        d.Events,
		auditor:       d.Audit,
		autoRelease:   d.AutoReleaseMinutes,
		sweepInterval: d.SweepInterval,
		logger:        d.Logger.With("component", "tables"),
	}
}

func (c *Coordinator) emit(evs []events.Event) {
	if c.events == nil {
		return
	}
	for _, e := range evs {
		c.events.Emit(e)
	}
}

func (c *Coordinator) writeAudit(ctx context.Context, actor audit.Actor, entityType, id string, action models.AuditAction, desc string, before, after any) error {
	if c.auditor == nil {
		return nil
	}
	return c.auditor.WriteLog(ctx, audit.LogOptions{
		Actor:       actor,
		EntityType:  entityType,
		EntityID:    id,
		Action:      action,
		Description: desc,
		Before:      before,
		After:       after,
	})
}

// LockForOrder takes the reservation lock, then the locks of every table
// involved (the given one and the reservation's) in key order. The returned
// func releases them in reverse.
func (c *Coordinator) LockForOrder(ctx context.Context, tableID, reservationID *string) (func(), error) {
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	tableIDs := map[string]bool{}
	if tableID != nil && *tableID != "" {
		tableIDs[*tableID] = true
	}
	if reservationID != nil && *reservationID != "" {
		unlocks = append(unlocks, c.locks.Lock(lock.ReservationKey(*reservationID)))
		r, err := c.store.Reservations.Get(ctx, *reservationID)
		switch {
		case err == nil:
			if r.TableID != nil {
				tableIDs[*r.TableID] = true
			}
		case errors.Is(err, store.ErrNotFound):
			// reported by the transaction that follows
		default:
			release()
			return nil, storeErr(err, entityReservation, *reservationID)
		}
	}

	keys := make([]string, 0, len(tableIDs))
	for id := range tableIDs {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	for _, id := range keys {
		unlocks = append(unlocks, c.locks.Lock(lock.TableKey(id)))
	}
	return release, nil
}

// saveTable writes tb and its audit row and returns the table event.
func (c *Coordinator) saveTable(ctx context.Context, actor audit.Actor, before models.Table, tb *models.Table, action models.AuditAction, desc string) (events.Event, error) {
	tb.UpdatedAt = c.clock.Now()
	if err := c.store.Tables.Update(ctx, tb); err != nil {
		return events.Event{}, storeErr(err, entityTable, tb.ID)
	}
	if err := c.writeAudit(ctx, actor, entityTable, tb.ID, action, desc, before, tb); err != nil {
		return events.Event{}, err
	}
	return events.TableEvent(tb), nil
}

// detach drops the reservation's hold on tb. A table still serving an order
// stays occupied.
func detach(tb *models.Table, reservationID string) bool {
	if tb == nil || tb.CurrentReservationID == nil || *tb.CurrentReservationID != reservationID {
		return false
	}
	if tb.CurrentOrderID != nil {
		tb.CurrentReservationID = nil
		return true
	}
	tb.Free()
	return true
}

func strPtr(s string) *string { return &s }

func storeErr(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("%s %s not found", entity, id)
	}
	if _, ok := apperr.KindOf(err); ok {
		return err
	}
	return apperr.Upstream(err, "%s %s could not be accessed", entity, id)
}

func txErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.KindOf(err); ok {
		return err
	}
	return apperr.Upstream(err, "record store transaction failed")
}
