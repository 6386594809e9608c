// Package fulfillment is the order state machine: orders, their items and
// the kitchen tickets that prepare them. The ready status of an order is
// derived from its items and announced once, on the edge.
package fulfillment

import (
	"context"
	"errors"
	"log/slog"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/lock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"
)

const (
	entityOrder  = "order"
	entityItem   = "order_item"
	entityTicket = "kitchen_queue_entry"
)

type Emitter interface {
	Emit(e events.Event)
}

type Auditor interface {
	WriteLog(ctx context.Context, opts audit.LogOptions) error
}

// TableCoordinator is the slice of the table/reservation coordinator the
// state machine calls into. The Hold/Release methods run inside the
// caller's transaction and expect LockForOrder to be held; they return the
// events to emit after commit.
type TableCoordinator interface {
	LockForOrder(ctx context.Context, tableID, reservationID *string) (func(), error)
	HoldTableForOrder(ctx context.Context, tableID string, o *models.Order, actor audit.Actor) ([]events.Event, error)
	ReleaseForOrder(ctx context.Context, o *models.Order, actor audit.Actor) ([]events.Event, error)
}

type Deps struct {
	Store   *store.Store
	Locks   *lock.Keyed
	Clock   clock.Clock
	Events  Emitter
	Audit   Auditor
	Tables  TableCoordinator
	TaxRate float64
	Logger  *slog.Logger
}

type Service struct {
	store   *store.Store
	locks   *lock.Keyed
	clock   clock.Clock
	events  Emitter
	auditor Auditor
	tables  TableCoordinator
	taxRate float64
	logger  *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Locks == nil {
		d.Locks = lock.NewKeyed()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		store:   d.Store,
		locks:   d.Locks,
		clock:   d.Clock,
		events:  d.Events,
		auditor: d.Audit,
		tables:  d.Tables,
		taxRate: d.TaxRate,
		logger:  d.Logger.With("component", "fulfillment"),
	}
}

func (s *Service) emit(evs []events.Event) {
	if s.events == nil {
		return
	}
	for _, e := range evs {
		s.events.Emit(e)
	}
}

func (s *Service) writeAudit(ctx context.Context, actor audit.Actor, entityType, id string, action models.AuditAction, desc string, before, after any) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.WriteLog(ctx, audit.LogOptions{
		Actor:       actor,
		EntityType:  entityType,
		EntityID:    id,
		Action:      action,
		Description: desc,
		Before:      before,
		After:       after,
	})
}

// lockOrderTables takes the reservation and table locks an order's
// completion or cancellation will need. Order lock must already be held.
func (s *Service) lockOrderTables(ctx context.Context, o *models.Order) (func(), error) {
	if s.tables == nil || (o.TableID == nil && o.ReservationID == nil) {
		return func() {}, nil
	}
	return s.tables.LockForOrder(ctx, o.TableID, o.ReservationID)
}

func (s *Service) releaseTables(ctx context.Context, o *models.Order, actor audit.Actor) ([]events.Event, error) {
	if s.tables == nil || (o.TableID == nil && o.ReservationID == nil) {
		return nil, nil
	}
	return s.tables.ReleaseForOrder(ctx, o, actor)
}

// storeErr maps a record store failure to the error taxonomy.
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

// txErr keeps domain errors raised inside a transaction and wraps the rest.
func txErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.KindOf(err); ok {
		return err
	}
	return apperr.Upstream(err, "record store transaction failed")
}
