package tables

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/clock"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"
	"restoran-fulfillment/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)
	waiter = audit.Actor{ID: "w1", Role: models.RoleWaiter}
)

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.evs))
	for _, e := range r.evs {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.evs = nil
	r.mu.Unlock()
}

type harness struct {
	co  *Coordinator
	st  *store.Store
	clk *clock.Fake
	rec *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	clk := clock.NewFake(t0)
	rec := &recorder{}
	co := NewCoordinator(Deps{
		Store:              st,
		Clock:              clk,
		Events:             rec,
		Audit:              audit.NewRecorder(st.AuditLogs, clk),
		AutoReleaseMinutes: 15,
		SweepInterval:      time.Minute,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &harness{co: co, st: st, clk: clk, rec: rec}
}

func (h *harness) table(t *testing.T, number, capacity int) *models.Table {
	t.Helper()
	tb, err := h.co.CreateTable(context.Background(), CreateTableInput{Number: number, Capacity: capacity, Location: "terrace"}, audit.System)
	require.NoError(t, err)
	return tb
}

func (h *harness) reservation(t *testing.T, at time.Time, party int) *models.Reservation {
	t.Helper()
	r, err := h.co.CreateReservation(context.Background(), CreateReservationInput{
		CustomerID:      "c1",
		CustomerName:    "Ayse",
		PartySize:       party,
		ReservationTime: at,
	}, audit.Actor{ID: "c1", Role: models.RoleCustomer})
	require.NoError(t, err)
	return r
}

func (h *harness) order(t *testing.T, reservationID *string) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:            uuid.NewString(),
		OrderNumber:   "ORD-20261016-ABCDEF",
		Type:          models.OrderTypeDineIn,
		Status:        models.OrderConfirmed,
		CustomerID:    "c1",
		ReservationID: reservationID,
		CreatedAt:     h.clk.Now(),
		UpdatedAt:     h.clk.Now(),
	}
	require.NoError(t, h.st.Orders.Create(context.Background(), o))
	return o
}

func TestCreateTableRejectsDuplicateNumber(t *testing.T) {
	h := newHarness(t)
	h.table(t, 4, 2)

	_, err := h.co.CreateTable(context.Background(), CreateTableInput{Number: 4, Capacity: 6}, audit.System)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = h.co.CreateTable(context.Background(), CreateTableInput{Number: 5}, audit.System)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSweepReleasesExpiredReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 1, 4)
	r := h.reservation(t, t0.Add(time.Hour), 4)
	_, err := h.co.AssignReservationToTable(ctx, r.ID, tb.ID, waiter)
	require.NoError(t, err)

	// a seated reservation at the same time is never swept
	seatedTable := h.table(t, 2, 4)
	seated := h.reservation(t, t0.Add(time.Hour), 2)
	_, err = h.co.AssignReservationToTable(ctx, seated.ID, seatedTable.ID, waiter)
	require.NoError(t, err)
	_, err = h.co.ActivateReservation(ctx, seated.ID, waiter)
	require.NoError(t, err)
	h.rec.reset()

	h.clk.Set(t0.Add(time.Hour + 14*time.Minute))
	n, err := h.co.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "deadline not reached")

	h.clk.Set(t0.Add(time.Hour + 16*time.Minute))
	n, err = h.co.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.co.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, got.Status)
	require.NotNil(t, got.AutoReleasedAt)
	assert.Equal(t, t0.Add(time.Hour+16*time.Minute), *got.AutoReleasedAt)

	freed, err := h.co.GetTable(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, freed.Status)
	assert.Nil(t, freed.CurrentReservationID)
	assert.Nil(t, freed.CurrentOrderID)

	still, err := h.co.GetReservation(ctx, seated.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationActive, still.Status)

	assert.Equal(t, []events.Type{events.ReservationAutoReleased, events.TableStatusUpdated}, h.rec.types())

	// nothing left to release
	n, err = h.co.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunSweepsOnTicker(t *testing.T) {
	h := newHarness(t)
	r := h.reservation(t, t0, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.co.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.clk.Advance(time.Minute)
		got, err := h.co.GetReservation(context.Background(), r.ID)
		return err == nil && got.Status == models.ReservationCancelled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestReleaseTableIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 3, 2)
	o := h.order(t, nil)

	_, err := h.co.AssignOrderToTable(ctx, tb.ID, o.ID, waiter)
	require.NoError(t, err)
	h.rec.reset()

	first, err := h.co.ReleaseTable(ctx, tb.ID, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, first.Status)
	assert.Nil(t, first.CurrentOrderID)

	second, err := h.co.ReleaseTable(ctx, tb.ID, waiter)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []events.Type{events.TableStatusUpdated}, h.rec.types(), "second release emits nothing")

	_, err = h.co.ReleaseTable(ctx, "missing", waiter)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssignmentConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 1, 4)
	small := h.table(t, 2, 2)

	r1 := h.reservation(t, t0.Add(time.Hour), 4)
	r2 := h.reservation(t, t0.Add(time.Hour), 2)
	_, err := h.co.AssignReservationToTable(ctx, r1.ID, tb.ID, waiter)
	require.NoError(t, err)

	_, err = h.co.AssignReservationToTable(ctx, r2.ID, tb.ID, waiter)
	assert.ErrorIs(t, err, apperr.ErrConflict, "table already reserved")

	_, err = h.co.AssignReservationToTable(ctx, r1.ID, small.ID, waiter)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "already confirmed")

	big := h.reservation(t, t0.Add(time.Hour), 6)
	_, err = h.co.AssignReservationToTable(ctx, big.ID, small.ID, waiter)
	assert.ErrorIs(t, err, apperr.ErrConflict, "party too large")

	o := h.order(t, nil)
	_, err = h.co.AssignOrderToTable(ctx, tb.ID, o.ID, waiter)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := h.st.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TableID, "rejected assignment leaves the order untouched")
}

func TestReservationLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 7, 4)
	r := h.reservation(t, t0.Add(30*time.Minute), 3)
	assert.Equal(t, 15, r.AutoReleaseMinutes)

	_, err := h.co.ActivateReservation(ctx, r.ID, waiter)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "pending cannot be seated")

	_, err = h.co.AssignReservationToTable(ctx, r.ID, tb.ID, waiter)
	require.NoError(t, err)
	reserved, _ := h.co.GetTable(ctx, tb.ID)
	assert.Equal(t, models.TableReserved, reserved.Status)

	active, err := h.co.ActivateReservation(ctx, r.ID, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationActive, active.Status)
	assert.NotNil(t, active.SeatedAt)
	occupied, _ := h.co.GetTable(ctx, tb.ID)
	assert.Equal(t, models.TableOccupied, occupied.Status)

	_, err = h.co.CancelReservation(ctx, r.ID, waiter)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "seated reservations complete, they are not cancelled")

	done, err := h.co.CompleteReservation(ctx, r.ID, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	free, _ := h.co.GetTable(ctx, tb.ID)
	assert.Equal(t, models.TableAvailable, free.Status)
	assert.Nil(t, free.CurrentReservationID)
}

func TestNoShowAndCancelFreeTheTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 1, 4)

	r := h.reservation(t, t0, 2)
	_, err := h.co.AssignReservationToTable(ctx, r.ID, tb.ID, waiter)
	require.NoError(t, err)
	got, err := h.co.MarkNoShow(ctx, r.ID, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationNoShow, got.Status)
	assert.Nil(t, got.AutoReleasedAt, "only the sweep sets AutoReleasedAt")
	free, _ := h.co.GetTable(ctx, tb.ID)
	assert.Equal(t, models.TableAvailable, free.Status)

	r2 := h.reservation(t, t0, 2)
	_, err = h.co.AssignReservationToTable(ctx, r2.ID, tb.ID, waiter)
	require.NoError(t, err)
	_, err = h.co.CancelReservation(ctx, r2.ID, waiter)
	require.NoError(t, err)
	free, _ = h.co.GetTable(ctx, tb.ID)
	assert.Equal(t, models.TableAvailable, free.Status)
	assert.Nil(t, free.CurrentReservationID)
}

func TestOrderAtReservedTableSeatsReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 9, 4)
	r := h.reservation(t, t0, 4)
	_, err := h.co.AssignReservationToTable(ctx, r.ID, tb.ID, waiter)
	require.NoError(t, err)

	o := h.order(t, &r.ID)
	held, err := h.co.AssignOrderToTable(ctx, tb.ID, o.ID, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, held.Status)
	require.NotNil(t, held.CurrentOrderID)
	assert.Equal(t, o.ID, *held.CurrentOrderID)

	seated, _ := h.co.GetReservation(ctx, r.ID)
	assert.Equal(t, models.ReservationActive, seated.Status)

	o, err = h.st.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	o.Status = models.OrderDelivered
	require.NoError(t, h.co.OnOrderCompleted(ctx, o, waiter))

	done, _ := h.co.GetReservation(ctx, r.ID)
	assert.Equal(t, models.ReservationCompleted, done.Status)
	free, _ := h.co.GetTable(ctx, tb.ID)
	assert.Equal(t, models.TableAvailable, free.Status)
	assert.Nil(t, free.CurrentOrderID)
	assert.Nil(t, free.CurrentReservationID)

	// a second completion finds nothing to release
	h.rec.reset()
	require.NoError(t, h.co.OnOrderCompleted(ctx, o, waiter))
	assert.Empty(t, h.rec.types())
}

func TestCancelledOrderCancelsItsReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 4, 2)
	r := h.reservation(t, t0.Add(time.Hour), 2)
	_, err := h.co.AssignReservationToTable(ctx, r.ID, tb.ID, waiter)
	require.NoError(t, err)
	o := h.order(t, &r.ID)

	// a delivered order leaves a reservation it was never seated on alone
	o.Status = models.OrderDelivered
	h.rec.reset()
	require.NoError(t, h.co.OnOrderCompleted(ctx, o, waiter))
	assert.Empty(t, h.rec.types())
	kept, _ := h.co.GetReservation(ctx, r.ID)
	assert.Equal(t, models.ReservationConfirmed, kept.Status)

	o.Status = models.OrderCancelled
	require.NoError(t, h.co.OnOrderCompleted(ctx, o, waiter))
	assert.Equal(t, []events.Type{events.ReservationStatusUpdated, events.TableStatusUpdated}, h.rec.types())

	gone, _ := h.co.GetReservation(ctx, r.ID)
	assert.Equal(t, models.ReservationCancelled, gone.Status)
	assert.Nil(t, gone.AutoReleasedAt)
	free, _ := h.co.GetTable(ctx, tb.ID)
	assert.Equal(t, models.TableAvailable, free.Status)
	assert.Nil(t, free.CurrentReservationID)

	logs, err := h.st.AuditLogs.List(ctx, store.Where(store.Eq("entity_id", r.ID), store.Eq("action", models.AuditActionCancel)))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSetTableStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 1, 2)

	cleaning, err := h.co.SetTableStatus(ctx, tb.ID, models.TableCleaning, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.TableCleaning, cleaning.Status)

	back, err := h.co.SetTableStatus(ctx, tb.ID, models.TableAvailable, waiter)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, back.Status)

	_, err = h.co.SetTableStatus(ctx, tb.ID, models.TableOccupied, waiter)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	o := h.order(t, nil)
	_, err = h.co.AssignOrderToTable(ctx, tb.ID, o.ID, waiter)
	require.NoError(t, err)
	_, err = h.co.SetTableStatus(ctx, tb.ID, models.TableCleaning, waiter)
	assert.ErrorIs(t, err, apperr.ErrConflict, "holds an order")
}

func TestTableTransitionsAreAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tb := h.table(t, 1, 2)
	h.clk.Advance(time.Minute)
	_, err := h.co.SetTableStatus(ctx, tb.ID, models.TableCleaning, waiter)
	require.NoError(t, err)

	logs, err := audit.NewRecorder(h.st.AuditLogs, h.clk).List(ctx, audit.Filter{EntityType: "table", EntityID: tb.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "w1", logs[0].ActorID)
	assert.Equal(t, models.AuditActionTransition, logs[0].Action)
}
