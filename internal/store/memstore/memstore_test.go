package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCreateAssignsIDAndGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()

	tbl := &models.Table{Number: 4, Capacity: 2, Status: models.TableAvailable}
	require.NoError(t, s.Tables.Create(ctx, tbl))
	require.NotEmpty(t, tbl.ID)

	got, err := s.Tables.Get(ctx, tbl.ID)
	require.NoError(t, err)
	got.Status = models.TableOccupied

	again, err := s.Tables.Get(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, again.Status, "mutating a fetched copy must not leak into the store")

	_, err = s.Tables.Get(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUpdateMissingRecord(t *testing.T) {
	s := New()
	err := s.Orders.Update(context.Background(), &models.Order{ID: "nope"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	entries := []*models.KitchenQueueEntry{
		{OrderID: "o1", OrderItemID: "i1", Station: strPtr("grill"), Status: models.QueueQueued, CreatedAt: base.Add(2 * time.Minute)},
		{OrderID: "o1", OrderItemID: "i2", Station: strPtr("bar"), Status: models.QueuePreparing, CreatedAt: base},
		{OrderID: "o2", OrderItemID: "i3", Station: strPtr("grill"), Status: models.QueueReady, CreatedAt: base.Add(time.Minute)},
		{OrderID: "o2", OrderItemID: "i4", Status: models.QueueQueued, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.Queue.Create(ctx, e))
	}

	open, err := s.Queue.List(ctx, store.Where(
		store.In("status", models.QueueQueued, models.QueuePreparing),
	).Sorted(store.Sort{Field: "created_at"}))
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, "i2", open[0].OrderItemID)
	assert.Equal(t, "i1", open[1].OrderItemID)
	assert.Equal(t, "i4", open[2].OrderItemID)

	grill, err := s.Queue.List(ctx, store.Where(store.Eq("station", "grill")).Sorted(store.Sort{Field: "created_at", Desc: true}))
	require.NoError(t, err)
	require.Len(t, grill, 2)
	assert.Equal(t, "i1", grill[0].OrderItemID)

	unassigned, err := s.Queue.List(ctx, store.Where(store.IsNull("station")))
	require.NoError(t, err)
	require.Len(t, unassigned, 1)
	assert.Equal(t, "i4", unassigned[0].OrderItemID)

	n, err := s.Queue.Count(ctx, store.Where(store.Eq("order_id", "o2")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Queue.List(ctx, store.Where(store.Eq("no_such_column", 1)))
	assert.Error(t, err)
}

func TestTransactRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	tbl := &models.Table{Number: 1, Status: models.TableAvailable}
	require.NoError(t, s.Tables.Create(ctx, tbl))

	boom := errors.New("boom")
	err := s.Transact(ctx, func(ctx context.Context) error {
		tbl.Status = models.TableOccupied
		require.NoError(t, s.Tables.Update(ctx, tbl))
		require.NoError(t, s.Tables.Create(ctx, &models.Table{Number: 2, Status: models.TableAvailable}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Tables.Get(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableAvailable, got.Status)

	n, err := s.Tables.Count(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
