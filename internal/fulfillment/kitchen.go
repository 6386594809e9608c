package fulfillment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"restoran-fulfillment/internal/apperr"
	"restoran-fulfillment/internal/audit"
	"restoran-fulfillment/internal/events"
	"restoran-fulfillment/internal/lock"
	"restoran-fulfillment/internal/models"
	"restoran-fulfillment/internal/priority"
	"restoran-fulfillment/internal/store"
)

type ticketMove func(ctx context.Context, t *models.KitchenQueueEntry, o *models.Order, now time.Time) ([]events.Event, error)

// moveTicket serializes on the ticket's order and runs fn in a transaction
// with fresh copies of the ticket and order.
func (s *Service) moveTicket(ctx context.Context, entryID string, actor audit.Actor, action string, fn ticketMove) (*models.KitchenQueueEntry, error) {
	peek, err := s.store.Queue.Get(ctx, entryID)
	if err != nil {
		return nil, storeErr(err, entityTicket, entryID)
	}
	unlock := s.locks.Lock(lock.OrderKey(peek.OrderID))
	defer unlock()

	var (
		ticket *models.KitchenQueueEntry
		evs    []events.Event
	)
	err = s.store.Transact(ctx, func(ctx context.Context) error {
		t, err := s.store.Queue.Get(ctx, entryID)
		if err != nil {
			return storeErr(err, entityTicket, entryID)
		}
		if t.Cancelled {
			return apperr.InvalidState("ticket %s belongs to a cancelled order", t.ID)
		}
		if t.Archived {
			return apperr.InvalidState("ticket %s is archived", t.ID)
		}
		o, err := s.store.Orders.Get(ctx, t.OrderID)
		if err != nil {
			return storeErr(err, entityOrder, t.OrderID)
		}

		before := *t
		now := s.clock.Now()
		moved, err := fn(ctx, t, o, now)
		if err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := s.store.Queue.Update(ctx, t); err != nil {
			return storeErr(err, entityTicket, t.ID)
		}
		if err := s.writeAudit(ctx, actor, entityTicket, t.ID, models.AuditActionTransition, action, before, t); err != nil {
			return err
		}
		evs = moved
		ticket = t
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	ticket.Priority = priority.Calculate(ticket.OrderType, ticket.OrderCreatedAt, s.clock.Now())
	s.emit(evs)
	return ticket, nil
}

// setItemStatus mirrors a ticket transition onto its order item.
func (s *Service) setItemStatus(ctx context.Context, o *models.Order, itemID string, to models.ItemStatus, now time.Time) ([]events.Event, error) {
	it, err := s.store.Items.Get(ctx, itemID)
	if err != nil {
		return nil, storeErr(err, entityItem, itemID)
	}
	if it.Status.Rank() >= to.Rank() {
		return nil, nil
	}
	it.Status = to
	it.UpdatedAt = now
	if err := s.store.Items.Update(ctx, it); err != nil {
		return nil, storeErr(err, entityItem, it.ID)
	}
	return []events.Event{events.ItemEvent(o, it)}, nil
}

// StartEntry moves a queued ticket to preparing. A confirmed order becomes
// preparing with its first started ticket.
func (s *Service) StartEntry(ctx context.Context, entryID string, actor audit.Actor) (*models.KitchenQueueEntry, error) {
	return s.moveTicket(ctx, entryID, actor, "queued -> preparing", func(ctx context.Context, t *models.KitchenQueueEntry, o *models.Order, now time.Time) ([]events.Event, error) {
		if t.Status != models.QueueQueued {
			return nil, apperr.InvalidState("ticket %s is %s, not queued", t.ID, t.Status)
		}
		if o.Status != models.OrderConfirmed && o.Status != models.OrderPreparing {
			return nil, apperr.InvalidTransition("order %s is %s; the kitchen starts confirmed orders only", o.OrderNumber, o.Status)
		}

		t.Status = models.QueuePreparing
		t.StartedAt = &now

		evs := []events.Event{events.TicketEvent(events.KitchenItemStarted, t, o.WaiterID)}
		itemEvs, err := s.setItemStatus(ctx, o, t.OrderItemID, models.ItemPreparing, now)
		if err != nil {
			return nil, err
		}
		evs = append(evs, itemEvs...)

		orderEvs, err := s.promote(ctx, o, now)
		if err != nil {
			return nil, err
		}
		return append(evs, orderEvs...), nil
	})
}

// CompleteEntry moves a preparing ticket to ready and re-derives the order's
// ready status.
func (s *Service) CompleteEntry(ctx context.Context, entryID string, actor audit.Actor) (*models.KitchenQueueEntry, error) {
	return s.moveTicket(ctx, entryID, actor, "preparing -> ready", func(ctx context.Context, t *models.KitchenQueueEntry, o *models.Order, now time.Time) ([]events.Event, error) {
		if t.Status != models.QueuePreparing {
			return nil, apperr.InvalidState("ticket %s is %s, not preparing", t.ID, t.Status)
		}

		t.Status = models.QueueReady
		t.CompletedAt = &now

		evs := []events.Event{events.TicketEvent(events.KitchenItemCompleted, t, o.WaiterID)}
		itemEvs, err := s.setItemStatus(ctx, o, t.OrderItemID, models.ItemReady, now)
		if err != nil {
			return nil, err
		}
		evs = append(evs, itemEvs...)

		orderEvs, err := s.settle(ctx, o, now)
		if err != nil {
			return nil, err
		}
		return append(evs, orderEvs...), nil
	})
}

// AssignStation routes a ticket to another station before it is completed.
// An empty station unassigns it. Status does not change.
func (s *Service) AssignStation(ctx context.Context, entryID, station string, actor audit.Actor) (*models.KitchenQueueEntry, error) {
	next := normStation(&station)
	return s.moveTicket(ctx, entryID, actor, "station assigned", func(ctx context.Context, t *models.KitchenQueueEntry, o *models.Order, now time.Time) ([]events.Event, error) {
		if t.Status == models.QueueReady {
			return nil, apperr.InvalidState("ticket %s is already completed", t.ID)
		}
		previous := t.StationName()
		t.Station = next
		if previous == t.StationName() {
			return nil, nil
		}

		it, err := s.store.Items.Get(ctx, t.OrderItemID)
		if err != nil {
			return nil, storeErr(err, entityItem, t.OrderItemID)
		}
		it.Station = next
		it.UpdatedAt = now
		if err := s.store.Items.Update(ctx, it); err != nil {
			return nil, storeErr(err, entityItem, it.ID)
		}
		return []events.Event{events.StationEvent(t, previous)}, nil
	})
}

type QueueFilter struct {
	// Station "" means every station; events.UnassignedStation selects
	// tickets without one.
	Station  string
	Statuses []models.QueueStatus
}

// Queue lists live tickets ordered by priority (recomputed now), then by
// order age. It takes no locks.
func (s *Service) Queue(ctx context.Context, f QueueFilter) ([]*models.KitchenQueueEntry, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []models.QueueStatus{models.QueueQueued, models.QueuePreparing}
	}
	conds := []store.Cond{
		store.Eq("cancelled", false),
		store.Eq("archived", false),
		store.In("status", statuses...),
	}
	switch station := strings.TrimSpace(f.Station); station {
	case "":
	case events.UnassignedStation:
		conds = append(conds, store.IsNull("station"))
	default:
		conds = append(conds, store.Eq("station", station))
	}

	list, err := s.store.Queue.List(ctx, store.Where(conds...))
	if err != nil {
		return nil, storeErr(err, entityTicket, "")
	}

	now := s.clock.Now()
	for _, t := range list {
		t.Priority = priority.Calculate(t.OrderType, t.OrderCreatedAt, now)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		if !list[i].OrderCreatedAt.Equal(list[j].OrderCreatedAt) {
			return list[i].OrderCreatedAt.Before(list[j].OrderCreatedAt)
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

type Stats struct {
	Queued          int            `json:"queued"`
	Preparing       int            `json:"preparing"`
	Ready           int            `json:"ready"`
	ByStation       map[string]int `json:"by_station"`
	Completed       int            `json:"completed"`
	AvgPrepSeconds  float64        `json:"avg_prep_seconds"`
	HighestPriority int            `json:"highest_priority"`
}

// Stats summarizes live tickets and average preparation time over every
// completed ticket. It takes no locks.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	list, err := s.store.Queue.List(ctx, store.Where(store.Eq("cancelled", false)))
	if err != nil {
		return nil, storeErr(err, entityTicket, "")
	}

	now := s.clock.Now()
	st := &Stats{ByStation: map[string]int{}}
	var prep time.Duration
	for _, t := range list {
		if t.StartedAt != nil && t.CompletedAt != nil {
			st.Completed++
			prep += t.CompletedAt.Sub(*t.StartedAt)
		}
		if t.Archived {
			continue
		}
		switch t.Status {
		case models.QueueQueued:
			st.Queued++
		case models.QueuePreparing:
			st.Preparing++
		case models.QueueReady:
			st.Ready++
			continue
		}
		station := t.StationName()
		if station == "" {
			station = events.UnassignedStation
		}
		st.ByStation[station]++
		if p := priority.Calculate(t.OrderType, t.OrderCreatedAt, now); p > st.HighestPriority {
			st.HighestPriority = p
		}
	}
	if st.Completed > 0 {
		st.AvgPrepSeconds = prep.Seconds() / float64(st.Completed)
	}
	return st, nil
}

func (st *Stats) String() string {
	return fmt.Sprintf("queued=%d preparing=%d ready=%d avg_prep=%.0fs", st.Queued, st.Preparing, st.Ready, st.AvgPrepSeconds)
}
