package events

import "restoran-fulfillment/internal/models"

type OrderData struct {
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	Status      models.OrderStatus `json:"status"`
	TableID     *string            `json:"tableId,omitempty"`
}

type OrderItemData struct {
	ItemID  string            `json:"itemId"`
	OrderID string            `json:"orderId"`
	Status  models.ItemStatus `json:"status"`
}

type StationData struct {
	ItemID          string `json:"itemId"`
	Station         string `json:"station"`
	PreviousStation string `json:"previousStation"`
}

type TableData struct {
	TableID string             `json:"tableId"`
	Number  int                `json:"number"`
	Status  models.TableStatus `json:"status"`
}

type ReservationData struct {
	ReservationID string                   `json:"reservationId"`
	Status        models.ReservationStatus `json:"status"`
	TableID       *string                  `json:"tableId,omitempty"`
}

func OrderEvent(t Type, o *models.Order) Event {
	return Event{
		Type:     t,
		EntityID: o.ID,
		Payload:  OrderData{OrderID: o.ID, OrderNumber: o.OrderNumber, Status: o.Status, TableID: o.TableID},
		Route:    Route{CustomerID: o.CustomerID, WaiterID: deref(o.WaiterID)},
	}
}

func ItemEvent(o *models.Order, it *models.OrderItem) Event {
	return Event{
		Type:     OrderItemStatusUpdated,
		EntityID: it.ID,
		Payload:  OrderItemData{ItemID: it.ID, OrderID: o.ID, Status: it.Status},
		Route:    Route{CustomerID: o.CustomerID, WaiterID: deref(o.WaiterID)},
	}
}

// TicketEvent covers new_item, item_cancelled, item_started and
// item_completed; waiterID only matters for the latter two.
func TicketEvent(t Type, e *models.KitchenQueueEntry, waiterID *string) Event {
	return Event{
		Type:     t,
		EntityID: e.ID,
		Payload:  e,
		Route:    Route{Station: e.StationName(), WaiterID: deref(waiterID)},
	}
}

func StationEvent(e *models.KitchenQueueEntry, previous string) Event {
	return Event{
		Type:     KitchenStationAssigned,
		EntityID: e.ID,
		Payload:  StationData{ItemID: e.ID, Station: e.StationName(), PreviousStation: previous},
		Route:    Route{Station: e.StationName(), PreviousStation: previous},
	}
}

func TableEvent(tb *models.Table) Event {
	return Event{
		Type:     TableStatusUpdated,
		EntityID: tb.ID,
		Payload:  TableData{TableID: tb.ID, Number: tb.Number, Status: tb.Status},
		Route:    Route{TableID: tb.ID},
	}
}

func ReservationEvent(t Type, r *models.Reservation) Event {
	return Event{
		Type:     t,
		EntityID: r.ID,
		Payload:  ReservationData{ReservationID: r.ID, Status: r.Status, TableID: r.TableID},
		Route:    Route{CustomerID: r.CustomerID, TableID: deref(r.TableID)},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
