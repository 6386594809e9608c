package models

import "time"

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemPreparing ItemStatus = "preparing"
	ItemReady     ItemStatus = "ready"
	ItemServed    ItemStatus = "served"
)

var itemRank = map[ItemStatus]int{
	ItemPending:   0,
	ItemPreparing: 1,
	ItemReady:     2,
	ItemServed:    3,
}

// Rank orders item statuses; -1 for unknown values.
func (s ItemStatus) Rank() int {
	if r, ok := itemRank[s]; ok {
		return r
	}
	return -1
}

// Done reports whether the kitchen is finished with the item.
func (s ItemStatus) Done() bool { return s == ItemReady || s == ItemServed }

type OrderItem struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	OrderID    string     `gorm:"size:36;index;not null" json:"order_id"`
	MenuItemID string     `gorm:"size:36;not null" json:"menu_item_id"`
	Name       string     `gorm:"size:120;not null" json:"name"`
	Quantity   int        `gorm:"not null" json:"quantity"`
	UnitPrice  float64    `gorm:"not null" json:"unit_price"`
	Station    *string    `gorm:"size:50" json:"station"` // nil: no kitchen preparation
	Status     ItemStatus `gorm:"size:20;not null" json:"status"`
	Notes      string     `gorm:"size:255" json:"notes"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ServedAt   *time.Time `json:"served_at"`
}

func (i *OrderItem) RecordID() string      { return i.ID }
func (i *OrderItem) SetRecordID(id string) { i.ID = id }
