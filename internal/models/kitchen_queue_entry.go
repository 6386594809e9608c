package models

import "time"

type QueueStatus string

const (
	QueueQueued    QueueStatus = "queued"
	QueuePreparing QueueStatus = "preparing"
	QueueReady     QueueStatus = "ready"
)

// KitchenQueueEntry is a ticket: one order item awaiting or undergoing
// preparation at a station.
type KitchenQueueEntry struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	OrderID        string      `gorm:"size:36;index;not null" json:"order_id"`
	OrderItemID    string      `gorm:"size:36;uniqueIndex;not null" json:"order_item_id"`
	OrderType      OrderType   `gorm:"size:20;not null" json:"order_type"`
	OrderCreatedAt time.Time   `gorm:"not null" json:"order_created_at"`
	MenuItemName   string      `gorm:"size:120" json:"menu_item_name"`
	Quantity       int         `gorm:"not null" json:"quantity"`
	Notes          string      `gorm:"size:255" json:"notes"`
	Station        *string     `gorm:"size:50;index" json:"station"`
	Status         QueueStatus `gorm:"size:20;index;not null" json:"status"`

	// Cancelled tickets keep their last status as an audit record.
	Cancelled bool `gorm:"default:false" json:"cancelled"`
	// Archived is set once the item is served.
	Archived bool `gorm:"default:false" json:"archived"`

	// Priority is computed from OrderType and wait time on every read.
	Priority int `gorm:"-" json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (e *KitchenQueueEntry) RecordID() string      { return e.ID }
func (e *KitchenQueueEntry) SetRecordID(id string) { e.ID = id }

// Open reports whether the ticket still needs kitchen work.
func (e *KitchenQueueEntry) Open() bool {
	return !e.Cancelled && !e.Archived && e.Status != QueueReady
}

func (e *KitchenQueueEntry) StationName() string {
	if e.Station == nil {
		return ""
	}
	return *e.Station
}
