package models

import "time"

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
	TableCleaning  TableStatus = "cleaning"
)

type Table struct {
	ID                   string      `gorm:"primaryKey;size:36" json:"id"`
	Number               int         `gorm:"uniqueIndex;not null" json:"number"`
	Capacity             int         `gorm:"not null" json:"capacity"`
	Location             string      `gorm:"size:100" json:"location"`
	Status               TableStatus `gorm:"size:20;index;not null" json:"status"`
	CurrentOrderID       *string     `gorm:"size:36" json:"current_order_id"`
	CurrentReservationID *string     `gorm:"size:36" json:"current_reservation_id"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

func (t *Table) RecordID() string      { return t.ID }
func (t *Table) SetRecordID(id string) { t.ID = id }

// Free clears both references and marks the table available in one step.
func (t *Table) Free() {
	t.Status = TableAvailable
	t.CurrentOrderID = nil
	t.CurrentReservationID = nil
}
