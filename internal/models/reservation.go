package models

import "time"

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationNoShow    ReservationStatus = "no_show"
)

func (s ReservationStatus) Terminal() bool {
	return s == ReservationCompleted || s == ReservationCancelled || s == ReservationNoShow
}

type Reservation struct {
	ID                 string            `gorm:"primaryKey;size:36" json:"id"`
	CustomerID         string            `gorm:"size:36;index;not null" json:"customer_id"`
	CustomerName       string            `gorm:"size:100" json:"customer_name"`
	PartySize          int               `gorm:"not null" json:"party_size"`
	ReservationTime    time.Time         `gorm:"index;not null" json:"reservation_time"`
	AutoReleaseMinutes int               `gorm:"not null" json:"auto_release_minutes"`
	Status             ReservationStatus `gorm:"size:20;index;not null" json:"status"`
	TableID            *string           `gorm:"size:36" json:"table_id"`
	Notes              string            `gorm:"size:255" json:"notes"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at"`
	SeatedAt       *time.Time `json:"seated_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	AutoReleasedAt *time.Time `json:"auto_released_at"` // only the sweep writes this
}

func (r *Reservation) RecordID() string      { return r.ID }
func (r *Reservation) SetRecordID(id string) { r.ID = id }

// ReleaseDeadline is the instant after which a non-seated reservation is
// auto-released.
func (r *Reservation) ReleaseDeadline() time.Time {
	return r.ReservationTime.Add(time.Duration(r.AutoReleaseMinutes) * time.Minute)
}
