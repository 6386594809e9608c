package models

import "time"

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed" // gave up after max attempts
)

type NotificationLog struct {
	ID            string              `gorm:"primaryKey;size:36" json:"id"`
	EventType     string              `gorm:"size:50" json:"event_type"`
	EntityID      string              `gorm:"size:36;index" json:"entity_id"`
	UserID        string              `gorm:"size:36;index" json:"user_id"`
	Channel       NotificationChannel `gorm:"size:20;not null" json:"channel"`
	Recipient     string              `gorm:"size:100;not null" json:"recipient"`
	Content       string              `gorm:"type:text" json:"content"`
	Status        NotificationStatus  `gorm:"size:20;index;not null" json:"status"`
	Attempts      int                 `gorm:"not null" json:"attempts"`
	LastError     string              `gorm:"size:255" json:"last_error"`
	NextAttemptAt *time.Time          `gorm:"index" json:"next_attempt_at"`
	SentAt        *time.Time          `json:"sent_at"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (n *NotificationLog) RecordID() string      { return n.ID }
func (n *NotificationLog) SetRecordID(id string) { n.ID = id }
