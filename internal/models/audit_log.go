package models

import "time"

type AuditAction string

const (
	AuditActionCreate     AuditAction = "create"
	AuditActionTransition AuditAction = "transition"
	AuditActionAssign     AuditAction = "assign"
	AuditActionRelease    AuditAction = "release"
	AuditActionCancel     AuditAction = "cancel"
	AuditActionUpdate     AuditAction = "update"
)

type AuditLog struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// Who? "system" for the sweep and derived transitions.
	ActorID   string   `gorm:"size:36;index" json:"actor_id"`
	ActorRole UserRole `gorm:"size:20" json:"actor_role"`

	// Which entity? ("order", "order_item", "kitchen_queue_entry", "table", "reservation")
	EntityType string `gorm:"size:50;index" json:"entity_type"`
	EntityID   string `gorm:"size:36;index" json:"entity_id"`

	Action      AuditAction `gorm:"size:20" json:"action"`
	Description string      `gorm:"size:255" json:"description"`

	BeforeData string `gorm:"type:jsonb" json:"before_data"`
	AfterData  string `gorm:"type:jsonb" json:"after_data"`
}

func (l *AuditLog) RecordID() string      { return l.ID }
func (l *AuditLog) SetRecordID(id string) { l.ID = id }
