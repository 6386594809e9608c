package models

import "time"

type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleWaiter   UserRole = "waiter"
	RoleKitchen  UserRole = "kitchen"
	RoleAdmin    UserRole = "admin"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleWaiter, RoleKitchen, RoleAdmin:
		return true
	}
	return false
}

type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelTelegram NotificationChannel = "telegram"
)

// User is the contact directory entry the notification dispatcher resolves
// recipients from. Credentials live with the external auth provider.
type User struct {
	ID               string              `gorm:"primaryKey;size:36" json:"id"`
	Name             string              `gorm:"size:100;not null" json:"name"`
	Email            string              `gorm:"size:100;index" json:"email"`
	Phone            string              `gorm:"size:50" json:"phone"`
	TelegramChatID   string              `gorm:"size:50" json:"telegram_chat_id"`
	Role             UserRole            `gorm:"size:20;not null" json:"role"`
	PreferredChannel NotificationChannel `gorm:"size:20" json:"preferred_channel"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (u *User) RecordID() string      { return u.ID }
func (u *User) SetRecordID(id string) { u.ID = id }

// Recipient returns the address for the user's preferred channel, falling
// back to email.
func (u *User) Recipient() (NotificationChannel, string) {
	switch u.PreferredChannel {
	case ChannelWhatsApp:
		if u.Phone != "" {
			return ChannelWhatsApp, u.Phone
		}
	case ChannelTelegram:
		if u.TelegramChatID != "" {
			return ChannelTelegram, u.TelegramChatID
		}
	}
	return ChannelEmail, u.Email
}
