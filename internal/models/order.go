package models

import "time"

type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeout  OrderType = "takeout"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDelivery, OrderTypeDineIn, OrderTypeTakeout:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

type Order struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	OrderNumber   string      `gorm:"size:32;uniqueIndex;not null" json:"order_number"`
	Type          OrderType   `gorm:"size:20;not null" json:"type"`
	Status        OrderStatus `gorm:"size:20;index;not null" json:"status"`
	CustomerID    string      `gorm:"size:36;index;not null" json:"customer_id"`
	WaiterID      *string     `gorm:"size:36;index" json:"waiter_id"`
	TableID       *string     `gorm:"size:36" json:"table_id"`
	ReservationID *string     `gorm:"size:36" json:"reservation_id"`

	Subtotal float64 `gorm:"not null" json:"subtotal"`
	Tax      float64 `gorm:"not null" json:"tax"`
	Total    float64 `gorm:"not null" json:"total"`
	Notes    string  `gorm:"size:255" json:"notes"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CompletedAt *time.Time `json:"completed_at"` // set iff delivered or cancelled

	Items []OrderItem `gorm:"-" json:"items,omitempty"`
}

func (o *Order) RecordID() string      { return o.ID }
func (o *Order) SetRecordID(id string) { o.ID = id }
