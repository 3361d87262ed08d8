package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the fulfillment state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAwaiting   OrderStatus = "awaiting_shipment"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Order is the local projection of a marketplace order that shipping
// operations run against. Rate requests read it; a successful label
// purchase marks it shipped in the same transaction that stores the label.
type Order struct {
	ID          uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    string      `json:"tenantId" gorm:"type:varchar(255);not null;index"`
	OrderNumber string      `json:"orderNumber" gorm:"type:varchar(100);not null;index"`
	Status      OrderStatus `json:"status" gorm:"type:varchar(50);not null;default:'pending'"`

	CustomerName  string `json:"customerName" gorm:"type:varchar(255)"`
	CustomerEmail string `json:"customerEmail" gorm:"type:varchar(255)"`

	ShipTo  Address `json:"shipTo" gorm:"embedded;embeddedPrefix:ship_to_"`
	Package Package `json:"package" gorm:"embedded;embeddedPrefix:package_"`

	DeclaredValue float64 `json:"declaredValue" gorm:"type:decimal(10,2)"`
	Currency      string  `json:"currency" gorm:"type:varchar(10);default:'USD'"`

	TrackingNumber string     `json:"trackingNumber" gorm:"type:varchar(255);index"`
	ShippedAt      *time.Time `json:"shippedAt"`
	DeliveredAt    *time.Time `json:"deliveredAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Order
func (Order) TableName() string {
	return "orders"
}
