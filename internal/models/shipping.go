package models

import (
	"time"

	"github.com/google/uuid"
)

// CarrierType identifies a supported shipping carrier
type CarrierType string

const (
	CarrierUPS        CarrierType = "UPS"
	CarrierCanadaPost CarrierType = "CANADA_POST"
	CarrierFedEx      CarrierType = "FEDEX"
	CarrierUSPS       CarrierType = "USPS"
)

// ServiceType buckets carrier services into speed tiers
type ServiceType string

const (
	ServiceTypeOvernight ServiceType = "overnight"
	ServiceTypeExpedited ServiceType = "expedited"
	ServiceTypeStandard  ServiceType = "standard"
	ServiceTypeOther     ServiceType = "other"
)

// LabelStatus represents the lifecycle of a purchased label.
// Transitions move strictly forward: created -> printed -> shipped -> delivered.
type LabelStatus string

const (
	LabelStatusCreated   LabelStatus = "created"
	LabelStatusPrinted   LabelStatus = "printed"
	LabelStatusShipped   LabelStatus = "shipped"
	LabelStatusDelivered LabelStatus = "delivered"
)

// labelStatusRank orders label statuses for forward-only transitions
var labelStatusRank = map[LabelStatus]int{
	LabelStatusCreated:   0,
	LabelStatusPrinted:   1,
	LabelStatusShipped:   2,
	LabelStatusDelivered: 3,
}

// CanTransitionTo reports whether a label may move from its current status to next
func (s LabelStatus) CanTransitionTo(next LabelStatus) bool {
	from, ok := labelStatusRank[s]
	if !ok {
		return false
	}
	to, ok := labelStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Address represents a shipping address
type Address struct {
	Name       string `json:"name" gorm:"type:varchar(255)"`
	Company    string `json:"company" gorm:"type:varchar(255)"`
	Phone      string `json:"phone" gorm:"type:varchar(50)"`
	Email      string `json:"email" gorm:"type:varchar(255)"`
	Street     string `json:"street" gorm:"type:varchar(500)"`
	Street2    string `json:"street2" gorm:"type:varchar(500)"`
	City       string `json:"city" gorm:"type:varchar(100)"`
	State      string `json:"state" gorm:"type:varchar(100)"`
	PostalCode string `json:"postalCode" gorm:"type:varchar(20)"`
	Country    string `json:"country" gorm:"type:varchar(10)"` // ISO 2-letter code
}

// Package holds the physical attributes of a shipment.
// Weight is in pounds, dimensions in inches.
type Package struct {
	Weight float64 `json:"weight" gorm:"type:decimal(10,2)"`
	Length float64 `json:"length" gorm:"type:decimal(10,2)"`
	Width  float64 `json:"width" gorm:"type:decimal(10,2)"`
	Height float64 `json:"height" gorm:"type:decimal(10,2)"`
}

// Girth returns length + 2*(width+height), the combined length-and-girth
// measure carriers use for oversize checks.
func (p Package) Girth() float64 {
	return p.Length + 2*(p.Width+p.Height)
}

// RateQuote is a transient quote for one carrier service. Quotes are produced
// fresh on every rate request and never persisted; only the one the caller
// purchases becomes a ShipmentLabel.
type RateQuote struct {
	Carrier       CarrierType `json:"carrier"`
	ServiceCode   string      `json:"serviceCode"`
	ServiceName   string      `json:"serviceName"`
	ServiceType   ServiceType `json:"serviceType"`
	Cost          float64     `json:"cost"`
	BaseCost      float64     `json:"baseCost"`
	MarkupAmount  float64     `json:"markupAmount"`
	Currency      string      `json:"currency"`
	EstimatedDays int         `json:"estimatedDays"`
	Guaranteed    bool        `json:"guaranteed"`
	// Estimated marks synthetic quotes from placeholder carriers. Estimated
	// quotes are development stand-ins and can never be purchased.
	Estimated bool `json:"estimated"`
}

// AdditionalServices are optional per-shipment extras
type AdditionalServices struct {
	SignatureRequired bool    `json:"signatureRequired"`
	InsuranceValue    float64 `json:"insuranceValue"`
}

// ShipmentContext echoes the fully resolved inputs a set of quotes was
// produced against, so callers can display exactly what was quoted.
type ShipmentContext struct {
	ShipFrom Address `json:"shipFrom"`
	ShipTo   Address `json:"shipTo"`
	Package  Package `json:"package"`
}

// GetRatesRequest is the wire request for rate aggregation
type GetRatesRequest struct {
	OrderID            uuid.UUID           `json:"order_id" binding:"required"`
	ShipFrom           *Address            `json:"ship_from"`
	ServicePreferences []string            `json:"service_preferences"`
	AdditionalServices *AdditionalServices `json:"additional_services"`
}

// GetRatesResponse is the wire response for rate aggregation. An empty Rates
// slice is a successful response; the caller decides how to present it.
type GetRatesResponse struct {
	Success      bool            `json:"success"`
	Rates        []RateQuote     `json:"rates"`
	OrderDetails ShipmentContext `json:"order_details"`
	Warnings     []FieldMessage  `json:"warnings,omitempty"`
	OperationID  string          `json:"operationId,omitempty"`
}

// PurchaseLabelRequest is the wire request for label purchase
type PurchaseLabelRequest struct {
	OrderID            uuid.UUID           `json:"order_id" binding:"required"`
	Carrier            CarrierType         `json:"carrier" binding:"required,carrier"`
	ServiceCode        string              `json:"service_code" binding:"required"`
	ShipFrom           Address             `json:"ship_from" binding:"required"`
	ShipTo             Address             `json:"ship_to" binding:"required"`
	Package            Package             `json:"package" binding:"required"`
	AdditionalServices *AdditionalServices `json:"additional_services"`
}

// PurchaseLabelResponse is the wire response for a successful label purchase
type PurchaseLabelResponse struct {
	LabelID        uuid.UUID   `json:"labelId"`
	TrackingNumber string      `json:"tracking_number"`
	LabelURL       string      `json:"label_url"`
	Carrier        CarrierType `json:"carrier"`
	ServiceCode    string      `json:"service_code"`
	Cost           float64     `json:"cost"`
	Currency       string      `json:"currency"`
}

// ShipmentLabel is the persisted record of one purchased label. Created
// exactly once per successful purchase; immutable afterwards except for
// status transitions driven by tracking updates.
type ShipmentLabel struct {
	ID          uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    string      `json:"tenantId" gorm:"type:varchar(255);not null;index;index:idx_labels_idem,unique,priority:1"`
	OrderID     uuid.UUID   `json:"orderId" gorm:"type:uuid;not null;index;index:idx_labels_idem,unique,priority:2"`
	Carrier     CarrierType `json:"carrier" gorm:"type:varchar(50);not null"`
	ServiceCode string      `json:"serviceCode" gorm:"type:varchar(100);not null"`
	ServiceName string      `json:"serviceName" gorm:"type:varchar(255)"`

	TrackingNumber    string `json:"trackingNumber" gorm:"type:varchar(255);index"`
	CarrierShipmentID string `json:"carrierShipmentId" gorm:"type:varchar(255)"`
	LabelURL          string `json:"labelUrl" gorm:"type:varchar(500)"`
	LabelData         string `json:"labelData,omitempty" gorm:"type:text"` // base64 document when the carrier returns it inline

	Cost     float64 `json:"cost" gorm:"type:decimal(10,2)"`
	Currency string  `json:"currency" gorm:"type:varchar(10);default:'USD'"`

	Status LabelStatus `json:"status" gorm:"type:varchar(50);not null;default:'created'"`

	// IdempotencyKey dedupes retried purchase calls for the same order.
	// Unique per (tenant_id, order_id, idempotency_key) when set, so the
	// same key on a different order or tenant is a distinct purchase.
	IdempotencyKey string `json:"-" gorm:"type:varchar(255);index:idx_labels_idem,unique,priority:3,where:idempotency_key <> ''"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ShipmentLabel
func (ShipmentLabel) TableName() string {
	return "shipment_labels"
}

// FieldMessage pairs an input field path with a human-readable message.
// Used for both blocking validation errors and non-blocking warnings.
type FieldMessage struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error"`
	Message  string         `json:"message,omitempty"`
	Details  []FieldMessage `json:"details,omitempty"`
	Warnings []FieldMessage `json:"warnings,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message *string     `json:"message,omitempty"`
}
