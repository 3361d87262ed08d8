package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSONB handles PostgreSQL jsonb columns
type JSONB map[string]interface{}

// Value implements driver.Valuer
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// StringArray handles PostgreSQL jsonb-encoded string arrays
type StringArray []string

// Value implements driver.Valuer
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, a)
}

// CarrierAccount stores a tenant's credentials and settings for one carrier.
// Credentials never leave the service; API responses go through ToResponse.
type CarrierAccount struct {
	ID       uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID string      `json:"tenantId" gorm:"type:varchar(255);not null;index:idx_carrier_accounts_tenant;index:idx_carrier_accounts_active,unique,priority:1"`
	Carrier  CarrierType `json:"carrier" gorm:"type:varchar(50);not null;index:idx_carrier_accounts_active,unique,priority:2,where:enabled"`
	Nickname string      `json:"nickname" gorm:"type:varchar(255)"`

	// Credentials holds carrier-specific secrets (client_id, client_secret,
	// api_key, customer_number, ...). Excluded from JSON serialization.
	Credentials JSONB `json:"-" gorm:"type:jsonb"`

	BaseURL      string `json:"baseUrl" gorm:"type:varchar(500)"`
	Enabled      bool   `json:"enabled" gorm:"default:true"`
	IsProduction bool   `json:"isProduction" gorm:"default:false"`

	// EnabledServices restricts quoting to these service codes when set
	EnabledServices StringArray `json:"enabledServices" gorm:"type:jsonb"`

	MarkupPercent float64 `json:"markupPercent" gorm:"type:decimal(5,2);default:0"`
	MarkupFlat    float64 `json:"markupFlat" gorm:"type:decimal(10,2);default:0"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for CarrierAccount
func (CarrierAccount) TableName() string {
	return "carrier_accounts"
}

// CarrierAccountResponse is the redacted API view of a CarrierAccount
type CarrierAccountResponse struct {
	ID              uuid.UUID   `json:"id"`
	Carrier         CarrierType `json:"carrier"`
	Nickname        string      `json:"nickname"`
	BaseURL         string      `json:"baseUrl"`
	Enabled         bool        `json:"enabled"`
	IsProduction    bool        `json:"isProduction"`
	EnabledServices []string    `json:"enabledServices"`
	MarkupPercent   float64     `json:"markupPercent"`
	MarkupFlat      float64     `json:"markupFlat"`
	HasCredentials  bool        `json:"hasCredentials"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// ToResponse converts to a response without exposing credentials
func (c *CarrierAccount) ToResponse() CarrierAccountResponse {
	return CarrierAccountResponse{
		ID:              c.ID,
		Carrier:         c.Carrier,
		Nickname:        c.Nickname,
		BaseURL:         c.BaseURL,
		Enabled:         c.Enabled,
		IsProduction:    c.IsProduction,
		EnabledServices: c.EnabledServices,
		MarkupPercent:   c.MarkupPercent,
		MarkupFlat:      c.MarkupFlat,
		HasCredentials:  len(c.Credentials) > 0,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ShippingServiceEntry is one row of the cached per-carrier service catalog.
// Rows older than the staleness window are refreshed from the carrier before
// being trusted for purchase-time validation.
type ShippingServiceEntry struct {
	ID          uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    string      `json:"tenantId" gorm:"type:varchar(255);not null;index:idx_service_catalog_tenant"`
	Carrier     CarrierType `json:"carrier" gorm:"type:varchar(50);not null;index:idx_service_catalog_tenant"`
	ServiceCode string      `json:"serviceCode" gorm:"type:varchar(100);not null"`
	ServiceName string      `json:"serviceName" gorm:"type:varchar(255)"`
	ServiceType ServiceType `json:"serviceType" gorm:"type:varchar(50)"`
	RefreshedAt time.Time   `json:"refreshedAt" gorm:"not null"`
	CreatedAt   time.Time   `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName specifies the table name for ShippingServiceEntry
func (ShippingServiceEntry) TableName() string {
	return "shipping_service_catalog"
}

// ShippingSettings stores per-tenant shipping configuration
type ShippingSettings struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID string    `json:"tenantId" gorm:"type:varchar(255);uniqueIndex;not null"`

	// Default warehouse origin used when a rate request carries no ship_from
	WarehouseName       string `json:"warehouseName" gorm:"type:varchar(255)"`
	WarehousePhone      string `json:"warehousePhone" gorm:"type:varchar(50)"`
	WarehouseStreet     string `json:"warehouseStreet" gorm:"type:varchar(500)"`
	WarehouseCity       string `json:"warehouseCity" gorm:"type:varchar(100)"`
	WarehouseState      string `json:"warehouseState" gorm:"type:varchar(100)"`
	WarehousePostalCode string `json:"warehousePostalCode" gorm:"type:varchar(20)"`
	WarehouseCountry    string `json:"warehouseCountry" gorm:"type:varchar(10);default:'US'"`

	CacheRates        bool `json:"cacheRates" gorm:"default:true"`
	RateCacheDuration int  `json:"rateCacheDuration" gorm:"default:300"` // seconds

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ShippingSettings
func (ShippingSettings) TableName() string {
	return "shipping_settings"
}

// WarehouseAddress builds an Address from the configured warehouse fields.
// Returns false when no warehouse is configured.
func (s *ShippingSettings) WarehouseAddress() (Address, bool) {
	if s == nil || s.WarehouseStreet == "" || s.WarehousePostalCode == "" {
		return Address{}, false
	}
	return Address{
		Name:       s.WarehouseName,
		Phone:      s.WarehousePhone,
		Street:     s.WarehouseStreet,
		City:       s.WarehouseCity,
		State:      s.WarehouseState,
		PostalCode: s.WarehousePostalCode,
		Country:    s.WarehouseCountry,
	}, true
}

// TenantEntitlement records whether a tenant's billing plan includes the
// shipping feature. Maintained by billing webhook events.
type TenantEntitlement struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID  string     `json:"tenantId" gorm:"type:varchar(255);uniqueIndex;not null"`
	Plan      string     `json:"plan" gorm:"type:varchar(100)"`
	Active    bool       `json:"active" gorm:"default:true"`
	ExpiresAt *time.Time `json:"expiresAt"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName specifies the table name for TenantEntitlement
func (TenantEntitlement) TableName() string {
	return "tenant_entitlements"
}

// IsEntitled reports whether the entitlement currently grants access
func (e *TenantEntitlement) IsEntitled(now time.Time) bool {
	if e == nil || !e.Active {
		return false
	}
	if e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
		return false
	}
	return true
}
