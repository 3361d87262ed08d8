package carriers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"rateshop-service/internal/models"
)

// Carrier-level error categories. Adapters wrap upstream failures in one of
// these so callers can map them to the right HTTP status.
var (
	ErrAuthFailed     = errors.New("carrier authentication failed")
	ErrUpstream       = errors.New("carrier upstream error")
	ErrNoTracking     = errors.New("carrier returned no tracking number")
	ErrEstimatedOnly  = errors.New("carrier produces estimated rates only and cannot create shipments")
	ErrNotImplemented = errors.New("operation not supported by this carrier")
)

// RateRequest is the normalized input for quoting. Weight in pounds,
// dimensions in inches; adapters convert as their carrier requires.
type RateRequest struct {
	ShipFrom          models.Address
	ShipTo            models.Address
	Package           models.Package
	DeclaredValue     float64
	Currency          string
	SignatureRequired bool
	InsuranceValue    float64
}

// ShipmentRequest is the normalized input for label creation
type ShipmentRequest struct {
	ShipFrom          models.Address
	ShipTo            models.Address
	Package           models.Package
	ServiceCode       string
	DeclaredValue     float64
	Currency          string
	SignatureRequired bool
	InsuranceValue    float64
	Reference         string
}

// ShipmentResult is what a carrier returns after creating a shipment
type ShipmentResult struct {
	TrackingNumber    string
	CarrierShipmentID string
	ServiceName       string
	LabelURL          string
	LabelData         string // base64 document when returned inline
	Cost              float64
	Currency          string
}

// TrackingEvent is one scan in a shipment's tracking history
type TrackingEvent struct {
	Status      string
	Description string
	Location    string
	Timestamp   string
}

// TrackingInfo is the normalized tracking state for a shipment
type TrackingInfo struct {
	TrackingNumber string
	Status         string
	Delivered      bool
	Events         []TrackingEvent
}

// ServiceInfo describes one service a carrier offers
type ServiceInfo struct {
	Code string
	Name string
	Type models.ServiceType
}

// Config carries the per-account settings an adapter needs
type Config struct {
	Credentials  map[string]interface{}
	BaseURL      string
	IsProduction bool
}

// CredentialString pulls a string credential by key, empty when absent
func (c Config) CredentialString(key string) string {
	if c.Credentials == nil {
		return ""
	}
	if v, ok := c.Credentials[key].(string); ok {
		return v
	}
	return ""
}

// Carrier is the interface all shipping carrier adapters implement
type Carrier interface {
	// Name returns the carrier identifier
	Name() models.CarrierType

	// TestConnection verifies the account credentials against the carrier
	TestConnection(ctx context.Context) error

	// GetRates returns quotes for all services the carrier offers for the
	// given shipment. An empty slice with nil error means the carrier has
	// no applicable services.
	GetRates(ctx context.Context, req RateRequest) ([]models.RateQuote, error)

	// CreateShipment purchases a label with the carrier
	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)

	// GetTracking fetches tracking state for a shipment
	GetTracking(ctx context.Context, trackingNumber string) (*TrackingInfo, error)

	// ListServices returns the services this carrier account can quote
	ListServices(ctx context.Context) ([]ServiceInfo, error)
}

// Estimator marks adapters whose quotes are synthetic estimates. Estimated
// quotes are usable for display but never for purchase.
type Estimator interface {
	Estimated() bool
}

// Constructor builds a carrier adapter from account config
type Constructor func(cfg Config) (Carrier, error)

var (
	registryMu sync.RWMutex
	registry   = map[models.CarrierType]Constructor{}
)

// Register makes a carrier constructor available by type. Called from
// adapter init functions.
func Register(t models.CarrierType, fn Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = fn
}

// Supported returns the registered carrier types in stable order
func Supported() []models.CarrierType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]models.CarrierType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds an adapter for the given carrier type
func New(t models.CarrierType, cfg Config) (Carrier, error) {
	registryMu.RLock()
	fn, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported carrier: %s", t)
	}
	return fn(cfg)
}
