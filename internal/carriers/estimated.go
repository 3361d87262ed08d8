package carriers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"rateshop-service/internal/models"
)

// estimatedServices are the synthetic service tables for carriers that have
// no live integration yet. Quotes carry Estimated=true and cannot be
// purchased.
var estimatedServices = map[models.CarrierType][]ServiceInfo{
	models.CarrierFedEx: {
		{Code: "FEDEX_PRIORITY_OVERNIGHT", Name: "FedEx Priority Overnight", Type: models.ServiceTypeOvernight},
		{Code: "FEDEX_2_DAY", Name: "FedEx 2Day", Type: models.ServiceTypeExpedited},
		{Code: "FEDEX_GROUND", Name: "FedEx Ground", Type: models.ServiceTypeStandard},
		{Code: "FEDEX_INTERNATIONAL_PRIORITY", Name: "FedEx International Priority", Type: models.ServiceTypeOther},
	},
	models.CarrierUSPS: {
		{Code: "USPS_PRIORITY_EXPRESS", Name: "USPS Priority Mail Express", Type: models.ServiceTypeOvernight},
		{Code: "USPS_PRIORITY", Name: "USPS Priority Mail", Type: models.ServiceTypeExpedited},
		{Code: "USPS_GROUND_ADVANTAGE", Name: "USPS Ground Advantage", Type: models.ServiceTypeStandard},
		{Code: "USPS_MEDIA_MAIL", Name: "USPS Media Mail", Type: models.ServiceTypeOther},
	},
}

// estimatedTransitDays by speed tier
var estimatedTransitDays = map[models.ServiceType]int{
	models.ServiceTypeOvernight: 1,
	models.ServiceTypeExpedited: 2,
	models.ServiceTypeStandard:  5,
	models.ServiceTypeOther:     7,
}

// serviceTypeMultipliers scale the synthetic base price per speed tier
var serviceTypeMultipliers = map[models.ServiceType]float64{
	models.ServiceTypeOvernight: 3.0,
	models.ServiceTypeExpedited: 1.8,
	models.ServiceTypeStandard:  1.0,
	models.ServiceTypeOther:     1.2,
}

// EstimatedCarrier produces deterministic synthetic quotes for carriers
// without a live API integration
type EstimatedCarrier struct {
	carrier  models.CarrierType
	services []ServiceInfo
}

func init() {
	Register(models.CarrierFedEx, func(cfg Config) (Carrier, error) {
		return newEstimatedCarrier(models.CarrierFedEx)
	})
	Register(models.CarrierUSPS, func(cfg Config) (Carrier, error) {
		return newEstimatedCarrier(models.CarrierUSPS)
	})
}

func newEstimatedCarrier(t models.CarrierType) (Carrier, error) {
	services, ok := estimatedServices[t]
	if !ok {
		return nil, fmt.Errorf("no estimated service table for carrier %s", t)
	}
	return &EstimatedCarrier{carrier: t, services: services}, nil
}

// Name returns the carrier identifier
func (e *EstimatedCarrier) Name() models.CarrierType {
	return e.carrier
}

// Estimated marks this adapter's quotes as synthetic
func (e *EstimatedCarrier) Estimated() bool {
	return true
}

// TestConnection always succeeds since there is no upstream
func (e *EstimatedCarrier) TestConnection(ctx context.Context) error {
	return nil
}

// basePrice derives a stable pseudo-price in [8, 20) from the shipment
// inputs, so the same request always quotes the same amount
func (e *EstimatedCarrier) basePrice(req RateRequest) float64 {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.2f|%.2f|%.2f|%.2f",
		e.carrier, req.ShipFrom.PostalCode, req.ShipTo.PostalCode,
		req.Package.Weight, req.Package.Length, req.Package.Width, req.Package.Height)
	sum := h.Sum(nil)
	n := binary.BigEndian.Uint32(sum[:4])
	frac := float64(n) / float64(1<<32)
	base := 8 + frac*12
	// heavier parcels cost more
	base += req.Package.Weight * 0.35
	return round2(base)
}

// GetRates returns synthetic quotes for every service in the table
func (e *EstimatedCarrier) GetRates(ctx context.Context, req RateRequest) ([]models.RateQuote, error) {
	base := e.basePrice(req)
	quotes := make([]models.RateQuote, 0, len(e.services))
	for _, svc := range e.services {
		cost := round2(base * serviceTypeMultipliers[svc.Type])
		quotes = append(quotes, models.RateQuote{
			Carrier:       e.carrier,
			ServiceCode:   svc.Code,
			ServiceName:   svc.Name,
			ServiceType:   svc.Type,
			Cost:          cost,
			BaseCost:      cost,
			Currency:      "USD",
			EstimatedDays: estimatedTransitDays[svc.Type],
			Estimated:     true,
		})
	}
	return quotes, nil
}

// CreateShipment always fails; estimated quotes cannot be purchased
func (e *EstimatedCarrier) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	return nil, fmt.Errorf("%w: %s", ErrEstimatedOnly, e.carrier)
}

// GetTracking is not available without a live integration
func (e *EstimatedCarrier) GetTracking(ctx context.Context, trackingNumber string) (*TrackingInfo, error) {
	return nil, fmt.Errorf("%w: tracking for %s", ErrNotImplemented, e.carrier)
}

// ListServices returns the synthetic service table
func (e *EstimatedCarrier) ListServices(ctx context.Context) ([]ServiceInfo, error) {
	return e.services, nil
}
