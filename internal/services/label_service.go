package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rateshop-service/internal/carriers"
	"rateshop-service/internal/config"
	"rateshop-service/internal/events"
	"rateshop-service/internal/models"
	"rateshop-service/internal/progress"
	"rateshop-service/internal/repository"
)

// LabelService purchases and manages shipment labels
type LabelService interface {
	// Purchase buys a label with the chosen carrier and service. The label
	// record and the order's shipped status commit atomically; a carrier or
	// persistence failure leaves no partial state. Retries carrying the
	// same idempotency key return the original purchase.
	Purchase(ctx context.Context, tenantID, idempotencyKey string, req models.PurchaseLabelRequest) (*models.PurchaseLabelResponse, []models.FieldMessage, error)

	GetLabel(ctx context.Context, tenantID string, id string) (*models.ShipmentLabel, error)
	ListLabels(ctx context.Context, tenantID string, limit, offset int) ([]*models.ShipmentLabel, int64, error)
	ListLabelsForOrder(ctx context.Context, tenantID string, orderID string) ([]*models.ShipmentLabel, error)

	// AdvanceLabelStatus moves a label forward through its lifecycle,
	// mirroring delivery onto the order. Backward transitions are rejected.
	AdvanceLabelStatus(ctx context.Context, trackingNumber string, status models.LabelStatus) error
}

type labelService struct {
	orders    repository.OrderRepository
	labels    repository.LabelRepository
	accounts  repository.CarrierAccountRepository
	catalog   repository.ServiceCatalogRepository
	provider  CarrierProvider
	publisher *events.Publisher
	runs      *progress.Store
	cfg       *config.Config
	logger    *logrus.Entry
}

// NewLabelService creates a new label service
func NewLabelService(
	orders repository.OrderRepository,
	labels repository.LabelRepository,
	accounts repository.CarrierAccountRepository,
	catalog repository.ServiceCatalogRepository,
	provider CarrierProvider,
	publisher *events.Publisher,
	runs *progress.Store,
	cfg *config.Config,
) LabelService {
	return &labelService{
		orders:    orders,
		labels:    labels,
		accounts:  accounts,
		catalog:   catalog,
		provider:  provider,
		publisher: publisher,
		runs:      runs,
		cfg:       cfg,
		logger:    logrus.WithField("component", "label-service"),
	}
}

// Purchase buys a label for an order
func (s *labelService) Purchase(ctx context.Context, tenantID, idempotencyKey string, req models.PurchaseLabelRequest) (*models.PurchaseLabelResponse, []models.FieldMessage, error) {
	log := s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"order_id":  req.OrderID,
		"carrier":   req.Carrier,
	})

	// A replayed request with the same key returns the original purchase
	// without touching the carrier again
	if idempotencyKey != "" {
		existing, err := s.labels.GetByIdempotencyKey(tenantID, req.OrderID, idempotencyKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: idempotency lookup: %v", ErrPersistence, err)
		}
		if existing != nil {
			log.WithField("label_id", existing.ID).Info("Returning existing label for replayed purchase")
			return labelResponse(existing), nil, nil
		}
	}

	run := progress.NewRun("label_purchase", tenantID, progress.CarrierOperationSteps)
	if s.runs != nil {
		s.runs.Track(run)
	}

	_ = run.Begin(progress.StepConnect)
	order, err := s.orders.GetByID(req.OrderID, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = run.Fail(progress.StepConnect, ErrOrderNotFound)
			return nil, nil, ErrOrderNotFound
		}
		_ = run.Fail(progress.StepConnect, err)
		return nil, nil, fmt.Errorf("%w: loading order: %v", ErrPersistence, err)
	}
	if order.Status == models.OrderStatusShipped || order.Status == models.OrderStatusDelivered {
		_ = run.Fail(progress.StepConnect, ErrOrderAlreadyShipped)
		return nil, nil, ErrOrderAlreadyShipped
	}

	validation := ValidateShipment(req.ShipFrom, req.ShipTo, req.Package)
	if !validation.Valid() {
		verr := &ValidationError{Details: validation.Errors, Warnings: validation.Warnings}
		_ = run.Fail(progress.StepConnect, verr)
		return nil, nil, verr
	}
	warnings := validation.Warnings

	account, err := s.findAccount(tenantID, req.Carrier)
	if err != nil {
		_ = run.Fail(progress.StepConnect, err)
		return nil, nil, err
	}
	_ = run.Complete(progress.StepConnect)

	_ = run.Begin(progress.StepAuthenticate)
	adapter, err := s.provider.ForAccount(account)
	if err != nil {
		_ = run.Fail(progress.StepAuthenticate, err)
		return nil, nil, err
	}
	if est, ok := adapter.(carriers.Estimator); ok && est.Estimated() {
		_ = run.Fail(progress.StepAuthenticate, ErrEstimatedPurchase)
		return nil, nil, fmt.Errorf("%w: %s", ErrEstimatedPurchase, req.Carrier)
	}
	if err := s.checkServiceKnown(tenantID, req.Carrier, req.ServiceCode); err != nil {
		_ = run.Fail(progress.StepAuthenticate, err)
		return nil, nil, err
	}
	_ = run.Complete(progress.StepAuthenticate)

	shipReq := carriers.ShipmentRequest{
		ShipFrom:      req.ShipFrom,
		ShipTo:        req.ShipTo,
		Package:       req.Package,
		ServiceCode:   req.ServiceCode,
		DeclaredValue: order.DeclaredValue,
		Currency:      order.Currency,
		Reference:     order.OrderNumber,
	}
	if req.AdditionalServices != nil {
		shipReq.SignatureRequired = req.AdditionalServices.SignatureRequired
		shipReq.InsuranceValue = req.AdditionalServices.InsuranceValue
	}

	_ = run.Begin(progress.StepFetch)
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CarrierTimeout)
	result, err := adapter.CreateShipment(callCtx, shipReq)
	cancel()
	if err != nil {
		_ = run.Fail(progress.StepFetch, err)
		return nil, nil, err
	}
	_ = run.Complete(progress.StepFetch)

	_ = run.Begin(progress.StepProcess)
	label := &models.ShipmentLabel{
		TenantID:          tenantID,
		OrderID:           order.ID,
		Carrier:           req.Carrier,
		ServiceCode:       req.ServiceCode,
		ServiceName:       result.ServiceName,
		TrackingNumber:    result.TrackingNumber,
		CarrierShipmentID: result.CarrierShipmentID,
		LabelURL:          result.LabelURL,
		LabelData:         result.LabelData,
		Cost:              result.Cost,
		Currency:          orFallback(result.Currency, order.Currency),
		Status:            models.LabelStatusCreated,
		IdempotencyKey:    idempotencyKey,
	}
	_ = run.Complete(progress.StepProcess)

	_ = run.Begin(progress.StepPersist)
	if err := s.labels.SavePurchase(label); err != nil {
		_ = run.Fail(progress.StepPersist, err)
		// The carrier shipment exists but our record does not. Surface a
		// persistence error so the caller can retry with the same key.
		log.WithError(err).WithField("tracking_number", result.TrackingNumber).
			Error("Label purchased with carrier but failed to persist")
		return nil, nil, fmt.Errorf("%w: storing label: %v", ErrPersistence, err)
	}
	_ = run.Complete(progress.StepPersist)

	_ = run.Begin(progress.StepFinalize)
	s.publisher.Publish(events.EventLabelPurchased, tenantID, map[string]interface{}{
		"label_id":        label.ID.String(),
		"order_id":        order.ID.String(),
		"carrier":         string(req.Carrier),
		"service_code":    req.ServiceCode,
		"tracking_number": result.TrackingNumber,
		"cost":            label.Cost,
	})
	_ = run.Complete(progress.StepFinalize)

	log.WithField("tracking_number", result.TrackingNumber).Info("Label purchased")
	return labelResponse(label), warnings, nil
}

func (s *labelService) findAccount(tenantID string, carrier models.CarrierType) (*models.CarrierAccount, error) {
	accounts, err := s.accounts.ListEnabled(tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing carrier accounts: %v", ErrPersistence, err)
	}
	for _, acct := range accounts {
		if acct.Carrier == carrier {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoCarrierAccount, carrier)
}

// checkServiceKnown rejects service codes absent from a non-empty cached
// catalog. An empty catalog skips the check rather than blocking purchases.
func (s *labelService) checkServiceKnown(tenantID string, carrier models.CarrierType, serviceCode string) error {
	entries, err := s.catalog.ListForCarrier(tenantID, carrier)
	if err != nil {
		return fmt.Errorf("%w: reading service catalog: %v", ErrPersistence, err)
	}
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.ServiceCode == serviceCode {
			return nil
		}
	}
	return fmt.Errorf("%w: %s for %s", ErrUnknownService, serviceCode, carrier)
}

func labelResponse(label *models.ShipmentLabel) *models.PurchaseLabelResponse {
	return &models.PurchaseLabelResponse{
		LabelID:        label.ID,
		TrackingNumber: label.TrackingNumber,
		LabelURL:       label.LabelURL,
		Carrier:        label.Carrier,
		ServiceCode:    label.ServiceCode,
		Cost:           label.Cost,
		Currency:       label.Currency,
	}
}

func orFallback(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// GetLabel retrieves one label by ID
func (s *labelService) GetLabel(ctx context.Context, tenantID string, id string) (*models.ShipmentLabel, error) {
	labelID, err := uuid.Parse(id)
	if err != nil {
		return nil, &ValidationError{Details: []models.FieldMessage{{Field: "id", Message: "must be a valid UUID"}}}
	}
	label, err := s.labels.GetByID(labelID, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLabelNotFound
		}
		return nil, fmt.Errorf("%w: loading label: %v", ErrPersistence, err)
	}
	return label, nil
}

// ListLabels retrieves labels with pagination
func (s *labelService) ListLabels(ctx context.Context, tenantID string, limit, offset int) ([]*models.ShipmentLabel, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.labels.List(tenantID, limit, offset)
}

// ListLabelsForOrder retrieves every label purchased for one order
func (s *labelService) ListLabelsForOrder(ctx context.Context, tenantID string, orderID string) ([]*models.ShipmentLabel, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, &ValidationError{Details: []models.FieldMessage{{Field: "order_id", Message: "must be a valid UUID"}}}
	}
	labels, err := s.labels.GetByOrderID(id, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading order labels: %v", ErrPersistence, err)
	}
	return labels, nil
}

// AdvanceLabelStatus moves a label forward based on a tracking update
func (s *labelService) AdvanceLabelStatus(ctx context.Context, trackingNumber string, status models.LabelStatus) error {
	label, err := s.labels.GetByTrackingNumberGlobal(trackingNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLabelNotFound
		}
		return fmt.Errorf("%w: loading label: %v", ErrPersistence, err)
	}

	if !label.Status.CanTransitionTo(status) {
		s.logger.WithFields(logrus.Fields{
			"tracking_number": trackingNumber,
			"from":            label.Status,
			"to":              status,
		}).Warn("Ignoring non-forward label status transition")
		return nil
	}

	if err := s.labels.UpdateStatus(label.ID, status, label.TenantID); err != nil {
		return fmt.Errorf("%w: updating label status: %v", ErrPersistence, err)
	}

	if status == models.LabelStatusDelivered {
		if err := s.orders.MarkDelivered(label.OrderID, label.TenantID, time.Now()); err != nil {
			s.logger.WithError(err).WithField("order_id", label.OrderID).
				Error("Failed to mirror delivery onto order")
		}
	}

	s.publisher.Publish(events.EventLabelStatusChanged, label.TenantID, map[string]interface{}{
		"label_id":        label.ID.String(),
		"tracking_number": trackingNumber,
		"status":          string(status),
	})
	return nil
}
