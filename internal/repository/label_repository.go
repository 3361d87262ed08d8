package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rateshop-service/internal/models"
)

// LabelRepository handles database operations for shipment labels
type LabelRepository interface {
	// SavePurchase stores a purchased label and marks its order shipped in
	// one transaction. Either both writes land or neither does.
	SavePurchase(label *models.ShipmentLabel) error

	GetByID(id uuid.UUID, tenantID string) (*models.ShipmentLabel, error)
	GetByOrderID(orderID uuid.UUID, tenantID string) ([]*models.ShipmentLabel, error)
	GetByIdempotencyKey(tenantID string, orderID uuid.UUID, key string) (*models.ShipmentLabel, error)
	GetByTrackingNumberGlobal(trackingNumber string) (*models.ShipmentLabel, error)
	List(tenantID string, limit, offset int) ([]*models.ShipmentLabel, int64, error)
	UpdateStatus(id uuid.UUID, status models.LabelStatus, tenantID string) error
}

type labelRepository struct {
	db *gorm.DB
}

// NewLabelRepository creates a new label repository
func NewLabelRepository(db *gorm.DB) LabelRepository {
	return &labelRepository{db: db}
}

// SavePurchase stores the label and flips the order to shipped atomically
func (r *labelRepository) SavePurchase(label *models.ShipmentLabel) error {
	if label.ID == uuid.Nil {
		label.ID = uuid.New()
	}
	now := time.Now()

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(label).Error; err != nil {
			return err
		}
		return tx.Model(&models.Order{}).
			Where("id = ? AND tenant_id = ?", label.OrderID, label.TenantID).
			Updates(map[string]interface{}{
				"status":          models.OrderStatusShipped,
				"tracking_number": label.TrackingNumber,
				"shipped_at":      &now,
				"updated_at":      now,
			}).Error
	})
}

// GetByID retrieves a label by ID
func (r *labelRepository) GetByID(id uuid.UUID, tenantID string) (*models.ShipmentLabel, error) {
	var label models.ShipmentLabel
	err := r.db.Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&label).Error
	if err != nil {
		return nil, err
	}
	return &label, nil
}

// GetByOrderID retrieves all labels purchased for an order
func (r *labelRepository) GetByOrderID(orderID uuid.UUID, tenantID string) ([]*models.ShipmentLabel, error) {
	var labels []*models.ShipmentLabel
	err := r.db.Where("order_id = ? AND tenant_id = ?", orderID, tenantID).
		Order("created_at DESC").
		Find(&labels).Error
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// GetByIdempotencyKey looks up an earlier purchase for the same key.
// Returns (nil, nil) when no prior purchase exists.
func (r *labelRepository) GetByIdempotencyKey(tenantID string, orderID uuid.UUID, key string) (*models.ShipmentLabel, error) {
	var label models.ShipmentLabel
	err := r.db.Where("tenant_id = ? AND order_id = ? AND idempotency_key = ?", tenantID, orderID, key).
		First(&label).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &label, nil
}

// GetByTrackingNumberGlobal retrieves a label by tracking number without
// tenant filter. Used by webhooks where tenant context is not available.
func (r *labelRepository) GetByTrackingNumberGlobal(trackingNumber string) (*models.ShipmentLabel, error) {
	var label models.ShipmentLabel
	err := r.db.Where("tracking_number = ?", trackingNumber).
		First(&label).Error
	if err != nil {
		return nil, err
	}
	return &label, nil
}

// List retrieves labels with pagination
func (r *labelRepository) List(tenantID string, limit, offset int) ([]*models.ShipmentLabel, int64, error) {
	var labels []*models.ShipmentLabel
	var total int64

	if err := r.db.Model(&models.ShipmentLabel{}).Where("tenant_id = ?", tenantID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&labels).Error
	if err != nil {
		return nil, 0, err
	}
	return labels, total, nil
}

// UpdateStatus updates a label's status
func (r *labelRepository) UpdateStatus(id uuid.UUID, status models.LabelStatus, tenantID string) error {
	return r.db.Model(&models.ShipmentLabel{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}
