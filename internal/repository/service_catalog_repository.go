package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rateshop-service/internal/models"
)

// ServiceCatalogRepository handles the cached per-carrier service catalog
type ServiceCatalogRepository interface {
	ListForCarrier(tenantID string, carrier models.CarrierType) ([]*models.ShippingServiceEntry, error)
	ListAll(tenantID string) ([]*models.ShippingServiceEntry, error)

	// ReplaceForCarrier swaps out a carrier's catalog rows in one
	// transaction, stamping all new rows with the same refresh time.
	ReplaceForCarrier(tenantID string, carrier models.CarrierType, entries []*models.ShippingServiceEntry) error

	// OldestRefresh returns the oldest refresh time among a carrier's rows.
	// Zero time when the carrier has no rows.
	OldestRefresh(tenantID string, carrier models.CarrierType) (time.Time, error)
}

type serviceCatalogRepository struct {
	db *gorm.DB
}

// NewServiceCatalogRepository creates a new service catalog repository
func NewServiceCatalogRepository(db *gorm.DB) ServiceCatalogRepository {
	return &serviceCatalogRepository{db: db}
}

// ListForCarrier retrieves catalog rows for one carrier
func (r *serviceCatalogRepository) ListForCarrier(tenantID string, carrier models.CarrierType) ([]*models.ShippingServiceEntry, error) {
	var entries []*models.ShippingServiceEntry
	err := r.db.Where("tenant_id = ? AND carrier = ?", tenantID, carrier).
		Order("service_code ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListAll retrieves all catalog rows for a tenant
func (r *serviceCatalogRepository) ListAll(tenantID string) ([]*models.ShippingServiceEntry, error) {
	var entries []*models.ShippingServiceEntry
	err := r.db.Where("tenant_id = ?", tenantID).
		Order("carrier ASC, service_code ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplaceForCarrier swaps out a carrier's catalog atomically
func (r *serviceCatalogRepository) ReplaceForCarrier(tenantID string, carrier models.CarrierType, entries []*models.ShippingServiceEntry) error {
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND carrier = ?", tenantID, carrier).
			Delete(&models.ShippingServiceEntry{}).Error; err != nil {
			return err
		}
		for _, e := range entries {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			e.TenantID = tenantID
			e.Carrier = carrier
			e.RefreshedAt = now
			if err := tx.Create(e).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// OldestRefresh returns the oldest refresh time for a carrier's rows
func (r *serviceCatalogRepository) OldestRefresh(tenantID string, carrier models.CarrierType) (time.Time, error) {
	var result struct {
		Oldest *time.Time
	}
	err := r.db.Model(&models.ShippingServiceEntry{}).
		Select("MIN(refreshed_at) AS oldest").
		Where("tenant_id = ? AND carrier = ?", tenantID, carrier).
		Scan(&result).Error
	if err != nil {
		return time.Time{}, err
	}
	if result.Oldest == nil {
		return time.Time{}, nil
	}
	return *result.Oldest, nil
}
