package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rateshop-service/internal/models"
)

// EntitlementRepository handles database operations for tenant entitlements
type EntitlementRepository interface {
	GetByTenant(tenantID string) (*models.TenantEntitlement, error)
	Upsert(entitlement *models.TenantEntitlement) error
}

type entitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository creates a new entitlement repository
func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

// GetByTenant retrieves a tenant's entitlement record. Returns (nil, nil)
// when billing has never reported on this tenant.
func (r *entitlementRepository) GetByTenant(tenantID string) (*models.TenantEntitlement, error) {
	var ent models.TenantEntitlement
	err := r.db.Where("tenant_id = ?", tenantID).First(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// Upsert creates or replaces a tenant's entitlement record
func (r *entitlementRepository) Upsert(entitlement *models.TenantEntitlement) error {
	existing, err := r.GetByTenant(entitlement.TenantID)
	if err != nil {
		return err
	}
	if existing != nil {
		entitlement.ID = existing.ID
		entitlement.CreatedAt = existing.CreatedAt
		return r.db.Save(entitlement).Error
	}
	if entitlement.ID == uuid.Nil {
		entitlement.ID = uuid.New()
	}
	return r.db.Create(entitlement).Error
}
