package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rateshop-service/internal/models"
)

// CarrierAccountRepository handles database operations for carrier accounts
// and per-tenant shipping settings
type CarrierAccountRepository interface {
	Create(account *models.CarrierAccount) error
	GetByID(id uuid.UUID, tenantID string) (*models.CarrierAccount, error)
	List(tenantID string) ([]*models.CarrierAccount, error)
	ListEnabled(tenantID string) ([]*models.CarrierAccount, error)
	Update(account *models.CarrierAccount) error
	Delete(id uuid.UUID, tenantID string) error

	GetSettings(tenantID string) (*models.ShippingSettings, error)
	SaveSettings(settings *models.ShippingSettings) error
}

type carrierAccountRepository struct {
	db *gorm.DB
}

// NewCarrierAccountRepository creates a new carrier account repository
func NewCarrierAccountRepository(db *gorm.DB) CarrierAccountRepository {
	return &carrierAccountRepository{db: db}
}

// Create creates a new carrier account
func (r *carrierAccountRepository) Create(account *models.CarrierAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.db.Create(account).Error
}

// GetByID retrieves a carrier account by ID
func (r *carrierAccountRepository) GetByID(id uuid.UUID, tenantID string) (*models.CarrierAccount, error) {
	var account models.CarrierAccount
	err := r.db.Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// List retrieves all carrier accounts for a tenant
func (r *carrierAccountRepository) List(tenantID string) ([]*models.CarrierAccount, error) {
	var accounts []*models.CarrierAccount
	err := r.db.Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListEnabled retrieves only the enabled carrier accounts for a tenant,
// in creation order. Rate aggregation fans out over this list.
func (r *carrierAccountRepository) ListEnabled(tenantID string) ([]*models.CarrierAccount, error) {
	var accounts []*models.CarrierAccount
	err := r.db.Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Update updates a carrier account
func (r *carrierAccountRepository) Update(account *models.CarrierAccount) error {
	return r.db.Save(account).Error
}

// Delete removes a carrier account
func (r *carrierAccountRepository) Delete(id uuid.UUID, tenantID string) error {
	return r.db.Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.CarrierAccount{}).Error
}

// GetSettings retrieves a tenant's shipping settings. Returns (nil, nil)
// when the tenant has not saved any yet.
func (r *carrierAccountRepository) GetSettings(tenantID string) (*models.ShippingSettings, error) {
	var settings models.ShippingSettings
	err := r.db.Where("tenant_id = ?", tenantID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings upserts a tenant's shipping settings
func (r *carrierAccountRepository) SaveSettings(settings *models.ShippingSettings) error {
	existing, err := r.GetSettings(settings.TenantID)
	if err != nil {
		return err
	}
	if existing != nil {
		settings.ID = existing.ID
		settings.CreatedAt = existing.CreatedAt
		return r.db.Save(settings).Error
	}
	if settings.ID == uuid.Nil {
		settings.ID = uuid.New()
	}
	return r.db.Create(settings).Error
}
