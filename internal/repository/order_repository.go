package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rateshop-service/internal/models"
)

// OrderRepository handles database operations for orders
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uuid.UUID, tenantID string) (*models.Order, error)
	GetByOrderNumber(orderNumber string, tenantID string) (*models.Order, error)
	List(tenantID string, limit, offset int) ([]*models.Order, int64, error)
	Update(order *models.Order) error
	MarkDelivered(id uuid.UUID, tenantID string, at time.Time) error
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates a new order
func (r *orderRepository) Create(order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.Create(order).Error
}

// GetByID retrieves an order by ID
func (r *orderRepository) GetByID(id uuid.UUID, tenantID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByOrderNumber retrieves an order by its order number
func (r *orderRepository) GetByOrderNumber(orderNumber string, tenantID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("order_number = ? AND tenant_id = ?", orderNumber, tenantID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// List retrieves orders with pagination
func (r *orderRepository) List(tenantID string, limit, offset int) ([]*models.Order, int64, error) {
	var orders []*models.Order
	var total int64

	if err := r.db.Model(&models.Order{}).Where("tenant_id = ?", tenantID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Update updates an order
func (r *orderRepository) Update(order *models.Order) error {
	return r.db.Save(order).Error
}

// MarkDelivered sets the order delivered with its delivery time
func (r *orderRepository) MarkDelivered(id uuid.UUID, tenantID string, at time.Time) error {
	return r.db.Model(&models.Order{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"status":       models.OrderStatusDelivered,
			"delivered_at": &at,
			"updated_at":   time.Now(),
		}).Error
}
