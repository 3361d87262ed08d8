package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"rateshop-service/internal/carriers"
	"rateshop-service/internal/models"
	"rateshop-service/internal/repository"
)

// MockOrderRepository is a mock implementation of repository.OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

var _ repository.OrderRepository = (*MockOrderRepository)(nil)

func (m *MockOrderRepository) Create(order *models.Order) error {
	return m.Called(order).Error(0)
}

func (m *MockOrderRepository) GetByID(id uuid.UUID, tenantID string) (*models.Order, error) {
	args := m.Called(id, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByOrderNumber(orderNumber string, tenantID string) (*models.Order, error) {
	args := m.Called(orderNumber, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderRepository) List(tenantID string, limit, offset int) ([]*models.Order, int64, error) {
	args := m.Called(tenantID, limit, offset)
	return args.Get(0).([]*models.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) Update(order *models.Order) error {
	return m.Called(order).Error(0)
}

func (m *MockOrderRepository) MarkDelivered(id uuid.UUID, tenantID string, at time.Time) error {
	return m.Called(id, tenantID, at).Error(0)
}

// MockLabelRepository is a mock implementation of repository.LabelRepository
type MockLabelRepository struct {
	mock.Mock
}

var _ repository.LabelRepository = (*MockLabelRepository)(nil)

func (m *MockLabelRepository) SavePurchase(label *models.ShipmentLabel) error {
	return m.Called(label).Error(0)
}

func (m *MockLabelRepository) GetByID(id uuid.UUID, tenantID string) (*models.ShipmentLabel, error) {
	args := m.Called(id, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShipmentLabel), args.Error(1)
}

func (m *MockLabelRepository) GetByOrderID(orderID uuid.UUID, tenantID string) ([]*models.ShipmentLabel, error) {
	args := m.Called(orderID, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ShipmentLabel), args.Error(1)
}

func (m *MockLabelRepository) GetByIdempotencyKey(tenantID string, orderID uuid.UUID, key string) (*models.ShipmentLabel, error) {
	args := m.Called(tenantID, orderID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShipmentLabel), args.Error(1)
}

func (m *MockLabelRepository) GetByTrackingNumberGlobal(trackingNumber string) (*models.ShipmentLabel, error) {
	args := m.Called(trackingNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShipmentLabel), args.Error(1)
}

func (m *MockLabelRepository) List(tenantID string, limit, offset int) ([]*models.ShipmentLabel, int64, error) {
	args := m.Called(tenantID, limit, offset)
	return args.Get(0).([]*models.ShipmentLabel), args.Get(1).(int64), args.Error(2)
}

func (m *MockLabelRepository) UpdateStatus(id uuid.UUID, status models.LabelStatus, tenantID string) error {
	return m.Called(id, status, tenantID).Error(0)
}

// MockCarrierAccountRepository is a mock implementation of
// repository.CarrierAccountRepository
type MockCarrierAccountRepository struct {
	mock.Mock
}

var _ repository.CarrierAccountRepository = (*MockCarrierAccountRepository)(nil)

func (m *MockCarrierAccountRepository) Create(account *models.CarrierAccount) error {
	return m.Called(account).Error(0)
}

func (m *MockCarrierAccountRepository) GetByID(id uuid.UUID, tenantID string) (*models.CarrierAccount, error) {
	args := m.Called(id, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CarrierAccount), args.Error(1)
}

func (m *MockCarrierAccountRepository) List(tenantID string) ([]*models.CarrierAccount, error) {
	args := m.Called(tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CarrierAccount), args.Error(1)
}

func (m *MockCarrierAccountRepository) ListEnabled(tenantID string) ([]*models.CarrierAccount, error) {
	args := m.Called(tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CarrierAccount), args.Error(1)
}

func (m *MockCarrierAccountRepository) Update(account *models.CarrierAccount) error {
	return m.Called(account).Error(0)
}

func (m *MockCarrierAccountRepository) Delete(id uuid.UUID, tenantID string) error {
	return m.Called(id, tenantID).Error(0)
}

func (m *MockCarrierAccountRepository) GetSettings(tenantID string) (*models.ShippingSettings, error) {
	args := m.Called(tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShippingSettings), args.Error(1)
}

func (m *MockCarrierAccountRepository) SaveSettings(settings *models.ShippingSettings) error {
	return m.Called(settings).Error(0)
}

// MockServiceCatalogRepository is a mock implementation of
// repository.ServiceCatalogRepository
type MockServiceCatalogRepository struct {
	mock.Mock
}

var _ repository.ServiceCatalogRepository = (*MockServiceCatalogRepository)(nil)

func (m *MockServiceCatalogRepository) ListForCarrier(tenantID string, carrier models.CarrierType) ([]*models.ShippingServiceEntry, error) {
	args := m.Called(tenantID, carrier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ShippingServiceEntry), args.Error(1)
}

func (m *MockServiceCatalogRepository) ListAll(tenantID string) ([]*models.ShippingServiceEntry, error) {
	args := m.Called(tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ShippingServiceEntry), args.Error(1)
}

func (m *MockServiceCatalogRepository) ReplaceForCarrier(tenantID string, carrier models.CarrierType, entries []*models.ShippingServiceEntry) error {
	return m.Called(tenantID, carrier, entries).Error(0)
}

func (m *MockServiceCatalogRepository) OldestRefresh(tenantID string, carrier models.CarrierType) (time.Time, error) {
	args := m.Called(tenantID, carrier)
	return args.Get(0).(time.Time), args.Error(1)
}

// stubCarrier is a canned carrier adapter for service tests
type stubCarrier struct {
	name       models.CarrierType
	quotes     []models.RateQuote
	ratesErr   error
	shipResult *carriers.ShipmentResult
	shipErr    error
	services   []carriers.ServiceInfo
	listErr    error
	estimated  bool

	shipCalls int
}

var _ carriers.Carrier = (*stubCarrier)(nil)

func (s *stubCarrier) Name() models.CarrierType { return s.name }

func (s *stubCarrier) TestConnection(ctx context.Context) error { return nil }

func (s *stubCarrier) GetRates(ctx context.Context, req carriers.RateRequest) ([]models.RateQuote, error) {
	if s.ratesErr != nil {
		return nil, s.ratesErr
	}
	return s.quotes, nil
}

func (s *stubCarrier) CreateShipment(ctx context.Context, req carriers.ShipmentRequest) (*carriers.ShipmentResult, error) {
	s.shipCalls++
	if s.shipErr != nil {
		return nil, s.shipErr
	}
	return s.shipResult, nil
}

func (s *stubCarrier) GetTracking(ctx context.Context, trackingNumber string) (*carriers.TrackingInfo, error) {
	return &carriers.TrackingInfo{TrackingNumber: trackingNumber}, nil
}

func (s *stubCarrier) ListServices(ctx context.Context) ([]carriers.ServiceInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.services, nil
}

func (s *stubCarrier) Estimated() bool { return s.estimated }

// stubProvider maps carrier types onto stub adapters
type stubProvider struct {
	adapters map[models.CarrierType]carriers.Carrier
	err      error
}

var _ CarrierProvider = (*stubProvider)(nil)

func (p *stubProvider) ForAccount(account *models.CarrierAccount) (carriers.Carrier, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.adapters[account.Carrier], nil
}
