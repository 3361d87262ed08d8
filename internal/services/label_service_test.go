package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rateshop-service/internal/carriers"
	"rateshop-service/internal/models"
	"rateshop-service/internal/progress"
)

type labelFixture struct {
	orders   *MockOrderRepository
	labels   *MockLabelRepository
	accounts *MockCarrierAccountRepository
	catalog  *MockServiceCatalogRepository
	provider *stubProvider
	service  LabelService
}

func newLabelFixture(provider *stubProvider) *labelFixture {
	f := &labelFixture{
		orders:   new(MockOrderRepository),
		labels:   new(MockLabelRepository),
		accounts: new(MockCarrierAccountRepository),
		catalog:  new(MockServiceCatalogRepository),
		provider: provider,
	}
	f.service = NewLabelService(f.orders, f.labels, f.accounts, f.catalog, f.provider,
		nil, progress.NewStore(time.Hour), testConfig())
	return f
}

func purchaseRequest(orderID uuid.UUID) models.PurchaseLabelRequest {
	return models.PurchaseLabelRequest{
		OrderID:     orderID,
		Carrier:     models.CarrierUPS,
		ServiceCode: "03",
		ShipFrom:    validAddress(),
		ShipTo:      validAddress(),
		Package:     models.Package{Weight: 4, Length: 12, Width: 8, Height: 6},
	}
}

func upsStub(result *carriers.ShipmentResult, err error) (*stubCarrier, *stubProvider) {
	stub := &stubCarrier{name: models.CarrierUPS, shipResult: result, shipErr: err}
	return stub, &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: stub,
	}}
}

func TestPurchaseStoresLabelAndShipsOrder(t *testing.T) {
	order := testOrder()
	_, provider := upsStub(&carriers.ShipmentResult{
		TrackingNumber:    "1Z999",
		CarrierShipmentID: "SHIP-1",
		ServiceName:       "UPS Ground",
		LabelData:         "aGVsbG8=",
		Cost:              14.20,
		Currency:          "USD",
	}, nil)

	f := newLabelFixture(provider)
	f.labels.On("GetByIdempotencyKey", testTenant, order.ID, "key-1").Return(nil, nil)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	f.catalog.On("ListForCarrier", testTenant, models.CarrierUPS).Return([]*models.ShippingServiceEntry{}, nil)
	f.labels.On("SavePurchase", mock.MatchedBy(func(l *models.ShipmentLabel) bool {
		return l.TrackingNumber == "1Z999" &&
			l.OrderID == order.ID &&
			l.Status == models.LabelStatusCreated &&
			l.IdempotencyKey == "key-1"
	})).Return(nil)

	resp, warnings, err := f.service.Purchase(context.Background(), testTenant, "key-1", purchaseRequest(order.ID))
	require.NoError(t, err)

	assert.Equal(t, "1Z999", resp.TrackingNumber)
	assert.Equal(t, 14.20, resp.Cost)
	assert.Empty(t, warnings)
	f.labels.AssertExpectations(t)
}

func TestPurchaseReplayReturnsExistingLabel(t *testing.T) {
	order := testOrder()
	stub, provider := upsStub(&carriers.ShipmentResult{TrackingNumber: "1ZNEW"}, nil)

	existing := &models.ShipmentLabel{
		ID:             uuid.New(),
		TenantID:       testTenant,
		OrderID:        order.ID,
		Carrier:        models.CarrierUPS,
		TrackingNumber: "1ZOLD",
		Cost:           14.20,
	}

	f := newLabelFixture(provider)
	f.labels.On("GetByIdempotencyKey", testTenant, order.ID, "key-1").Return(existing, nil)

	resp, _, err := f.service.Purchase(context.Background(), testTenant, "key-1", purchaseRequest(order.ID))
	require.NoError(t, err)

	assert.Equal(t, "1ZOLD", resp.TrackingNumber)
	assert.Equal(t, existing.ID, resp.LabelID)
	assert.Equal(t, 0, stub.shipCalls, "the carrier must not be called again on replay")
	f.labels.AssertNotCalled(t, "SavePurchase", mock.Anything)
}

func TestPurchaseWithoutKeySkipsIdempotencyLookup(t *testing.T) {
	order := testOrder()
	_, provider := upsStub(&carriers.ShipmentResult{TrackingNumber: "1Z999"}, nil)

	f := newLabelFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	f.catalog.On("ListForCarrier", testTenant, models.CarrierUPS).Return([]*models.ShippingServiceEntry{}, nil)
	f.labels.On("SavePurchase", mock.Anything).Return(nil)

	_, _, err := f.service.Purchase(context.Background(), testTenant, "", purchaseRequest(order.ID))
	require.NoError(t, err)
	f.labels.AssertNotCalled(t, "GetByIdempotencyKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchaseCarrierFailureWritesNothing(t *testing.T) {
	order := testOrder()
	stub, provider := upsStub(nil, carriers.ErrUpstream)

	f := newLabelFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	f.catalog.On("ListForCarrier", testTenant, models.CarrierUPS).Return([]*models.ShippingServiceEntry{}, nil)
	f.labels.On("GetByIdempotencyKey", testTenant, order.ID, "key-1").Return(nil, nil)

	_, _, err := f.service.Purchase(context.Background(), testTenant, "key-1", purchaseRequest(order.ID))

	assert.ErrorIs(t, err, carriers.ErrUpstream)
	assert.Equal(t, 1, stub.shipCalls)
	f.labels.AssertNotCalled(t, "SavePurchase", mock.Anything)
	f.orders.AssertNotCalled(t, "Update", mock.Anything)
}

func TestPurchaseRefusesEstimatedCarrier(t *testing.T) {
	order := testOrder()
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierFedEx: &stubCarrier{name: models.CarrierFedEx, estimated: true},
	}}

	f := newLabelFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierFedEx)}, nil)

	req := purchaseRequest(order.ID)
	req.Carrier = models.CarrierFedEx
	req.ServiceCode = "FEDEX_GROUND"

	_, _, err := f.service.Purchase(context.Background(), testTenant, "", req)
	assert.ErrorIs(t, err, ErrEstimatedPurchase)
	f.labels.AssertNotCalled(t, "SavePurchase", mock.Anything)
}

func TestPurchaseRejectsUnknownServiceCode(t *testing.T) {
	order := testOrder()
	_, provider := upsStub(&carriers.ShipmentResult{TrackingNumber: "1Z999"}, nil)

	f := newLabelFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	// the cached catalog knows service 01 but not 03
	f.catalog.On("ListForCarrier", testTenant, models.CarrierUPS).Return([]*models.ShippingServiceEntry{
		{Carrier: models.CarrierUPS, ServiceCode: "01"},
	}, nil)

	_, _, err := f.service.Purchase(context.Background(), testTenant, "", purchaseRequest(order.ID))
	assert.ErrorIs(t, err, ErrUnknownService)
	f.labels.AssertNotCalled(t, "SavePurchase", mock.Anything)
}

func TestPurchaseRejectsAlreadyShippedOrder(t *testing.T) {
	order := testOrder()
	order.Status = models.OrderStatusShipped

	f := newLabelFixture(&stubProvider{})
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)

	_, _, err := f.service.Purchase(context.Background(), testTenant, "", purchaseRequest(order.ID))
	assert.ErrorIs(t, err, ErrOrderAlreadyShipped)
}

func TestPurchaseRejectsMissingCarrierAccount(t *testing.T) {
	order := testOrder()
	f := newLabelFixture(&stubProvider{})
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{}, nil)

	_, _, err := f.service.Purchase(context.Background(), testTenant, "", purchaseRequest(order.ID))
	assert.ErrorIs(t, err, ErrNoCarrierAccount)
}

func TestPurchaseValidationErrorBeforeCarrierCall(t *testing.T) {
	order := testOrder()
	stub, provider := upsStub(&carriers.ShipmentResult{TrackingNumber: "1Z999"}, nil)

	f := newLabelFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)

	req := purchaseRequest(order.ID)
	req.ShipTo.PostalCode = ""

	_, _, err := f.service.Purchase(context.Background(), testTenant, "", req)
	_, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, 0, stub.shipCalls)
}

func TestPurchasePersistenceFailureIsTyped(t *testing.T) {
	order := testOrder()
	_, provider := upsStub(&carriers.ShipmentResult{TrackingNumber: "1Z999"}, nil)

	f := newLabelFixture(provider)
	f.labels.On("GetByIdempotencyKey", testTenant, order.ID, "key-1").Return(nil, nil)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	f.catalog.On("ListForCarrier", testTenant, models.CarrierUPS).Return([]*models.ShippingServiceEntry{}, nil)
	f.labels.On("SavePurchase", mock.Anything).Return(gorm.ErrInvalidDB)

	_, _, err := f.service.Purchase(context.Background(), testTenant, "key-1", purchaseRequest(order.ID))
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestAdvanceLabelStatusForwardOnly(t *testing.T) {
	label := &models.ShipmentLabel{
		ID:             uuid.New(),
		TenantID:       testTenant,
		OrderID:        uuid.New(),
		TrackingNumber: "1Z999",
		Status:         models.LabelStatusShipped,
	}

	f := newLabelFixture(&stubProvider{})
	f.labels.On("GetByTrackingNumberGlobal", "1Z999").Return(label, nil)

	// backward transition is ignored, not an error
	err := f.service.AdvanceLabelStatus(context.Background(), "1Z999", models.LabelStatusPrinted)
	require.NoError(t, err)
	f.labels.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdvanceLabelStatusDeliveredMirrorsOrder(t *testing.T) {
	orderID := uuid.New()
	label := &models.ShipmentLabel{
		ID:             uuid.New(),
		TenantID:       testTenant,
		OrderID:        orderID,
		TrackingNumber: "1Z999",
		Status:         models.LabelStatusShipped,
	}

	f := newLabelFixture(&stubProvider{})
	f.labels.On("GetByTrackingNumberGlobal", "1Z999").Return(label, nil)
	f.labels.On("UpdateStatus", label.ID, models.LabelStatusDelivered, testTenant).Return(nil)
	f.orders.On("MarkDelivered", orderID, testTenant, mock.Anything).Return(nil)

	err := f.service.AdvanceLabelStatus(context.Background(), "1Z999", models.LabelStatusDelivered)
	require.NoError(t, err)

	f.labels.AssertExpectations(t)
	f.orders.AssertExpectations(t)
}

func TestAdvanceLabelStatusUnknownTracking(t *testing.T) {
	f := newLabelFixture(&stubProvider{})
	f.labels.On("GetByTrackingNumberGlobal", "missing").Return(nil, gorm.ErrRecordNotFound)

	err := f.service.AdvanceLabelStatus(context.Background(), "missing", models.LabelStatusDelivered)
	assert.ErrorIs(t, err, ErrLabelNotFound)
}
