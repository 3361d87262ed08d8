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
	"rateshop-service/internal/config"
	"rateshop-service/internal/models"
	"rateshop-service/internal/progress"
)

const testTenant = "tenant-1"

func testConfig() *config.Config {
	return &config.Config{
		CarrierTimeout:            5 * time.Second,
		CatalogStaleAfter:         time.Hour,
		ProgressRetention:         time.Hour,
		DefaultShipFromStreet:     "1 Fulfillment Way",
		DefaultShipFromCity:       "Columbus",
		DefaultShipFromState:      "OH",
		DefaultShipFromPostalCode: "43004",
		DefaultShipFromCountry:    "US",
	}
}

func testOrder() *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		TenantID:    testTenant,
		OrderNumber: "ORD-1001",
		Status:      models.OrderStatusPending,
		ShipTo: models.Address{
			Name: "Customer", Phone: "555-0101", Street: "9 Elm St",
			City: "Denver", State: "CO", PostalCode: "80202", Country: "US",
		},
		Package:  models.Package{Weight: 4, Length: 12, Width: 8, Height: 6},
		Currency: "USD",
	}
}

func account(carrier models.CarrierType) *models.CarrierAccount {
	return &models.CarrierAccount{
		ID:       uuid.New(),
		TenantID: testTenant,
		Carrier:  carrier,
		Enabled:  true,
	}
}

func quote(carrier models.CarrierType, code string, serviceType models.ServiceType, cost float64) models.RateQuote {
	return models.RateQuote{
		Carrier:     carrier,
		ServiceCode: code,
		ServiceName: code,
		ServiceType: serviceType,
		Cost:        cost,
		BaseCost:    cost,
		Currency:    "USD",
	}
}

type rateFixture struct {
	orders   *MockOrderRepository
	accounts *MockCarrierAccountRepository
	catalog  *MockServiceCatalogRepository
	provider *stubProvider
	runs     *progress.Store
	service  RateService
}

func newRateFixture(provider *stubProvider) *rateFixture {
	f := &rateFixture{
		orders:   new(MockOrderRepository),
		accounts: new(MockCarrierAccountRepository),
		catalog:  new(MockServiceCatalogRepository),
		provider: provider,
		runs:     progress.NewStore(time.Hour),
	}
	f.service = NewRateService(f.orders, f.accounts, f.catalog, f.provider, nil, nil, f.runs, testConfig())
	return f
}

func TestGetRatesMergesAndSortsAscending(t *testing.T) {
	order := testOrder()
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, quotes: []models.RateQuote{
			quote(models.CarrierUPS, "03", models.ServiceTypeStandard, 11.50),
			quote(models.CarrierUPS, "01", models.ServiceTypeOvernight, 45.00),
		}},
		models.CarrierFedEx: &stubCarrier{name: models.CarrierFedEx, quotes: []models.RateQuote{
			quote(models.CarrierFedEx, "FEDEX_GROUND", models.ServiceTypeStandard, 10.25),
		}},
	}}

	f := newRateFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{
		account(models.CarrierUPS), account(models.CarrierFedEx),
	}, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err)

	require.Len(t, resp.Rates, 3)
	assert.Equal(t, 10.25, resp.Rates[0].Cost)
	assert.Equal(t, 11.50, resp.Rates[1].Cost)
	assert.Equal(t, 45.00, resp.Rates[2].Cost)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.OperationID)
}

func TestGetRatesStableOrderForEqualCosts(t *testing.T) {
	order := testOrder()
	// same cost from two carriers; the first account's quote stays first
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, quotes: []models.RateQuote{
			quote(models.CarrierUPS, "03", models.ServiceTypeStandard, 10.00),
		}},
		models.CarrierFedEx: &stubCarrier{name: models.CarrierFedEx, quotes: []models.RateQuote{
			quote(models.CarrierFedEx, "FEDEX_GROUND", models.ServiceTypeStandard, 10.00),
		}},
	}}

	f := newRateFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{
		account(models.CarrierUPS), account(models.CarrierFedEx),
	}, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err)

	require.Len(t, resp.Rates, 2)
	assert.Equal(t, models.CarrierUPS, resp.Rates[0].Carrier)
	assert.Equal(t, models.CarrierFedEx, resp.Rates[1].Carrier)
}

func TestGetRatesDegradesWhenSomeCarriersFail(t *testing.T) {
	order := testOrder()
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, ratesErr: carriers.ErrUpstream},
		models.CarrierFedEx: &stubCarrier{name: models.CarrierFedEx, quotes: []models.RateQuote{
			quote(models.CarrierFedEx, "FEDEX_GROUND", models.ServiceTypeStandard, 10.25),
		}},
	}}

	f := newRateFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{
		account(models.CarrierUPS), account(models.CarrierFedEx),
	}, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err, "a failing carrier must not fail the aggregation")

	require.Len(t, resp.Rates, 1)
	assert.Equal(t, models.CarrierFedEx, resp.Rates[0].Carrier)
}

func TestGetRatesNoAccountsIsEmptySuccess(t *testing.T) {
	order := testOrder()
	f := newRateFixture(&stubProvider{})
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{}, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Empty(t, resp.Rates)

	run, ok := f.runs.Get(resp.OperationID, testTenant)
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, run.Snapshot().Status)
}

func TestGetRatesFiltersByServicePreference(t *testing.T) {
	order := testOrder()
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, quotes: []models.RateQuote{
			quote(models.CarrierUPS, "03", models.ServiceTypeStandard, 11.50),
			quote(models.CarrierUPS, "01", models.ServiceTypeOvernight, 45.00),
			quote(models.CarrierUPS, "13", models.ServiceTypeOvernight, 41.00),
		}},
	}}

	f := newRateFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{
		OrderID:            order.ID,
		ServicePreferences: []string{"overnight"},
	})
	require.NoError(t, err)

	require.Len(t, resp.Rates, 2)
	for _, q := range resp.Rates {
		assert.Equal(t, models.ServiceTypeOvernight, q.ServiceType)
	}
	assert.Equal(t, 41.00, resp.Rates[0].Cost)
}

func TestGetRatesAppliesAccountMarkup(t *testing.T) {
	order := testOrder()
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, quotes: []models.RateQuote{
			quote(models.CarrierUPS, "03", models.ServiceTypeStandard, 10.00),
		}},
	}}

	acct := account(models.CarrierUPS)
	acct.MarkupPercent = 10
	acct.MarkupFlat = 1.50

	f := newRateFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{acct}, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err)

	require.Len(t, resp.Rates, 1)
	// 10.00 * 1.10 + 1.50
	assert.Equal(t, 12.50, resp.Rates[0].Cost)
	assert.Equal(t, 10.00, resp.Rates[0].BaseCost)
	assert.Equal(t, 2.50, resp.Rates[0].MarkupAmount)
}

func TestGetRatesRestrictsToEnabledServices(t *testing.T) {
	order := testOrder()
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, quotes: []models.RateQuote{
			quote(models.CarrierUPS, "03", models.ServiceTypeStandard, 11.50),
			quote(models.CarrierUPS, "01", models.ServiceTypeOvernight, 45.00),
		}},
	}}

	acct := account(models.CarrierUPS)
	acct.EnabledServices = models.StringArray{"03"}

	f := newRateFixture(provider)
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{acct}, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err)

	require.Len(t, resp.Rates, 1)
	assert.Equal(t, "03", resp.Rates[0].ServiceCode)
}

func TestGetRatesOrderNotFound(t *testing.T) {
	orderID := uuid.New()
	f := newRateFixture(&stubProvider{})
	f.orders.On("GetByID", orderID, testTenant).Return(nil, gorm.ErrRecordNotFound)

	_, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: orderID})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetRatesWarnsOnDefaultOrigin(t *testing.T) {
	order := testOrder()
	f := newRateFixture(&stubProvider{})
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{}, nil)
	// no warehouse configured
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Warnings)
	assert.Equal(t, "ship_from", resp.Warnings[0].Field)
	assert.Equal(t, "43004", resp.OrderDetails.ShipFrom.PostalCode)
}

func TestGetRatesUsesWarehouseSettings(t *testing.T) {
	order := testOrder()
	settings := &models.ShippingSettings{
		TenantID:            testTenant,
		WarehouseName:       "Main DC",
		WarehousePhone:      "555-0100",
		WarehouseStreet:     "5 Depot Rd",
		WarehouseCity:       "Austin",
		WarehouseState:      "TX",
		WarehousePostalCode: "78701",
		WarehouseCountry:    "US",
	}

	f := newRateFixture(&stubProvider{})
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{}, nil)
	f.accounts.On("GetSettings", testTenant).Return(settings, nil)

	resp, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	require.NoError(t, err)

	assert.Empty(t, resp.Warnings)
	assert.Equal(t, "78701", resp.OrderDetails.ShipFrom.PostalCode)
}

func TestGetRatesValidationFailureCarriesDetails(t *testing.T) {
	order := testOrder()
	order.ShipTo.PostalCode = ""

	f := newRateFixture(&stubProvider{})
	f.orders.On("GetByID", order.ID, testTenant).Return(order, nil)
	f.accounts.On("GetSettings", testTenant).Return(nil, nil)

	_, err := f.service.GetRates(context.Background(), testTenant, models.GetRatesRequest{OrderID: order.ID})
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "ship_to.postalCode", verr.Details[0].Field)
}

func TestGetCatalogRefreshesStaleCarriers(t *testing.T) {
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, services: []carriers.ServiceInfo{
			{Code: "03", Name: "UPS Ground", Type: models.ServiceTypeStandard},
		}},
	}}

	f := newRateFixture(provider)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	// rows are two hours old against a one hour staleness window
	f.catalog.On("OldestRefresh", testTenant, models.CarrierUPS).Return(time.Now().Add(-2*time.Hour), nil)
	f.catalog.On("ReplaceForCarrier", testTenant, models.CarrierUPS, mock.Anything).Return(nil)
	f.catalog.On("ListAll", testTenant).Return([]*models.ShippingServiceEntry{
		{Carrier: models.CarrierUPS, ServiceCode: "03"},
	}, nil)

	entries, err := f.service.GetCatalog(context.Background(), testTenant, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f.catalog.AssertCalled(t, "ReplaceForCarrier", testTenant, models.CarrierUPS, mock.Anything)
}

func TestGetCatalogSkipsFreshCarriers(t *testing.T) {
	f := newRateFixture(&stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS},
	}})
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	f.catalog.On("OldestRefresh", testTenant, models.CarrierUPS).Return(time.Now().Add(-5*time.Minute), nil)
	f.catalog.On("ListAll", testTenant).Return([]*models.ShippingServiceEntry{}, nil)

	_, err := f.service.GetCatalog(context.Background(), testTenant, false)
	require.NoError(t, err)

	f.catalog.AssertNotCalled(t, "ReplaceForCarrier", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetCatalogServesStaleOnRefreshFailure(t *testing.T) {
	provider := &stubProvider{adapters: map[models.CarrierType]carriers.Carrier{
		models.CarrierUPS: &stubCarrier{name: models.CarrierUPS, listErr: carriers.ErrUpstream},
	}}

	f := newRateFixture(provider)
	f.accounts.On("ListEnabled", testTenant).Return([]*models.CarrierAccount{account(models.CarrierUPS)}, nil)
	f.catalog.On("OldestRefresh", testTenant, models.CarrierUPS).Return(time.Now().Add(-2*time.Hour), nil)
	f.catalog.On("ListAll", testTenant).Return([]*models.ShippingServiceEntry{
		{Carrier: models.CarrierUPS, ServiceCode: "03"},
	}, nil)

	entries, err := f.service.GetCatalog(context.Background(), testTenant, false)
	require.NoError(t, err, "a failed refresh keeps serving stale entries")
	require.Len(t, entries, 1)
}
