package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rateshop-service/internal/carriers"
	"rateshop-service/internal/config"
	"rateshop-service/internal/events"
	"rateshop-service/internal/models"
	"rateshop-service/internal/progress"
	"rateshop-service/internal/repository"
)

// CarrierProvider builds carrier adapters for accounts. Satisfied by
// carriers.Factory.
type CarrierProvider interface {
	ForAccount(account *models.CarrierAccount) (carriers.Carrier, error)
}

// RateService aggregates shipping rates across a tenant's carrier accounts
type RateService interface {
	// GetRates quotes an order across all enabled carrier accounts. Partial
	// carrier failures degrade the result; an empty rate list is success.
	GetRates(ctx context.Context, tenantID string, req models.GetRatesRequest) (*models.GetRatesResponse, error)

	// TestCarrier verifies one carrier account's credentials
	TestCarrier(ctx context.Context, tenantID string, account *models.CarrierAccount) error

	// GetCatalog returns the per-carrier service catalog, refreshing stale
	// carriers first. forceRefresh bypasses the staleness check.
	GetCatalog(ctx context.Context, tenantID string, forceRefresh bool) ([]*models.ShippingServiceEntry, error)
}

type rateService struct {
	orders    repository.OrderRepository
	accounts  repository.CarrierAccountRepository
	catalog   repository.ServiceCatalogRepository
	provider  CarrierProvider
	redis     *redis.Client
	publisher *events.Publisher
	runs      *progress.Store
	cfg       *config.Config
	logger    *logrus.Entry
}

// NewRateService creates a new rate aggregation service. redisClient and
// publisher may be nil; caching and events degrade to no-ops.
func NewRateService(
	orders repository.OrderRepository,
	accounts repository.CarrierAccountRepository,
	catalog repository.ServiceCatalogRepository,
	provider CarrierProvider,
	redisClient *redis.Client,
	publisher *events.Publisher,
	runs *progress.Store,
	cfg *config.Config,
) RateService {
	return &rateService{
		orders:    orders,
		accounts:  accounts,
		catalog:   catalog,
		provider:  provider,
		redis:     redisClient,
		publisher: publisher,
		runs:      runs,
		cfg:       cfg,
		logger:    logrus.WithField("component", "rate-service"),
	}
}

// accountQuotes pairs one account's quotes with its position in the fan-out
// so merged results keep a deterministic pre-sort order
type accountQuotes struct {
	index  int
	quotes []models.RateQuote
}

// GetRates aggregates quotes for an order across all enabled accounts
func (s *rateService) GetRates(ctx context.Context, tenantID string, req models.GetRatesRequest) (*models.GetRatesResponse, error) {
	run := progress.NewRun("rate_aggregation", tenantID, progress.CarrierOperationSteps)
	if s.runs != nil {
		s.runs.Track(run)
	}

	_ = run.Begin(progress.StepConnect)
	order, err := s.orders.GetByID(req.OrderID, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = run.Fail(progress.StepConnect, ErrOrderNotFound)
			return nil, ErrOrderNotFound
		}
		_ = run.Fail(progress.StepConnect, err)
		return nil, fmt.Errorf("%w: loading order: %v", ErrPersistence, err)
	}

	shipFrom, originWarnings := s.resolveShipFrom(tenantID, req.ShipFrom)

	validation := ValidateShipment(shipFrom, order.ShipTo, order.Package)
	if !validation.Valid() {
		verr := &ValidationError{Details: validation.Errors, Warnings: validation.Warnings}
		_ = run.Fail(progress.StepConnect, verr)
		return nil, verr
	}
	warnings := append(originWarnings, validation.Warnings...)

	accounts, err := s.accounts.ListEnabled(tenantID)
	if err != nil {
		_ = run.Fail(progress.StepConnect, err)
		return nil, fmt.Errorf("%w: listing carrier accounts: %v", ErrPersistence, err)
	}
	_ = run.Complete(progress.StepConnect)

	rateReq := carriers.RateRequest{
		ShipFrom:      shipFrom,
		ShipTo:        order.ShipTo,
		Package:       order.Package,
		DeclaredValue: order.DeclaredValue,
		Currency:      order.Currency,
	}
	if req.AdditionalServices != nil {
		rateReq.SignatureRequired = req.AdditionalServices.SignatureRequired
		rateReq.InsuranceValue = req.AdditionalServices.InsuranceValue
	}

	response := &models.GetRatesResponse{
		Success: true,
		Rates:   []models.RateQuote{},
		OrderDetails: models.ShipmentContext{
			ShipFrom: shipFrom,
			ShipTo:   order.ShipTo,
			Package:  order.Package,
		},
		Warnings:    warnings,
		OperationID: run.ID,
	}

	// No configured carriers is a successful empty result, not an error
	if len(accounts) == 0 {
		for _, step := range progress.CarrierOperationSteps[1:] {
			_ = run.Begin(step)
			_ = run.Complete(step)
		}
		return response, nil
	}

	settings, _ := s.accounts.GetSettings(tenantID)

	_ = run.Begin(progress.StepAuthenticate)
	type boundAccount struct {
		account *models.CarrierAccount
		adapter carriers.Carrier
	}
	bound := make([]boundAccount, 0, len(accounts))
	for _, acct := range accounts {
		adapter, err := s.provider.ForAccount(acct)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"carrier":   acct.Carrier,
			}).Warn("Skipping carrier account with invalid configuration")
			continue
		}
		bound = append(bound, boundAccount{account: acct, adapter: adapter})
	}
	_ = run.Complete(progress.StepAuthenticate)

	cacheKey := s.cacheKey(tenantID, order, rateReq, req.ServicePreferences)
	if cached := s.cachedRates(ctx, settings, cacheKey); cached != nil {
		for _, step := range progress.CarrierOperationSteps[2:] {
			_ = run.Begin(step)
			_ = run.Complete(step)
		}
		response.Rates = cached
		return response, nil
	}

	_ = run.Begin(progress.StepFetch)
	results := make([]accountQuotes, len(bound))
	var wg sync.WaitGroup
	for i, b := range bound {
		wg.Add(1)
		go func(idx int, acct *models.CarrierAccount, adapter carriers.Carrier) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, s.cfg.CarrierTimeout)
			defer cancel()

			quotes, err := adapter.GetRates(callCtx, rateReq)
			if err != nil {
				// A failed carrier degrades the result instead of failing
				// the whole aggregation
				s.logger.WithError(err).WithFields(logrus.Fields{
					"tenant_id": acct.TenantID,
					"carrier":   acct.Carrier,
				}).Warn("Carrier rate request failed")
				return
			}
			results[idx] = accountQuotes{index: idx, quotes: s.applyAccountRules(acct, quotes)}
		}(i, b.account, b.adapter)
	}
	wg.Wait()
	_ = run.Complete(progress.StepFetch)

	_ = run.Begin(progress.StepProcess)
	merged := make([]models.RateQuote, 0)
	for _, r := range results {
		merged = append(merged, r.quotes...)
	}
	merged = filterByPreference(merged, req.ServicePreferences)

	// Stable sort keeps the deterministic carrier order for equal costs
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Cost < merged[j].Cost
	})
	response.Rates = merged
	_ = run.Complete(progress.StepProcess)

	_ = run.Begin(progress.StepPersist)
	s.storeRates(ctx, settings, cacheKey, merged)
	_ = run.Complete(progress.StepPersist)

	_ = run.Begin(progress.StepFinalize)
	s.publisher.Publish(events.EventRatesRequested, tenantID, map[string]interface{}{
		"order_id":   order.ID.String(),
		"rate_count": len(merged),
	})
	_ = run.Complete(progress.StepFinalize)

	return response, nil
}

// resolveShipFrom picks the origin address: request override, then tenant
// warehouse settings, then the configured service default
func (s *rateService) resolveShipFrom(tenantID string, override *models.Address) (models.Address, []models.FieldMessage) {
	if override != nil {
		return *override, nil
	}

	settings, err := s.accounts.GetSettings(tenantID)
	if err == nil {
		if addr, ok := settings.WarehouseAddress(); ok {
			return addr, nil
		}
	}

	warning := []models.FieldMessage{{
		Field:   "ship_from",
		Message: "no warehouse configured for tenant; using service default origin",
	}}
	return models.Address{
		Street:     s.cfg.DefaultShipFromStreet,
		City:       s.cfg.DefaultShipFromCity,
		State:      s.cfg.DefaultShipFromState,
		PostalCode: s.cfg.DefaultShipFromPostalCode,
		Country:    s.cfg.DefaultShipFromCountry,
	}, warning
}

// applyAccountRules filters quotes to the account's enabled services and
// applies its markup
func (s *rateService) applyAccountRules(acct *models.CarrierAccount, quotes []models.RateQuote) []models.RateQuote {
	allowed := map[string]bool{}
	for _, code := range acct.EnabledServices {
		allowed[code] = true
	}

	out := make([]models.RateQuote, 0, len(quotes))
	for _, q := range quotes {
		if len(allowed) > 0 && !allowed[q.ServiceCode] {
			continue
		}
		out = append(out, applyMarkup(q, acct.MarkupPercent, acct.MarkupFlat))
	}
	return out
}

// applyMarkup computes cost = base * (1 + pct/100) + flat with decimal
// arithmetic, rounded to cents
func applyMarkup(q models.RateQuote, pct, flat float64) models.RateQuote {
	if pct == 0 && flat == 0 {
		return q
	}
	base := decimal.NewFromFloat(q.BaseCost)
	marked := base.
		Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)))).
		Add(decimal.NewFromFloat(flat)).
		Round(2)

	q.Cost, _ = marked.Float64()
	q.MarkupAmount, _ = marked.Sub(base).Round(2).Float64()
	return q
}

// filterByPreference keeps only quotes whose service type matches one of
// the requested preferences. Empty preferences keep everything.
func filterByPreference(quotes []models.RateQuote, preferences []string) []models.RateQuote {
	if len(preferences) == 0 {
		return quotes
	}
	wanted := map[models.ServiceType]bool{}
	for _, p := range preferences {
		wanted[models.ServiceType(p)] = true
	}
	out := make([]models.RateQuote, 0, len(quotes))
	for _, q := range quotes {
		if wanted[q.ServiceType] {
			out = append(out, q)
		}
	}
	return out
}

// cacheKey fingerprints the resolved quoting inputs
func (s *rateService) cacheKey(tenantID string, order *models.Order, req carriers.RateRequest, preferences []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.2f|%.2f|%.2f|%.2f|%v",
		tenantID, order.ID,
		req.ShipFrom.PostalCode, req.ShipTo.PostalCode,
		req.Package.Weight, req.Package.Length, req.Package.Width, req.Package.Height,
		preferences)
	return "rates:" + hex.EncodeToString(h.Sum(nil))
}

func (s *rateService) cachedRates(ctx context.Context, settings *models.ShippingSettings, key string) []models.RateQuote {
	if s.redis == nil || settings == nil || !settings.CacheRates {
		return nil
	}
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var quotes []models.RateQuote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		return nil
	}
	return quotes
}

func (s *rateService) storeRates(ctx context.Context, settings *models.ShippingSettings, key string, quotes []models.RateQuote) {
	if s.redis == nil || settings == nil || !settings.CacheRates || len(quotes) == 0 {
		return
	}
	ttl := time.Duration(settings.RateCacheDuration) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	raw, err := json.Marshal(quotes)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to cache rates")
	}
}

// TestCarrier verifies one carrier account's credentials
func (s *rateService) TestCarrier(ctx context.Context, tenantID string, account *models.CarrierAccount) error {
	adapter, err := s.provider.ForAccount(account)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CarrierTimeout)
	defer cancel()
	return adapter.TestConnection(callCtx)
}

// GetCatalog returns the tenant's service catalog, refreshing any carrier
// whose rows are older than the staleness window
func (s *rateService) GetCatalog(ctx context.Context, tenantID string, forceRefresh bool) ([]*models.ShippingServiceEntry, error) {
	accounts, err := s.accounts.ListEnabled(tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing carrier accounts: %v", ErrPersistence, err)
	}

	refreshed := false
	for _, acct := range accounts {
		stale, err := s.catalogStale(tenantID, acct.Carrier)
		if err != nil {
			return nil, err
		}
		if !forceRefresh && !stale {
			continue
		}

		adapter, err := s.provider.ForAccount(acct)
		if err != nil {
			s.logger.WithError(err).WithField("carrier", acct.Carrier).Warn("Skipping catalog refresh for misconfigured account")
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CarrierTimeout)
		services, err := adapter.ListServices(callCtx)
		cancel()
		if err != nil {
			// Stale rows beat no rows; keep serving what we have
			s.logger.WithError(err).WithField("carrier", acct.Carrier).Warn("Catalog refresh failed, serving stale entries")
			continue
		}

		entries := make([]*models.ShippingServiceEntry, 0, len(services))
		for _, svc := range services {
			entries = append(entries, &models.ShippingServiceEntry{
				ServiceCode: svc.Code,
				ServiceName: svc.Name,
				ServiceType: svc.Type,
			})
		}
		if err := s.catalog.ReplaceForCarrier(tenantID, acct.Carrier, entries); err != nil {
			return nil, fmt.Errorf("%w: replacing catalog for %s: %v", ErrPersistence, acct.Carrier, err)
		}
		refreshed = true
	}

	if refreshed {
		s.publisher.Publish(events.EventCatalogRefreshed, tenantID, map[string]interface{}{
			"forced": forceRefresh,
		})
	}

	return s.catalog.ListAll(tenantID)
}

func (s *rateService) catalogStale(tenantID string, carrier models.CarrierType) (bool, error) {
	oldest, err := s.catalog.OldestRefresh(tenantID, carrier)
	if err != nil {
		return false, fmt.Errorf("%w: checking catalog freshness: %v", ErrPersistence, err)
	}
	if oldest.IsZero() {
		return true, nil
	}
	return time.Since(oldest) > s.cfg.CatalogStaleAfter, nil
}
