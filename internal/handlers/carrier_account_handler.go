package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rateshop-service/internal/carriers"
	"rateshop-service/internal/models"
	"rateshop-service/internal/repository"
	"rateshop-service/internal/services"
)

// CarrierAccountHandler manages carrier account and settings endpoints
type CarrierAccountHandler struct {
	accounts repository.CarrierAccountRepository
	rates    services.RateService
	factory  *carriers.Factory
	logger   *logrus.Entry
}

// NewCarrierAccountHandler creates a new carrier account handler
func NewCarrierAccountHandler(accounts repository.CarrierAccountRepository, rates services.RateService, factory *carriers.Factory) *CarrierAccountHandler {
	return &CarrierAccountHandler{
		accounts: accounts,
		rates:    rates,
		factory:  factory,
		logger:   logrus.WithField("component", "carrier-account-handler"),
	}
}

type carrierAccountPayload struct {
	Carrier         models.CarrierType     `json:"carrier" binding:"required,carrier"`
	Nickname        string                 `json:"nickname"`
	Credentials     map[string]interface{} `json:"credentials"`
	BaseURL         string                 `json:"baseUrl"`
	Enabled         *bool                  `json:"enabled"`
	IsProduction    bool                   `json:"isProduction"`
	EnabledServices []string               `json:"enabledServices"`
	MarkupPercent   float64                `json:"markupPercent"`
	MarkupFlat      float64                `json:"markupFlat"`
}

// credentialTemplates lists the credential keys each carrier needs before
// an account for it can go live. Estimated-only carriers need none.
var credentialTemplates = map[models.CarrierType][]string{
	models.CarrierUPS:        {"client_id", "client_secret", "account_number"},
	models.CarrierCanadaPost: {"api_username", "api_password", "customer_number"},
	models.CarrierFedEx:      {},
	models.CarrierUSPS:       {},
}

// Templates handles GET /api/carriers/templates
func (h *CarrierAccountHandler) Templates(c *gin.Context) {
	out := make([]gin.H, 0, len(credentialTemplates))
	for _, carrier := range carriers.Supported() {
		keys, ok := credentialTemplates[carrier]
		if !ok {
			keys = []string{}
		}
		out = append(out, gin.H{
			"carrier":        carrier,
			"credentialKeys": keys,
		})
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: out})
}

// hasEnabledAccount reports whether another enabled account already exists
// for the carrier. At most one enabled account per (tenant, carrier) may
// exist, so rate fan-out and label purchase never have to pick between two.
func (h *CarrierAccountHandler) hasEnabledAccount(tenantID string, carrier models.CarrierType, excludeID uuid.UUID) (bool, error) {
	accounts, err := h.accounts.List(tenantID)
	if err != nil {
		return false, err
	}
	for _, a := range accounts {
		if a.ID != excludeID && a.Enabled && a.Carrier == carrier {
			return true, nil
		}
	}
	return false, nil
}

func respondDuplicateAccount(c *gin.Context, carrier models.CarrierType) {
	c.JSON(http.StatusConflict, models.ErrorResponse{
		Error:   "duplicate_carrier_account",
		Message: fmt.Sprintf("an enabled %s account already exists; disable it first", carrier),
	})
}

// Create handles POST /api/carriers
func (h *CarrierAccountHandler) Create(c *gin.Context) {
	tenantID := getTenantID(c)

	var payload carrierAccountPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	enabled := payload.Enabled == nil || *payload.Enabled
	if enabled {
		conflict, err := h.hasEnabledAccount(tenantID, payload.Carrier, uuid.Nil)
		if err != nil {
			respondError(c, err)
			return
		}
		if conflict {
			respondDuplicateAccount(c, payload.Carrier)
			return
		}
	}

	account := &models.CarrierAccount{
		TenantID:        tenantID,
		Carrier:         payload.Carrier,
		Nickname:        payload.Nickname,
		Credentials:     payload.Credentials,
		BaseURL:         payload.BaseURL,
		Enabled:         enabled,
		IsProduction:    payload.IsProduction,
		EnabledServices: payload.EnabledServices,
		MarkupPercent:   payload.MarkupPercent,
		MarkupFlat:      payload.MarkupFlat,
	}

	if err := h.accounts.Create(account); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.SuccessResponse{Success: true, Data: account.ToResponse()})
}

// List handles GET /api/carriers
func (h *CarrierAccountHandler) List(c *gin.Context) {
	tenantID := getTenantID(c)

	accounts, err := h.accounts.List(tenantID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]models.CarrierAccountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.ToResponse())
	}
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: out})
}

func (h *CarrierAccountHandler) loadAccount(c *gin.Context) (*models.CarrierAccount, bool) {
	tenantID := getTenantID(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "account id must be a valid UUID",
		})
		return nil, false
	}

	account, err := h.accounts.GetByID(id, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "carrier account not found",
			})
			return nil, false
		}
		respondError(c, err)
		return nil, false
	}
	return account, true
}

// Update handles PUT /api/carriers/:id
func (h *CarrierAccountHandler) Update(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}

	var payload carrierAccountPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	account.Nickname = payload.Nickname
	account.BaseURL = payload.BaseURL
	account.IsProduction = payload.IsProduction
	account.EnabledServices = payload.EnabledServices
	account.MarkupPercent = payload.MarkupPercent
	account.MarkupFlat = payload.MarkupFlat
	if payload.Enabled != nil {
		account.Enabled = *payload.Enabled
	}
	// Credentials only change when the payload carries them, so updates
	// that omit secrets do not wipe stored ones
	if len(payload.Credentials) > 0 {
		account.Credentials = payload.Credentials
	}

	if account.Enabled {
		conflict, err := h.hasEnabledAccount(account.TenantID, account.Carrier, account.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		if conflict {
			respondDuplicateAccount(c, account.Carrier)
			return
		}
	}

	if err := h.accounts.Update(account); err != nil {
		respondError(c, err)
		return
	}
	h.factory.Invalidate(account)

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: account.ToResponse()})
}

// Delete handles DELETE /api/carriers/:id
func (h *CarrierAccountHandler) Delete(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}

	if err := h.accounts.Delete(account.ID, account.TenantID); err != nil {
		respondError(c, err)
		return
	}
	h.factory.Invalidate(account)

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: gin.H{"deleted": true}})
}

// TestConnection handles POST /api/carriers/:id/test
func (h *CarrierAccountHandler) TestConnection(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}

	if err := h.rates.TestCarrier(c.Request.Context(), account.TenantID, account); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: gin.H{"connected": true}})
}

// GetSettings handles GET /api/shipping/settings
func (h *CarrierAccountHandler) GetSettings(c *gin.Context) {
	tenantID := getTenantID(c)

	settings, err := h.accounts.GetSettings(tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	if settings == nil {
		settings = &models.ShippingSettings{TenantID: tenantID}
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: settings})
}

// SaveSettings handles PUT /api/shipping/settings
func (h *CarrierAccountHandler) SaveSettings(c *gin.Context) {
	tenantID := getTenantID(c)

	var settings models.ShippingSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}
	settings.TenantID = tenantID

	if err := h.accounts.SaveSettings(&settings); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: settings})
}
