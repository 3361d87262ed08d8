package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rateshop-service/internal/carriers"
	"rateshop-service/internal/models"
	"rateshop-service/internal/progress"
	"rateshop-service/internal/services"
)

// ShippingHandler handles rate, label, catalog and operation endpoints
type ShippingHandler struct {
	rates  services.RateService
	labels services.LabelService
	runs   *progress.Store
	logger *logrus.Entry
}

// NewShippingHandler creates a new shipping handler
func NewShippingHandler(rates services.RateService, labels services.LabelService, runs *progress.Store) *ShippingHandler {
	return &ShippingHandler{
		rates:  rates,
		labels: labels,
		runs:   runs,
		logger: logrus.WithField("component", "shipping-handler"),
	}
}

// getTenantID extracts tenant ID from the request context
func getTenantID(c *gin.Context) string {
	if tenantID := c.GetString("tenant_id"); tenantID != "" {
		return tenantID
	}
	return c.GetHeader("X-Tenant-ID")
}

// respondError maps service and carrier errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	if verr, ok := services.AsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:    "validation_failed",
			Message:  "request failed validation",
			Details:  verr.Details,
			Warnings: verr.Warnings,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrLabelNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrOrderAlreadyShipped):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "already_shipped",
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrNoCarrierAccount),
		errors.Is(err, services.ErrUnknownService),
		errors.Is(err, services.ErrEstimatedPurchase):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, carriers.ErrAuthFailed):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "carrier_auth_failed",
			Message: err.Error(),
		})
	case errors.Is(err, carriers.ErrUpstream), errors.Is(err, carriers.ErrNoTracking):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "carrier_upstream_error",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

// GetRates handles POST /api/shipping/rates
func (h *ShippingHandler) GetRates(c *gin.Context) {
	tenantID := getTenantID(c)

	var req models.GetRatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.rates.GetRates(c.Request.Context(), tenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// PurchaseLabel handles POST /api/shipping/labels
func (h *ShippingHandler) PurchaseLabel(c *gin.Context) {
	tenantID := getTenantID(c)
	idempotencyKey := c.GetHeader("Idempotency-Key")

	var req models.PurchaseLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	resp, warnings, err := h.labels.Purchase(c.Request.Context(), tenantID, idempotencyKey, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"data":     resp,
		"warnings": warnings,
	})
}

// GetLabel handles GET /api/shipping/labels/:id
func (h *ShippingHandler) GetLabel(c *gin.Context) {
	tenantID := getTenantID(c)

	label, err := h.labels.GetLabel(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: label})
}

// ListLabels handles GET /api/shipping/labels
func (h *ShippingHandler) ListLabels(c *gin.Context) {
	tenantID := getTenantID(c)

	if orderID := c.Query("order_id"); orderID != "" {
		labels, err := h.labels.ListLabelsForOrder(c.Request.Context(), tenantID, orderID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    labels,
			"total":   len(labels),
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	labels, total, err := h.labels.ListLabels(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    labels,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetCatalog handles GET /api/shipping/services
func (h *ShippingHandler) GetCatalog(c *gin.Context) {
	tenantID := getTenantID(c)
	forceRefresh := c.Query("refresh") == "true"

	entries, err := h.rates.GetCatalog(c.Request.Context(), tenantID, forceRefresh)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: entries})
}

// GetOperation handles GET /api/operations/:id
func (h *ShippingHandler) GetOperation(c *gin.Context) {
	tenantID := getTenantID(c)

	run, ok := h.runs.Get(c.Param("id"), tenantID)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "operation not found or expired",
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: run.Snapshot()})
}
