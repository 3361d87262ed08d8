package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rateshop-service/internal/config"
	"rateshop-service/internal/models"
	"rateshop-service/internal/repository"
	"rateshop-service/internal/services"
)

// WebhookHandler receives callbacks from carriers, billing and the
// marketplace platform
type WebhookHandler struct {
	labels       services.LabelService
	entitlements repository.EntitlementRepository
	cfg          *config.Config
	logger       *logrus.Entry
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(labels services.LabelService, entitlements repository.EntitlementRepository, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		labels:       labels,
		entitlements: entitlements,
		cfg:          cfg,
		logger:       logrus.WithField("component", "webhook-handler"),
	}
}

// verifySignature checks the hex HMAC-SHA256 of the raw body against the
// signature header. An unconfigured secret skips verification.
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// readAndVerify reads the raw body and validates its signature, replying
// 401 itself on mismatch
func (h *WebhookHandler) readAndVerify(c *gin.Context, secret, header string) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "unable to read request body",
		})
		return nil, false
	}

	if !verifySignature(secret, body, c.GetHeader(header)) {
		h.logger.WithField("path", c.Request.URL.Path).Warn("Rejected webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "invalid_signature",
			Message: "webhook signature verification failed",
		})
		return nil, false
	}
	return body, true
}

// trackingWebhookPayload is the carrier tracking callback shape
type trackingWebhookPayload struct {
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
}

// trackingStatusMap translates carrier webhook statuses into label statuses
var trackingStatusMap = map[string]models.LabelStatus{
	"label_printed":    models.LabelStatusPrinted,
	"picked_up":        models.LabelStatusShipped,
	"in_transit":       models.LabelStatusShipped,
	"out_for_delivery": models.LabelStatusShipped,
	"delivered":        models.LabelStatusDelivered,
}

// TrackingWebhook handles POST /webhooks/tracking
func (h *WebhookHandler) TrackingWebhook(c *gin.Context) {
	body, ok := h.readAndVerify(c, h.cfg.TrackingWebhookSecret, "X-Webhook-Signature")
	if !ok {
		return
	}

	var payload trackingWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.TrackingNumber == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "tracking_number is required",
		})
		return
	}

	status, known := trackingStatusMap[payload.Status]
	if !known {
		// Unknown statuses are acknowledged so the sender stops retrying
		h.logger.WithField("status", payload.Status).Debug("Ignoring unmapped tracking status")
		c.JSON(http.StatusOK, gin.H{"success": true, "processed": false})
		return
	}

	if err := h.labels.AdvanceLabelStatus(c.Request.Context(), payload.TrackingNumber, status); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "processed": true})
}

// billingWebhookPayload is the billing service entitlement callback shape
type billingWebhookPayload struct {
	TenantID  string     `json:"tenant_id"`
	Plan      string     `json:"plan"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// BillingWebhook handles POST /webhooks/billing
func (h *WebhookHandler) BillingWebhook(c *gin.Context) {
	body, ok := h.readAndVerify(c, h.cfg.BillingWebhookSecret, "X-Webhook-Signature")
	if !ok {
		return
	}

	var payload billingWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.TenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "tenant_id is required",
		})
		return
	}

	ent := &models.TenantEntitlement{
		TenantID:  payload.TenantID,
		Plan:      payload.Plan,
		Active:    payload.Active,
		ExpiresAt: payload.ExpiresAt,
	}
	if err := h.entitlements.Upsert(ent); err != nil {
		respondError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": payload.TenantID,
		"plan":      payload.Plan,
		"active":    payload.Active,
	}).Info("Updated tenant entitlement")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MarketplaceVerify handles GET /webhooks/marketplace. The platform sends a
// challenge code and expects hex(sha256(code + verify_token + endpoint_url))
// back to prove endpoint ownership.
func (h *WebhookHandler) MarketplaceVerify(c *gin.Context) {
	challenge := c.Query("challenge_code")
	if challenge == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "challenge_code is required",
		})
		return
	}

	endpoint := h.cfg.PublicBaseURL + c.Request.URL.Path
	sum := sha256.Sum256([]byte(challenge + h.cfg.MarketplaceVerifyToken + endpoint))

	c.JSON(http.StatusOK, gin.H{
		"challengeResponse": hex.EncodeToString(sum[:]),
	})
}

// MarketplaceEvent handles POST /webhooks/marketplace
func (h *WebhookHandler) MarketplaceEvent(c *gin.Context) {
	body, ok := h.readAndVerify(c, h.cfg.MarketplaceWebhookSecret, "X-Marketplace-Signature")
	if !ok {
		return
	}

	var event struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "malformed event payload",
		})
		return
	}

	h.logger.WithField("topic", event.Topic).Info("Acknowledged marketplace event")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
