package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"rateshop-service/internal/repository"
)

// JWTAuth validates Bearer tokens and puts the token's tenant claim into
// the request context. When no secret is configured the middleware is a
// pass-through and tenant resolution relies on the X-Tenant-ID header.
func JWTAuth(secret string) gin.HandlerFunc {
	log := logrus.WithField("component", "auth")
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
				"message": "missing bearer token",
			})
			return
		}

		tokenStr := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			log.WithError(err).Debug("Rejected invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
				"message": "invalid or expired token",
			})
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if tenantID, ok := claims["tenant_id"].(string); ok && tenantID != "" {
				c.Set("tenant_id", tenantID)
			}
			if sub, ok := claims["sub"].(string); ok {
				c.Set("user_id", sub)
			}
		}
		c.Next()
	}
}

// EntitlementGate blocks tenants whose billing plan does not include
// shipping. Tenants billing has never reported on are allowed through so a
// missing billing integration does not brick the service.
func EntitlementGate(entitlements repository.EntitlementRepository) gin.HandlerFunc {
	log := logrus.WithField("component", "entitlement-gate")
	return func(c *gin.Context) {
		tenantID := c.GetString("tenant_id")
		if tenantID == "" {
			c.Next()
			return
		}

		ent, err := entitlements.GetByTenant(tenantID)
		if err != nil {
			log.WithError(err).WithField("tenant_id", tenantID).Error("Entitlement lookup failed, allowing request")
			c.Next()
			return
		}
		if ent != nil && !ent.IsEntitled(time.Now()) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"success": false,
				"error":   "not_entitled",
				"message": "shipping is not included in the current billing plan",
			})
			return
		}
		c.Next()
	}
}
