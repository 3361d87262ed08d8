package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CORS configures cross-origin access for browser clients
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Content-Length", "Accept-Encoding",
			"Authorization", "Cache-Control", "X-Requested-With",
			"X-Tenant-ID", "Idempotency-Key",
		},
		MaxAge: 12 * time.Hour,
	})
}

// TenantMiddleware extracts tenant ID from headers.
// First checks if tenant_id was already set by the auth middleware.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetString("tenant_id")
		if tenantID == "" {
			tenantID = c.GetHeader("X-Tenant-ID")
		}
		c.Set("tenant_id", tenantID)
		c.Next()
	}
}

// RequireTenant rejects requests that reached a tenant-scoped route without
// tenant context
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("tenant_id") == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "missing_tenant",
				"message": "X-Tenant-ID header or authenticated tenant is required",
			})
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests with structured fields
func LoggingMiddleware() gin.HandlerFunc {
	log := logrus.WithField("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
			"client_ip": c.ClientIP(),
			"tenant_id": c.GetString("tenant_id"),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
		} else {
			entry.Info("Request handled")
		}
	}
}

// ErrorHandler converts unhandled gin errors into a JSON envelope
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			logrus.WithField("component", "http").WithError(err).Error("Unhandled request error")

			if !c.Writer.Written() {
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "internal_error",
					"message": err.Error(),
				})
			}
		}
	}
}

// RateLimiter enforces a fixed-window per-tenant request cap. Backed by
// Redis when available, falling back to an in-process counter otherwise.
type RateLimiter struct {
	redis     *redis.Client
	perMinute int

	mu      sync.Mutex
	windows map[string]*localWindow
}

type localWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a rate limiter. perMinute <= 0 disables limiting.
func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	return &RateLimiter{
		redis:     redisClient,
		perMinute: perMinute,
		windows:   make(map[string]*localWindow),
	}
}

// Middleware returns the gin handler enforcing the limit
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.perMinute <= 0 {
			c.Next()
			return
		}

		key := c.GetString("tenant_id")
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.allow(c.Request.Context(), key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	if rl.redis != nil {
		if ok, err := rl.allowRedis(ctx, key); err == nil {
			return ok
		}
		// Redis trouble falls through to the local counter
	}
	return rl.allowLocal(key)
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / 60
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		rl.redis.Expire(ctx, redisKey, 2*time.Minute)
	}
	return count <= int64(rl.perMinute), nil
}

func (rl *RateLimiter) allowLocal(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		rl.windows[key] = &localWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= rl.perMinute
}
