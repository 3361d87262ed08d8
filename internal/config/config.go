package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the service
type Config struct {
	Environment string
	Port        string
	ServiceName string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional, used for rate caching and rate limiting)
	RedisURL string

	// NATS (optional, used for event publishing)
	NATSURL string

	// Auth
	JWTSecret string

	// Webhook shared secrets
	TrackingWebhookSecret    string
	BillingWebhookSecret     string
	MarketplaceWebhookSecret string
	// MarketplaceVerifyToken answers marketplace endpoint verification
	// challenges
	MarketplaceVerifyToken string
	// PublicBaseURL is this service's externally reachable URL, used in
	// challenge-response computation
	PublicBaseURL string

	// DefaultShipFrom is the fallback origin used when a tenant has no
	// warehouse configured and the request carries no override
	DefaultShipFromStreet     string
	DefaultShipFromCity       string
	DefaultShipFromState      string
	DefaultShipFromPostalCode string
	DefaultShipFromCountry    string

	// CarrierTimeout bounds each carrier call during rate aggregation
	CarrierTimeout time.Duration
	// CatalogStaleAfter is how old catalog rows may be before a refresh
	CatalogStaleAfter time.Duration
	// ProgressRetention is how long finished operation runs stay queryable
	ProgressRetention time.Duration

	// RateLimitPerMinute caps API requests per tenant per minute, 0 disables
	RateLimitPerMinute int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8086"),
		ServiceName: getEnv("SERVICE_NAME", "rateshop-service"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvAsInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "rateshop"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		RedisURL: getEnv("REDIS_URL", ""),
		NATSURL:  getEnv("NATS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		TrackingWebhookSecret:    getEnv("TRACKING_WEBHOOK_SECRET", ""),
		BillingWebhookSecret:     getEnv("BILLING_WEBHOOK_SECRET", ""),
		MarketplaceWebhookSecret: getEnv("MARKETPLACE_WEBHOOK_SECRET", ""),
		MarketplaceVerifyToken:   getEnv("MARKETPLACE_VERIFY_TOKEN", ""),
		PublicBaseURL:            getEnv("PUBLIC_BASE_URL", ""),

		DefaultShipFromStreet:     getEnv("DEFAULT_SHIP_FROM_STREET", ""),
		DefaultShipFromCity:       getEnv("DEFAULT_SHIP_FROM_CITY", ""),
		DefaultShipFromState:      getEnv("DEFAULT_SHIP_FROM_STATE", ""),
		DefaultShipFromPostalCode: getEnv("DEFAULT_SHIP_FROM_POSTAL_CODE", ""),
		DefaultShipFromCountry:    getEnv("DEFAULT_SHIP_FROM_COUNTRY", "US"),

		CarrierTimeout:    getEnvAsDuration("CARRIER_TIMEOUT", 20*time.Second),
		CatalogStaleAfter: getEnvAsDuration("CATALOG_STALE_AFTER", time.Hour),
		ProgressRetention: getEnvAsDuration("PROGRESS_RETENTION", time.Hour),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if c.DBHost == "" || c.DBName == "" {
		return fmt.Errorf("database configuration is incomplete")
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// DSN builds the postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
