package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"rateshop-service/internal/carriers"
	"rateshop-service/internal/config"
	"rateshop-service/internal/events"
	"rateshop-service/internal/handlers"
	"rateshop-service/internal/middleware"
	"rateshop-service/internal/models"
	"rateshop-service/internal/progress"
	"rateshop-service/internal/repository"
	"rateshop-service/internal/services"
)

func main() {
	_ = godotenv.Load()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	log := logrus.WithField("component", "main")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}

	if err := db.AutoMigrate(
		&models.Order{},
		&models.ShipmentLabel{},
		&models.CarrierAccount{},
		&models.ShippingServiceEntry{},
		&models.ShippingSettings{},
		&models.TenantEntitlement{},
	); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}
	log.Info("Database migrations completed")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("Invalid REDIS_URL, continuing without Redis")
		} else {
			redisClient = redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := redisClient.Ping(pingCtx).Err(); err != nil {
				log.WithError(err).Warn("Redis unreachable, continuing without rate caching")
				redisClient = nil
			}
			cancel()
		}
	}

	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.WithError(err).Warn("NATS unavailable, continuing without event publishing")
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	orderRepo := repository.NewOrderRepository(db)
	labelRepo := repository.NewLabelRepository(db)
	accountRepo := repository.NewCarrierAccountRepository(db)
	catalogRepo := repository.NewServiceCatalogRepository(db)
	entitlementRepo := repository.NewEntitlementRepository(db)

	factory := carriers.NewFactory()

	runs := progress.NewStore(cfg.ProgressRetention)
	sweeperStop := make(chan struct{})
	runs.StartSweeper(5*time.Minute, sweeperStop)
	defer close(sweeperStop)

	rateService := services.NewRateService(orderRepo, accountRepo, catalogRepo, factory, redisClient, publisher, runs, cfg)
	labelService := services.NewLabelService(orderRepo, labelRepo, accountRepo, catalogRepo, factory, publisher, runs, cfg)

	shippingHandler := handlers.NewShippingHandler(rateService, labelService, runs)
	accountHandler := handlers.NewCarrierAccountHandler(accountRepo, rateService, factory)
	webhookHandler := handlers.NewWebhookHandler(labelService, entitlementRepo, cfg)

	router := setupRouter(cfg, redisClient, entitlementRepo, shippingHandler, accountHandler, webhookHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}
	log.Info("Server stopped")
}

func connectDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func setupRouter(
	cfg *config.Config,
	redisClient *redis.Client,
	entitlements repository.EntitlementRepository,
	shipping *handlers.ShippingHandler,
	accounts *handlers.CarrierAccountHandler,
	webhooks *handlers.WebhookHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": cfg.ServiceName})
	})

	limiter := middleware.NewRateLimiter(redisClient, cfg.RateLimitPerMinute)

	api := router.Group("/api")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	api.Use(middleware.TenantMiddleware())
	api.Use(middleware.RequireTenant())
	api.Use(limiter.Middleware())
	api.Use(middleware.EntitlementGate(entitlements))
	{
		api.POST("/shipping/rates", shipping.GetRates)
		api.POST("/shipping/labels", shipping.PurchaseLabel)
		api.GET("/shipping/labels", shipping.ListLabels)
		api.GET("/shipping/labels/:id", shipping.GetLabel)
		api.GET("/shipping/services", shipping.GetCatalog)
		api.GET("/shipping/settings", accounts.GetSettings)
		api.PUT("/shipping/settings", accounts.SaveSettings)
		api.GET("/operations/:id", shipping.GetOperation)

		api.GET("/carriers/templates", accounts.Templates)
		api.POST("/carriers", accounts.Create)
		api.GET("/carriers", accounts.List)
		api.PUT("/carriers/:id", accounts.Update)
		api.DELETE("/carriers/:id", accounts.Delete)
		api.POST("/carriers/:id/test", accounts.TestConnection)
	}

	hooks := router.Group("/webhooks")
	{
		hooks.POST("/tracking", webhooks.TrackingWebhook)
		hooks.POST("/billing", webhooks.BillingWebhook)
		hooks.GET("/marketplace", webhooks.MarketplaceVerify)
		hooks.POST("/marketplace", webhooks.MarketplaceEvent)
	}

	return router
}
