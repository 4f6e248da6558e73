package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"payment-webhook-service/internal/clients"
	"payment-webhook-service/internal/config"
	"payment-webhook-service/internal/events"
	"payment-webhook-service/internal/gateway"
	"payment-webhook-service/internal/handlers"
	"payment-webhook-service/internal/middleware"
	"payment-webhook-service/internal/models"
	"payment-webhook-service/internal/repository"
	"payment-webhook-service/internal/services"
	"payment-webhook-service/internal/webhook"
)

func main() {
	// Load .env if present (local development)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Structured logger shared by all components
	appLogger := logrus.New()
	appLogger.SetFormatter(&logrus.JSONFormatter{})
	appLogger.SetLevel(logrus.InfoLevel)

	// Connect to database
	db, err := connectDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto-migrate models
	if err := db.AutoMigrate(
		&models.PaymentOrder{},
		&models.PaymentTransaction{},
		&models.PaymentRefund{},
		&models.AuditLog{},
	); err != nil {
		log.Printf("Warning: Auto-migration failed: %v", err)
	}

	// Webhook signature verifier fails fast on a weak secret
	verifier, err := webhook.NewVerifier(cfg.WebhookSecret)
	if err != nil {
		log.Fatalf("Invalid webhook secret: %v", err)
	}
	validator := webhook.NewValidator(nil)

	// Redis backs the shared rate-limit counters; the limiter degrades to
	// per-instance counting when it is unavailable
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Invalid REDIS_URL: %v (rate limiting degrades to per-instance)", err)
		} else {
			redisClient = redis.NewClient(opts)
			log.Println("✓ Redis client initialized")
		}
	}
	limiter := middleware.NewFixedWindowLimiter(
		redisClient,
		cfg.RateLimitMaxRequests,
		time.Duration(cfg.RateLimitWindowSeconds)*time.Second,
		appLogger,
		nil,
	)

	// Initialize repository
	paymentRepo := repository.NewPaymentRepository(db)

	// Business order mirror client
	orderClient := clients.NewOrderClient(cfg.OrdersServiceURL)

	// NATS events publisher (best effort)
	var publisher services.EventPublisher
	eventsPublisher, err := events.NewPublisher(cfg.NATSURL, appLogger)
	if err != nil {
		log.Printf("WARNING: Failed to initialize events publisher: %v (events won't be published)", err)
	} else {
		defer eventsPublisher.Close()
		publisher = eventsPublisher
		log.Println("✓ NATS events publisher initialized")
	}

	// Initialize services
	webhookService := services.NewWebhookService(paymentRepo, orderClient, publisher, appLogger, nil)

	// Gateway API client for payment initiation and reconciliation
	gatewayClient, err := gateway.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	if err != nil {
		log.Printf("WARNING: Gateway client not initialized: %v (initiation and reconciliation disabled)", err)
	}

	var paymentHandler *handlers.PaymentHandler
	if gatewayClient != nil {
		paymentService := services.NewPaymentService(paymentRepo, gatewayClient, appLogger)
		paymentHandler = handlers.NewPaymentHandler(paymentService, appLogger)

		reconciler := services.NewReconciliationService(
			paymentRepo,
			gatewayClient,
			webhookService,
			appLogger,
			time.Duration(cfg.ReconcileIntervalMinutes)*time.Minute,
			time.Duration(cfg.ReconcileStaleMinutes)*time.Minute,
			nil,
		)
		go reconciler.Run(context.Background())
		log.Println("✓ Reconciliation sweep started")
	}

	webhookHandler := handlers.NewWebhookHandler(
		webhookService,
		verifier,
		validator,
		appLogger,
		cfg.WebhookSignatureHeader,
		time.Duration(cfg.ProcessingTimeoutSecond)*time.Second,
		nil,
	)

	// Setup router
	router := setupRouter(webhookHandler, paymentHandler, limiter, appLogger)

	// Start server
	log.Printf("Payment Webhook Service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// connectDatabase establishes a connection to the database
func connectDatabase(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✓ Connected to database")
	return db, nil
}

// setupRouter configures the HTTP router
func setupRouter(webhookHandler *handlers.WebhookHandler, paymentHandler *handlers.PaymentHandler, limiter *middleware.FixedWindowLimiter, appLogger *logrus.Logger) *gin.Engine {
	router := gin.Default()
	router.HandleMethodNotAllowed = true
	router.NoMethod(handlers.MethodNotAllowed)

	// Security headers middleware
	router.Use(middleware.SecurityHeaders())

	// Request validation middleware
	router.Use(middleware.ValidateRequest())

	// Audit logging middleware
	router.Use(middleware.AuditMiddleware(appLogger))

	// Health check (no rate limiting)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "payment-webhook-service",
		})
	})

	// Webhook endpoints - public but rate limited per source IP
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.RateLimitMiddleware(limiter))
	{
		webhooks.POST("/payment", webhookHandler.HandleWebhook)
	}

	// API routes
	v1 := router.Group("/api/v1")
	{
		if paymentHandler != nil {
			v1.POST("/payments/initiate", paymentHandler.InitiatePayment)
		}
	}

	return router
}
