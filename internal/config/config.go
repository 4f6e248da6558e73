package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Config holds all configuration for the webhook service
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Redis (shared rate-limit counters)
	RedisURL string

	// NATS event publication
	NATSURL string

	// Business order mirror
	OrdersServiceURL string

	// Razorpay
	RazorpayKeyID     string
	RazorpayKeySecret string

	// Webhook verification
	WebhookSecret          string
	WebhookSignatureHeader string

	// Ingress limits
	RateLimitMaxRequests    int
	RateLimitWindowSeconds  int
	ProcessingTimeoutSecond int

	// Reconciliation sweep
	ReconcileIntervalMinutes int
	ReconcileStaleMinutes    int
}

// buildDatabaseURL constructs the database URL from individual components
// Password is fetched from GCP Secret Manager if enabled
func buildDatabaseURL() string {
	// First check if DATABASE_URL is explicitly set
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	// Build from components
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	dbname := getEnv("DB_NAME", "payments")
	sslmode := getEnv("DB_SSLMODE", "disable")

	// Get password from GCP Secret Manager or env var
	password := getPasswordFromGCPOrEnv()

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode)
}

// getPasswordFromGCPOrEnv fetches the database password from GCP Secret Manager
// or falls back to environment variable
func getPasswordFromGCPOrEnv() string {
	useGCP := os.Getenv("USE_GCP_SECRET_MANAGER")
	if useGCP != "true" {
		return getEnv("DB_PASSWORD", "password")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secretFetcher, err := secrets.NewEnvSecretFetcher(ctx)
	if err != nil {
		log.Printf("Warning: Failed to initialize GCP Secret Manager: %v (using env var)", err)
		return getEnv("DB_PASSWORD", "password")
	}
	defer secretFetcher.Close()

	password := secrets.LoadDatabasePassword(ctx, secretFetcher)
	if password == "" || password == "password" {
		log.Printf("Warning: Got empty/default password from GCP Secret Manager, using env var")
		return getEnv("DB_PASSWORD", "password")
	}

	return password
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		Port:        getEnv("PORT", "8092"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL:      buildDatabaseURL(),
		RedisURL:         getEnv("REDIS_URL", ""),
		NATSURL:          getEnv("NATS_URL", ""),
		OrdersServiceURL: getEnv("ORDERS_SERVICE_URL", "http://order-service.global.svc.cluster.local:8083"),

		RazorpayKeyID:     getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret: getEnv("RAZORPAY_KEY_SECRET", ""),

		WebhookSecret:          getEnv("WEBHOOK_SECRET", ""),
		WebhookSignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Razorpay-Signature"),

		RateLimitMaxRequests:    getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitWindowSeconds:  getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		ProcessingTimeoutSecond: getEnvInt("PROCESSING_TIMEOUT_SECONDS", 25),

		ReconcileIntervalMinutes: getEnvInt("RECONCILE_INTERVAL_MINUTES", 15),
		ReconcileStaleMinutes:    getEnvInt("RECONCILE_STALE_MINUTES", 30),
	}

	// Validate required fields
	if config.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if config.WebhookSecret == "" {
		log.Fatal("WEBHOOK_SECRET is required")
	}

	return config
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: Invalid value for %s: %q (using default %d)", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
