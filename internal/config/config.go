package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	NATS       NATSConfig
	Razorpay   RazorpayConfig
	Shiprocket ShiprocketConfig
	Finance    FinanceConfig
	Risk       RiskConfig
	Settlement SettlementConfig
	Orders     OrdersConfig
	App        AppConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the cache connection settings
type RedisConfig struct {
	URL      string
	CacheTTL time.Duration
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	MaxRetry      int
	JobsEnabled   bool
}

// NATSConfig holds the domain event broker settings
type NATSConfig struct {
	URL     string
	Subject string
}

// RazorpayConfig holds payment provider credentials
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

// ShiprocketConfig holds shipping provider credentials
type ShiprocketConfig struct {
	BaseURL       string
	Email         string
	Password      string
	WebhookSecret string
	PickupName    string
}

// FinanceConfig holds platform reconciliation and freeze settings
type FinanceConfig struct {
	MismatchThreshold       decimal.Decimal
	HighValueOrderThreshold decimal.Decimal
	WebhookTolerance        time.Duration
	ReconciliationSchedule  string
	SafeRecoverySchedule    string
	RevalidationSchedule    string
	WebhookRateLimitPerSec  float64
	WebhookRateLimitBurst   int
	NotificationServiceURL  string
	QualityServiceURL       string
}

// RiskConfig holds the seller risk engine settings
type RiskConfig struct {
	Threshold             float64
	CriticalThreshold     float64
	CooldownHours         int
	IsolationReleaseHours int
	WatchScore            float64
	QualityFloor          float64
	StabilityRateLimit    float64
	StabilityDailyCap     int
	Schedule              string
	IsolationSchedule     string
}

// SettlementConfig holds ledger crediting settings
type SettlementConfig struct {
	HoldDays       int
	CommissionRate decimal.Decimal
	Schedule       string
}

// OrdersConfig holds order placement settings
type OrdersConfig struct {
	PaymentWindow      time.Duration
	AutoCancelSchedule string
	DispatchSLA        time.Duration
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment    string
	LogLevel       string
	AdminToken     string
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "marketplace_finance_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			CacheTTL: getEnvAsDuration("CACHE_TTL", 60*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     getEnv("QUEUE_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("QUEUE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("QUEUE_REDIS_DB", 1),
			Concurrency:   getEnvAsInt("QUEUE_CONCURRENCY", 10),
			MaxRetry:      getEnvAsInt("QUEUE_MAX_RETRY", 5),
			JobsEnabled:   getEnvAsBool("JOBS_ENABLED", true),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT_PREFIX", "marketplace.finance"),
		},
		Razorpay: RazorpayConfig{
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			Currency:      getEnv("PAYMENT_CURRENCY", "INR"),
		},
		Shiprocket: ShiprocketConfig{
			BaseURL:       getEnv("SHIPROCKET_BASE_URL", "https://apiv2.shiprocket.in"),
			Email:         getEnv("SHIPROCKET_EMAIL", ""),
			Password:      getEnv("SHIPROCKET_PASSWORD", ""),
			WebhookSecret: getEnv("SHIPROCKET_WEBHOOK_SECRET", ""),
			PickupName:    getEnv("SHIPROCKET_PICKUP_LOCATION", "Primary"),
		},
		Finance: FinanceConfig{
			MismatchThreshold:       getEnvAsDecimal("FINANCE_MISMATCH_THRESHOLD", decimal.NewFromInt(1)),
			HighValueOrderThreshold: getEnvAsDecimal("HIGH_VALUE_ORDER_THRESHOLD", decimal.NewFromInt(50000)),
			WebhookTolerance:        getEnvAsDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
			ReconciliationSchedule:  getEnv("RECONCILIATION_SCHEDULE", "@every 15m"),
			SafeRecoverySchedule:    getEnv("SAFE_RECOVERY_SCHEDULE", "@every 30m"),
			RevalidationSchedule:    getEnv("REVALIDATION_SCHEDULE", "@every 6h"),
			WebhookRateLimitPerSec:  getEnvAsFloat("WEBHOOK_RATE_LIMIT_PER_SEC", 50),
			WebhookRateLimitBurst:   getEnvAsInt("WEBHOOK_RATE_LIMIT_BURST", 100),
			NotificationServiceURL:  getEnv("NOTIFICATION_SERVICE_URL", "http://notification-service:8090"),
			QualityServiceURL:       getEnv("QUALITY_SERVICE_URL", ""),
		},
		Risk: RiskConfig{
			Threshold:             getEnvAsFloat("SELLER_RISK_THRESHOLD", 50),
			CriticalThreshold:     getEnvAsFloat("SELLER_RISK_CRITICAL", 85),
			CooldownHours:         getEnvAsInt("SELLER_MODE_COOLDOWN_HOURS", 24),
			IsolationReleaseHours: getEnvAsInt("SELLER_ISOLATION_RELEASE_HOURS", 72),
			WatchScore:            getEnvAsFloat("SELLER_WATCH_SCORE", 60),
			QualityFloor:          getEnvAsFloat("SELLER_QUALITY_FLOOR", 55),
			StabilityRateLimit:    getEnvAsFloat("SELLER_STABILITY_RATE_LIMIT", 0.20),
			StabilityDailyCap:     getEnvAsInt("SELLER_STABILITY_DAILY_CAP", 20),
			Schedule:              getEnv("RISK_SCORING_SCHEDULE", "@every 1h"),
			IsolationSchedule:     getEnv("ISOLATION_MONITOR_SCHEDULE", "@every 1h"),
		},
		Settlement: SettlementConfig{
			HoldDays:       getEnvAsInt("SETTLEMENT_HOLD_DAYS", 7),
			CommissionRate: getEnvAsDecimal("PLATFORM_COMMISSION_RATE", decimal.RequireFromString("0.10")),
			Schedule:       getEnv("SETTLEMENT_SCHEDULE", "@every 1h"),
		},
		Orders: OrdersConfig{
			PaymentWindow:      getEnvAsDuration("ORDER_PAYMENT_WINDOW", 30*time.Minute),
			AutoCancelSchedule: getEnv("AUTO_CANCEL_SCHEDULE", "@every 5m"),
			DispatchSLA:        getEnvAsDuration("DISPATCH_SLA", 48*time.Hour),
		},
		App: AppConfig{
			Environment:    getEnv("APP_ENV", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AdminToken:     getEnv("ADMIN_API_TOKEN", ""),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:4200"}),
		},
	}

	if config.Risk.CriticalThreshold < config.Risk.Threshold {
		return nil, fmt.Errorf("SELLER_RISK_CRITICAL (%.0f) must not be below SELLER_RISK_THRESHOLD (%.0f)",
			config.Risk.CriticalThreshold, config.Risk.Threshold)
	}
	if config.Settlement.CommissionRate.IsNegative() || config.Settlement.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("PLATFORM_COMMISSION_RATE must be within [0, 1)")
	}
	if config.IsProduction() && config.Razorpay.WebhookSecret == "" {
		return nil, fmt.Errorf("RAZORPAY_WEBHOOK_SECRET is required in production")
	}

	return config, nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
