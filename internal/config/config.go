// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Email       EmailConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Certificate CertificateConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
	Log         LogConfig
	RateLimit   RateLimitConfig
}

type FrontendConfig struct {
	BaseURL        string
	AllowedOrigins []string
}

type ServerConfig struct {
	Port         string
	Host         string
	PublicURL    string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
	SeedOnStart  bool
	SeedPassword string
}

type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  int // in hours
	RefreshTokenTTL int // in hours
}

// RedisConfig is optional; an empty URL keeps registration numbers in the database.
type RedisConfig struct {
	URL       string
	PoolSize  int
	KeyPrefix string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	CloudFrontURL   string
}

type PaymentConfig struct {
	Provider             string
	PaystackSecretKey    string
	PaystackPublicKey    string
	PaystackBaseURL      string
	PaystackCallbackURL  string
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	RegistrationFee      decimal.Decimal
	Currency             string
}

type EmailConfig struct {
	Driver           string
	SMTPHost         string
	SMTPPort         string
	SMTPUsername     string
	SMTPPassword     string
	MailjetAPIKey    string
	MailjetSecretKey string
	FromEmail        string
	FromName         string
	AdminEmail       string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type OutboxConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	BaseDelay         time.Duration
	ReconcileInterval time.Duration
	StallAfter        time.Duration
}

type CertificateConfig struct {
	PublicBaseURL string
	VerifyURL     string
	IssuerName    string
}

type I18nConfig struct {
	DefaultLocale string
}

type LogConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			PublicURL:    getEnv("SERVER_PUBLIC_URL", "http://localhost:8080"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "coop_registry"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
			SeedOnStart:  getEnvAsBool("DB_SEED", true),
			SeedPassword: getEnv("SEED_ADMIN_PASSWORD", "ChangeMe123!"),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL:  getEnvAsInt("JWT_ACCESS_TTL", 24),   // 24 hours
			RefreshTokenTTL: getEnvAsInt("JWT_REFRESH_TTL", 168), // 7 days
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			PoolSize:  getEnvAsInt("REDIS_POOL_SIZE", 10),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "coop-registry"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-west-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "coop-registry-documents"),
			CloudFrontURL:   getEnv("AWS_CLOUDFRONT_URL", ""),
		},
		Payment: PaymentConfig{
			Provider:             strings.ToLower(getEnv("PAYMENT_PROVIDER", "paystack")),
			PaystackSecretKey:    getEnv("PAYSTACK_SECRET_KEY", ""),
			PaystackPublicKey:    getEnv("PAYSTACK_PUBLIC_KEY", ""),
			PaystackBaseURL:      getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			PaystackCallbackURL:  getEnv("PAYSTACK_CALLBACK_URL", ""),
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			RegistrationFee:      getEnvAsDecimal("REGISTRATION_FEE", "5000"),
			Currency:             getEnv("PAYMENT_CURRENCY", "NGN"),
		},
		Email: EmailConfig{
			Driver:           strings.ToLower(getEnv("EMAIL_DRIVER", "log")),
			SMTPHost:         getEnv("SMTP_HOST", ""),
			SMTPPort:         getEnv("SMTP_PORT", "587"),
			SMTPUsername:     getEnv("SMTP_USERNAME", ""),
			SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
			MailjetAPIKey:    getEnv("MAILJET_API_KEY", ""),
			MailjetSecretKey: getEnv("MAILJET_SECRET_KEY", ""),
			FromEmail:        getEnv("FROM_EMAIL", "noreply@bauchicooperative.ng"),
			FromName:         getEnv("FROM_NAME", "Cooperative Registry"),
			AdminEmail:       getEnv("ADMIN_EMAIL", "admin@bauchicoop.local"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "coop-registry.events"),
		},
		Outbox: OutboxConfig{
			PollInterval:      getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:         getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:       getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),
			BaseDelay:         getEnvAsDuration("OUTBOX_BASE_DELAY", 10*time.Second),
			ReconcileInterval: getEnvAsDuration("APPROVAL_RECONCILE_INTERVAL", time.Minute),
			StallAfter:        getEnvAsDuration("APPROVAL_STALL_AFTER", 2*time.Minute),
		},
		Certificate: CertificateConfig{
			PublicBaseURL: getEnv("CERTIFICATE_BASE_URL", "https://certificates.bauchicooperative.ng"),
			VerifyURL:     getEnv("CERTIFICATE_VERIFY_URL", "https://bauchicooperative.ng/verify"),
			IssuerName:    getEnv("CERTIFICATE_ISSUER", "Bauchi State Cooperative Registry"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
		Frontend: FrontendConfig{
			BaseURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	switch c.Payment.Provider {
	case "paystack":
		if c.Payment.PaystackSecretKey == "" && c.Environment == "production" {
			return fmt.Errorf("PAYSTACK_SECRET_KEY is required in production")
		}
	case "stripe":
		if c.Payment.StripeWebhookSecret == "" && c.Environment == "production" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	default:
		return fmt.Errorf("unsupported payment provider %q", c.Payment.Provider)
	}

	if c.Database.SeedOnStart && c.Database.SeedPassword == "ChangeMe123!" && c.Environment == "production" {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be changed in production")
	}

	if !c.Payment.RegistrationFee.IsPositive() {
		return fmt.Errorf("registration fee must be positive")
	}

	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
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

func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
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
