package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	DefaultOrgID    string
	DefaultTimezone string

	// Conversation context storage
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	ContextTTL    time.Duration

	// Booking policy defaults; a clinic config document may override them per org.
	EmailCollectionMode      string
	StrictPaymentEnforcement bool
	CancellationWindowHours  int
	CancellationFeeCents     int
	PaymentLinkTTL           time.Duration
	PaymentSweepInterval     time.Duration
	RebookReminderInterval   time.Duration

	// Payments
	PaymentProvider     string
	AllowFakePayments   bool
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	LinkVelocityMax     int
	LinkVelocityWindow  time.Duration

	// SMS transport
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	TwilioOrgMapJSON  string
	WebhookRatePerSec float64
	WebhookRateBurst  int

	// Service-to-service auth for the turn API
	ServiceJWTSecret string

	// AWS
	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	ConversationQueueURL  string
	ConversationJobsTable string
	ArchiveBucket         string

	// Extraction
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	// Email
	SendGridAPIKey      string
	SendGridFromEmail   string
	SendGridFromName    string
	SESFromEmail        string
	SESConfigurationSet string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 4),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		DefaultOrgID:    getEnv("DEFAULT_ORG_ID", ""),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "America/New_York"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		ContextTTL:    getEnvAsDuration("CONTEXT_TTL", 24*time.Hour),

		EmailCollectionMode:      strings.ToLower(getEnv("EMAIL_COLLECTION_MODE", "gentle")),
		StrictPaymentEnforcement: getEnvAsBool("STRICT_PAYMENT_ENFORCEMENT", true),
		CancellationWindowHours:  getEnvAsInt("CANCELLATION_WINDOW_HOURS", 24),
		CancellationFeeCents:     getEnvAsInt("CANCELLATION_FEE_CENTS", 5000),
		PaymentLinkTTL:           getEnvAsDuration("PAYMENT_LINK_TTL", 30*time.Minute),
		PaymentSweepInterval:     getEnvAsDuration("PAYMENT_SWEEP_INTERVAL", time.Minute),
		RebookReminderInterval:   getEnvAsDuration("REBOOK_REMINDER_INTERVAL", 15*time.Minute),

		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", "stripe")),
		AllowFakePayments:   getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		LinkVelocityMax:     getEnvAsInt("LINK_VELOCITY_MAX", 5),
		LinkVelocityWindow:  getEnvAsDuration("LINK_VELOCITY_WINDOW", 24*time.Hour),

		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:  getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioOrgMapJSON:  getEnv("TWILIO_ORG_MAP_JSON", "{}"),
		WebhookRatePerSec: getEnvAsFloat("WEBHOOK_RATE_PER_SEC", 5),
		WebhookRateBurst:  getEnvAsInt("WEBHOOK_RATE_BURST", 20),

		ServiceJWTSecret: getEnv("SERVICE_JWT_SECRET", ""),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ConversationQueueURL:  getEnv("CONVERSATION_QUEUE_URL", ""),
		ConversationJobsTable: getEnv("CONVERSATION_JOBS_TABLE", "booking_conversation_jobs"),
		ArchiveBucket:         getEnv("ARCHIVE_BUCKET", ""),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", ""),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
