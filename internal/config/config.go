package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Server
	Port        string
	CORSOrigins string

	// Service auth (bot frontend) and admin surface
	JWTSecret  string
	AdminToken string
	AdminIDs   string

	// Payment provider selection (resolved once at startup)
	PaymentProvider     string // demo | stripe | prodamus
	StripeAPIKey        string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	ProdamusAPIKey      string
	ProdamusFormURL     string
	DemoPayBaseURL      string

	// Group platform
	TelegramBotToken string

	// Community registry
	CommunitiesConfigPath string

	// Default plan when a community has no explicit price
	DefaultAmountMinor int64
	DefaultCurrency    string

	// Lifecycle timing
	BillingInterval  time.Duration // one billing period
	GraceWindow      time.Duration // tolerance after a failed renewal
	RenewalLookahead time.Duration // how early the sweeper initiates renewals
	ReminderDays     []int         // days before expiry to remind users

	// Background schedules (cron specs)
	SweepSchedule string
	SyncSchedule  string

	// External call budgets
	ProviderTimeout time.Duration
	GroupAPITimeout time.Duration

	// Membership synchronizer retry policy
	SyncMaxAttempts int
	SyncBaseBackoff time.Duration
	SyncBatchSize   int
}

func Load() *Config {
	// Missing .env is fine; real deployments use process env.
	_ = godotenv.Load()

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "gatekeeper"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		AdminToken: getEnv("ADMIN_TOKEN", ""),
		AdminIDs:   getEnv("ADMIN_IDS", ""),

		PaymentProvider:     getEnv("PAYMENT_PROVIDER", "demo"),
		StripeAPIKey:        getEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", "https://t.me"),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", "https://t.me"),
		ProdamusAPIKey:      getEnv("PRODAMUS_API_KEY", ""),
		ProdamusFormURL:     getEnv("PRODAMUS_FORM_URL", "https://payform.ru"),
		DemoPayBaseURL:      getEnv("DEMO_PAY_BASE_URL", "https://pay.local"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		CommunitiesConfigPath: getEnv("COMMUNITIES_CONFIG_PATH", "communities.json"),

		DefaultAmountMinor: parseInt64(getEnv("DEFAULT_AMOUNT_MINOR", "999")),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", "USD"),

		BillingInterval:  parseDuration(getEnv("BILLING_INTERVAL", "720h"), 720*time.Hour),
		GraceWindow:      parseDuration(getEnv("GRACE_WINDOW", "48h"), 48*time.Hour),
		RenewalLookahead: parseDuration(getEnv("RENEWAL_LOOKAHEAD", "24h"), 24*time.Hour),
		ReminderDays:     parseIntList(getEnv("REMINDER_DAYS", "3,1")),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 15m"),
		SyncSchedule:  getEnv("SYNC_SCHEDULE", "@every 1m"),

		ProviderTimeout: parseDuration(getEnv("PROVIDER_TIMEOUT", "5s"), 5*time.Second),
		GroupAPITimeout: parseDuration(getEnv("GROUP_API_TIMEOUT", "15s"), 15*time.Second),

		SyncMaxAttempts: parseInt(getEnv("SYNC_MAX_ATTEMPTS", "8"), 8),
		SyncBaseBackoff: parseDuration(getEnv("SYNC_BASE_BACKOFF", "30s"), 30*time.Second),
		SyncBatchSize:   parseInt(getEnv("SYNC_BATCH_SIZE", "50"), 50),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseIntList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}
