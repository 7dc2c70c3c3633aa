/**
 * @description
 * Configuration for the settlement service. Values come from the process
 * environment, optionally seeded by a .env file in the given directory, and are
 * normalized after unmarshalling so callers never need to re-trim or re-default.
 *
 * @dependencies
 * - github.com/spf13/viper: environment and .env binding.
 */

package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every setting the settlement service reads at startup.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	EventsExchange     string `mapstructure:"EVENTS_EXCHANGE"`
	AppURL             string `mapstructure:"APP_URL"`
	ClerkJWKSURL       string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience      string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer        string `mapstructure:"CLERK_ISSUER"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	DefaultCurrency    string `mapstructure:"DEFAULT_CURRENCY"`

	FlutterwaveBaseURL       string `mapstructure:"FLUTTERWAVE_BASE_URL"`
	FlutterwaveSecretKey     string `mapstructure:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveWebhookSecret string `mapstructure:"FLUTTERWAVE_WEBHOOK_SECRET"`

	MonnifyBaseURL      string `mapstructure:"MONNIFY_BASE_URL"`
	MonnifyAPIKey       string `mapstructure:"MONNIFY_API_KEY"`
	MonnifySecretKey    string `mapstructure:"MONNIFY_SECRET_KEY"`
	MonnifyContractCode string `mapstructure:"MONNIFY_CONTRACT_CODE"`

	StripeBaseURL       string `mapstructure:"STRIPE_BASE_URL"`
	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	PaymentInitLimit           int    `mapstructure:"PAYMENT_INIT_LIMIT"`
	PaymentInitWindowSeconds   int    `mapstructure:"PAYMENT_INIT_WINDOW_SECONDS"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcilePendingAfterMins  int    `mapstructure:"RECONCILE_PENDING_AFTER_MINUTES"`
	ReconcileBatchSize         int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	PendingPaymentRetentionHrs int    `mapstructure:"PENDING_PAYMENT_RETENTION_HOURS"`
	WebhookRateLimitPerMinute  int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from the environment and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8085")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_MIN_CONNS", 1)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "estatehub:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "estatehub.events")
	viper.SetDefault("DEFAULT_CURRENCY", "NGN")
	viper.SetDefault("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com")
	viper.SetDefault("MONNIFY_BASE_URL", "https://sandbox.monnify.com")
	viper.SetDefault("STRIPE_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("PAYMENT_INIT_LIMIT", 5)
	viper.SetDefault("PAYMENT_INIT_WINDOW_SECONDS", 60)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 10m")
	viper.SetDefault("RECONCILE_PENDING_AFTER_MINUTES", 15)
	viper.SetDefault("RECONCILE_BATCH_SIZE", 100)
	viper.SetDefault("PENDING_PAYMENT_RETENTION_HOURS", 72)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_RATE_LIMIT_PREFIX", "RABBITMQ_URL", "EVENTS_EXCHANGE",
		"CLERK_JWKS_URL", "CLERK_AUDIENCE", "CLERK_ISSUER", "CORS_ALLOWED_ORIGINS", "DEFAULT_CURRENCY",
		"FLUTTERWAVE_BASE_URL", "FLUTTERWAVE_SECRET_KEY", "FLUTTERWAVE_WEBHOOK_SECRET",
		"MONNIFY_BASE_URL", "MONNIFY_API_KEY", "MONNIFY_SECRET_KEY", "MONNIFY_CONTRACT_CODE",
		"STRIPE_BASE_URL", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
		"PAYMENT_INIT_LIMIT", "PAYMENT_INIT_WINDOW_SECONDS",
		"RECONCILE_SCHEDULE", "RECONCILE_PENDING_AFTER_MINUTES", "RECONCILE_BATCH_SIZE",
		"PENDING_PAYMENT_RETENTION_HOURS", "WEBHOOK_RATE_LIMIT_PER_MINUTE",
	} {
		_ = viper.BindEnv(key)
	}
	// Aliases kept from the Next.js deployment.
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")
	_ = viper.BindEnv("APP_URL", "APP_URL", "NEXT_PUBLIC_APP_URL")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "err", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.AppURL = strings.TrimRight(strings.TrimSpace(config.AppURL), "/")
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "NGN"
	}
	config.FlutterwaveBaseURL = strings.TrimRight(strings.TrimSpace(config.FlutterwaveBaseURL), "/")
	config.MonnifyBaseURL = strings.TrimRight(strings.TrimSpace(config.MonnifyBaseURL), "/")
	config.StripeBaseURL = strings.TrimRight(strings.TrimSpace(config.StripeBaseURL), "/")
	if config.PaymentInitLimit <= 0 {
		config.PaymentInitLimit = 5
	}
	if config.PaymentInitWindowSeconds <= 0 {
		config.PaymentInitWindowSeconds = 60
	}
	if config.ReconcilePendingAfterMins <= 0 {
		config.ReconcilePendingAfterMins = 15
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = 100
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = "@every 10m"
	}

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into a clean list. Empty means any origin.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
