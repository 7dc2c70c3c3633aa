/**
 * @description
 * Entry point for the settlement service. It loads configuration, connects to
 * PostgreSQL, RabbitMQ and Redis, registers the configured payment providers,
 * starts the reconciliation scheduler and serves the HTTP API until signalled.
 *
 * @dependencies
 * - github.com/joho/godotenv: local .env loading.
 * - github.com/jackc/pgx/v5: PostgreSQL pool.
 * - github.com/redis/go-redis/v9: payment initialization rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: service packages.
 * - pkg/flutterwave, pkg/monnify, pkg/stripe, pkg/rabbitmq: external clients.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/estatehub/settlement-service/internal/api"
	"github.com/estatehub/settlement-service/internal/app"
	"github.com/estatehub/settlement-service/internal/config"
	"github.com/estatehub/settlement-service/internal/store"
	"github.com/estatehub/settlement-service/pkg/flutterwave"
	"github.com/estatehub/settlement-service/pkg/monnify"
	"github.com/estatehub/settlement-service/pkg/rabbitmq"
	"github.com/estatehub/settlement-service/pkg/stripe"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "settlement-service")
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "component", "bootstrap", "err", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fatal(logger, "config load failed", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		fatal(logger, "database url must be configured", errors.New("DATABASE_URL is empty"))
	}
	logger.Info("starting settlement-service", "component", "bootstrap", "port", cfg.ServerPort)

	poolConfig, err := store.NewPoolConfig(cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		fatal(logger, "database url parse failed", err)
	}

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		fatal(logger, "database connection failed", err)
	}
	defer dbpool.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx, dbpool, logger)
	cancelMigrate()
	if err != nil {
		fatal(logger, "database migration failed", err)
	}
	logger.Info("database connected", "component", "bootstrap")

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "component", "bootstrap", "err", err)
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		defer producer.Close()
		publisher = producer
		logger.Info("rabbitmq producer connected", "component", "bootstrap")
	}
	notifier := app.NewEventNotifier(publisher, cfg.EventsExchange, logger)

	var limiter app.RateLimiter
	if redisClient := connectRedis(logger, cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RateLimitPrefix)
	}

	registry := app.NewProviderRegistry(configuredProviders(logger, cfg)...)

	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, registry, notifier, limiter, logger, app.Options{
		AppURL:            cfg.AppURL,
		DefaultCurrency:   cfg.DefaultCurrency,
		PaymentInitLimit:  cfg.PaymentInitLimit,
		PaymentInitWindow: time.Duration(cfg.PaymentInitWindowSeconds) * time.Second,
	})

	var expireAfter time.Duration
	if cfg.PendingPaymentRetentionHrs > 0 {
		expireAfter = time.Duration(cfg.PendingPaymentRetentionHrs) * time.Hour
	}
	jobs := app.NewJobs(service, logger, app.JobsConfig{
		PendingAfter: time.Duration(cfg.ReconcilePendingAfterMins) * time.Minute,
		ExpireAfter:  expireAfter,
		BatchSize:    cfg.ReconcileBatchSize,
	})
	scheduler := app.NewScheduler(jobs, logger, cfg.ReconcileSchedule)
	if err := scheduler.Start(); err != nil {
		fatal(logger, "scheduler start failed", err)
	}

	var webhookLimiter *api.IPRateLimiter
	if cfg.WebhookRateLimitPerMinute > 0 {
		webhookLimiter = api.NewIPRateLimiter(cfg.WebhookRateLimitPerMinute, cfg.WebhookRateLimitPerMinute/2)
		defer webhookLimiter.Close()
	}

	if strings.TrimSpace(cfg.ClerkJWKSURL) == "" {
		logger.Warn("clerk jwks url missing; authenticated routes will reject every request", "component", "bootstrap", "env", "CLERK_JWKS_URL")
	}
	router := api.NewRouter(api.NewHandlers(service, logger), api.RouterConfig{
		Auth: api.ClerkAuthMiddleware(api.AuthConfig{
			JWKSURL:  cfg.ClerkJWKSURL,
			Audience: cfg.ClerkAudience,
			Issuer:   cfg.ClerkIssuer,
		}),
		AllowedOrigins: cfg.AllowedOrigins(),
		WebhookLimiter: webhookLimiter,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "component", "http", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server stopped unexpectedly", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started", "component", "http")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "component", "http", "err", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logger.Warn("reconciliation job still running at shutdown", "component", "scheduler")
	}

	logger.Info("shutdown complete", "component", "http")
}

// connectRedis returns nil when Redis is not configured or unreachable; payment
// initialization then runs without a rate limit.
func connectRedis(logger *slog.Logger, redisURL string) *redis.Client {
	if redisURL == "" {
		logger.Warn("redis url missing; payment rate limiting disabled", "component", "bootstrap", "env", "REDIS_URL")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; payment rate limiting disabled", "component", "bootstrap", "err", err)
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed; payment rate limiting disabled", "component", "bootstrap", "err", err)
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", "component", "bootstrap")
	return client
}

// configuredProviders registers only the providers whose credentials are present.
func configuredProviders(logger *slog.Logger, cfg config.Config) []app.PaymentProvider {
	var providers []app.PaymentProvider

	if cfg.FlutterwaveSecretKey != "" {
		providers = append(providers, &app.FlutterwaveProvider{
			Client:        flutterwave.NewClient(cfg.FlutterwaveBaseURL, cfg.FlutterwaveSecretKey),
			WebhookSecret: cfg.FlutterwaveWebhookSecret,
		})
	}
	if cfg.MonnifyAPIKey != "" && cfg.MonnifySecretKey != "" && cfg.MonnifyContractCode != "" {
		providers = append(providers, &app.MonnifyProvider{
			Client: monnify.NewClient(cfg.MonnifyBaseURL, cfg.MonnifyAPIKey, cfg.MonnifySecretKey, cfg.MonnifyContractCode),
		})
	}
	if cfg.StripeSecretKey != "" {
		providers = append(providers, &app.StripeProvider{
			Client:        stripe.NewClient(cfg.StripeBaseURL, cfg.StripeSecretKey),
			WebhookSecret: cfg.StripeWebhookSecret,
		})
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, string(p.Name()))
	}
	if len(names) == 0 {
		logger.Warn("no payment providers configured; payment endpoints will reject every request", "component", "bootstrap")
	} else {
		logger.Info("payment providers registered", "component", "bootstrap", "providers", names)
	}
	return providers
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "component", "bootstrap", "err", err)
	os.Exit(1)
}
