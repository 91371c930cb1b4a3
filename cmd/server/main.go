package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/database"
	"github.com/atakanuz/gatekeeper/internal/groupapi"
	"github.com/atakanuz/gatekeeper/internal/handlers"
	"github.com/atakanuz/gatekeeper/internal/logging"
	"github.com/atakanuz/gatekeeper/internal/middleware"
	"github.com/atakanuz/gatekeeper/internal/provider"
	"github.com/atakanuz/gatekeeper/internal/routes"
	"github.com/atakanuz/gatekeeper/internal/scheduler"
	"github.com/atakanuz/gatekeeper/internal/services"
	"github.com/atakanuz/gatekeeper/internal/store"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Community registry
	registry, err := community.LoadFromFile(cfg.CommunitiesConfigPath)
	if err != nil {
		slog.Error("failed to load community registry", "path", cfg.CommunitiesConfigPath, "error", err)
		os.Exit(1)
	}
	slog.Info("community registry loaded", "communities", len(registry.All()))

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, 30*24*time.Hour, cleanupDone)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Payment gateway
	gateway, err := provider.New(cfg)
	if err != nil {
		slog.Error("payment gateway setup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("payment gateway ready", "provider", gateway.Name())

	// Group platform client
	var groupClient groupapi.Client
	var notifier groupapi.Notifier
	if cfg.TelegramBotToken != "" {
		tg := groupapi.NewTelegramClient(cfg.TelegramBotToken, cfg.GroupAPITimeout)
		groupClient = tg
		notifier = tg
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN not set, membership sync will fail until configured")
		groupClient = groupapi.Unconfigured{}
	}

	// Services
	repo := store.NewRepository(database.DB)
	planService := services.NewPlanService(repo, registry, cfg)
	engine := services.NewLifecycleEngine(repo, gateway, planService, cfg)
	reconciler := services.NewReconcilerService(engine, gateway, registry, repo)
	membership := services.NewMembershipService(repo, groupClient, registry, cfg)
	sweeper := services.NewSweeperService(repo, engine, gateway, notifier, cfg)

	// Handlers
	healthHandler := handlers.NewHealthHandler(registry)
	webhookHandler := handlers.NewWebhookHandler(reconciler, gateway, registry)
	subscriptionHandler := handlers.NewSubscriptionHandler(engine)
	adminHandler := handlers.NewAdminHandler(planService, membership)

	// Background jobs
	jobs, err := scheduler.New(cfg, sweeper, membership)
	if err != nil {
		slog.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}
	jobs.Start()

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})
	// Routes
	routes.Setup(app, cfg, registry, healthHandler, webhookHandler, subscriptionHandler, adminHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	// Stop scheduling and wait for in-flight jobs before closing anything
	// they depend on.
	<-jobs.Stop().Done()

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
