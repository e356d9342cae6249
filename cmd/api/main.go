package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/api/handlers"
	"github.com/procureflow/backend/internal/cache/redis"
	"github.com/procureflow/backend/internal/compare"
	"github.com/procureflow/backend/internal/llm"
	"github.com/procureflow/backend/internal/mail"
	"github.com/procureflow/backend/internal/metrics"
	"github.com/procureflow/backend/internal/reconcile"
	"github.com/procureflow/backend/internal/storage/sqlite"
	"github.com/procureflow/backend/pkg/config"
	appLogger "github.com/procureflow/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ProcureFlow API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cacheClient *redis.Client
	if cfg.Redis.Enabled {
		cacheClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.CacheTTL)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, structuring cache disabled", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Models,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	notifier := mail.NewNotifier(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.User,
		cfg.SMTP.Password,
		cfg.SMTP.FromName,
	)

	if err := notifier.Verify(); err != nil {
		appLogger.Warn("SMTP verification failed, sends may not work", zap.Error(err))
	}

	mailbox := mail.NewIMAPMailbox(
		cfg.IMAP.Host,
		cfg.IMAP.Port,
		cfg.IMAP.User,
		cfg.IMAP.Password,
		cfg.IMAP.Mailbox,
	)

	reconciler := reconcile.NewReconciler(sqliteClient, mailbox, cfg.IMAP.FetchLimit)
	compareEngine := compare.NewEngine(sqliteClient, llmClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	rfpHandler := handlers.NewRFPHandler(sqliteClient, llmClient, notifier, reconciler, compareEngine, cacheClient)
	vendorHandler := handlers.NewVendorHandler(sqliteClient)
	emailHandler := handlers.NewEmailHandler(sqliteClient, llmClient)
	watchHandler := handlers.NewWatchHandler(sqliteClient)

	api := app.Group("/api/v1")

	api.Get("/rfp", rfpHandler.List)
	api.Post("/rfp", rfpHandler.Create)
	api.Get("/rfp/:id", rfpHandler.Get)
	api.Delete("/rfp/:id", rfpHandler.Delete)

	api.Post("/rfp/generate-from-text", rfpHandler.GenerateFromText)
	api.Put("/rfp/:id/describe", rfpHandler.Describe)
	api.Put("/rfp/:id/review", rfpHandler.Review)
	api.Post("/rfp/:id/send-to-vendors", rfpHandler.SendToVendors)
	api.Get("/rfp/:id/responses", rfpHandler.GetResponses)
	api.Post("/rfp/:id/poll-inbox", rfpHandler.PollInbox)
	api.Post("/rfp/:id/compare", rfpHandler.CompareQuotes)
	api.Put("/rfp/:id/status", rfpHandler.UpdateStatus)
	api.Post("/rfp/:id/complete", rfpHandler.Complete)

	api.Post("/emails/process", emailHandler.Process)

	api.Get("/vendors", vendorHandler.List)
	api.Post("/vendors", vendorHandler.Create)
	api.Get("/vendors/:id", vendorHandler.Get)
	api.Put("/vendors/:id", vendorHandler.Update)
	api.Delete("/vendors/:id", vendorHandler.Delete)

	api.Use("/rfp/:id/watch", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/rfp/:id/watch", websocket.New(watchHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
