package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-reward-system/config"
	"shop-reward-system/game"
	"shop-reward-system/handlers"
	"shop-reward-system/middleware"
	"shop-reward-system/mq"
	"shop-reward-system/services"
	"shop-reward-system/utils"
	"shop-reward-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ invalid configuration: %v", err)
	}

	logger, closeLogs, err := utils.NewLogger(cfg.LogLevel, cfg.ElasticURL, cfg.ServiceName, cfg.ServerID)
	if err != nil {
		log.Fatalf("❌ failed to build logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = closeLogs(flushCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Reward store ---
	var (
		store   services.RewardStore
		backend *services.MemoryBackend
	)
	switch cfg.RewardStore {
	case "memory":
		backend = services.NewMemoryBackend()
		store = services.NewMemoryRewardStore(backend)
		logger.Warn("⚠️ using in-memory reward store, purchases are not persisted")
	default:
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		gormStore, err := services.OpenGormRewardStore(openCtx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		cancel()
		if err != nil {
			// Keep the server up: claims fail with store_unavailable until restart.
			logger.Error("❌ shop database unreachable, reward claims disabled", zap.Error(err))
			store = services.UnavailableStore{Cause: err}
			break
		}
		if cfg.Database.AutoMigrate {
			if err := gormStore.AutoMigrate(); err != nil {
				logger.Fatal("❌ failed to migrate database", zap.Error(err))
			}
		}
		store = gormStore
	}

	// --- Game world ---
	world := game.NewWorld(logger)
	worldCtx, stopWorld := context.WithCancel(context.Background())
	go world.Run(worldCtx)

	metrics := services.NewMetrics()

	var reports services.ReportSink
	if cfg.R2.Enabled() {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2.AccountID, cfg.R2.AccessKeyID, cfg.R2.AccessKeySecret, cfg.R2.Bucket, cfg.R2.CDNBaseURL)
		if err != nil {
			logger.Error("❌ failed to initialize R2 client, remediation reports go to logs only", zap.Error(err))
		} else {
			reports = uploader
		}
	}

	var (
		events    services.ClaimEventPublisher
		publisher *mq.RabbitmqPublisher
	)
	if cfg.MqURL != "" {
		publisher, err = mq.NewRabbitmqPublisher(mq.RabbitMqConfig{URL: cfg.MqURL})
		if err != nil {
			logger.Error("❌ failed to connect to rabbitmq, claim events disabled", zap.Error(err))
		} else {
			events = publisher
		}
	}

	engine := services.NewClaimEngine(services.ClaimEngineDeps{
		ServerID:  cfg.ServerID,
		Store:     store,
		Inventory: world,
		Presence:  world,
		Host:      world,
		Notifier:  world,
		Events:    events,
		Reports:   reports,
		Metrics:   metrics,
		Logger:    logger,
	})

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	// 🔐 Only gateway requests, health checks excepted
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, logger, handlers.HealthPaths...))

	handlers.SetupHealthRoutes(app, store, metrics, logger)
	handlers.SetupPlayerRoutes(app, world, engine, handlers.NewClaimCooldown(cfg.ClaimCooldown), logger)
	handlers.SetupAdminRoutes(app, engine, backend, logger)

	// --- Periodic check ---
	var checker *workers.RewardCheckWorker
	if cfg.CheckEnabled {
		checker, err = workers.NewRewardCheckWorker(world, engine, cfg.CheckInterval, logger)
		if err != nil {
			logger.Fatal("❌ failed to create reward check worker", zap.Error(err))
		}
		if err := checker.Start(); err != nil {
			logger.Fatal("❌ failed to start reward check worker", zap.Error(err))
		}
	}

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ shop reward service running",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("server_id", cfg.ServerID),
		zap.String("store", cfg.RewardStore),
		zap.Bool("periodic_check", cfg.CheckEnabled),
		zap.Duration("check_interval", cfg.CheckInterval))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if checker != nil {
		if err := checker.Shutdown(); err != nil {
			logger.Warn("reward check worker shutdown", zap.Error(err))
		}
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("claim engine shutdown", zap.Error(err))
	}
	stopWorld()
	<-world.Done()
	if err := store.Close(); err != nil {
		logger.Warn("closing reward store", zap.Error(err))
	}
	if publisher != nil {
		publisher.Close()
	}
	logger.Info("👋 shutdown complete")
}
