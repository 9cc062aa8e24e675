package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/broadcast-engine/internal/config"
	"github.com/kursadbilgin/broadcast-engine/internal/handler"
	"github.com/kursadbilgin/broadcast-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/broadcast-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/broadcast-engine/internal/infra/redis"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"github.com/kursadbilgin/broadcast-engine/internal/service"
	"github.com/kursadbilgin/broadcast-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "api",
	})
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, cfg.PostgresPool())
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL, cfg.RedisPoolSize)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	notifications := repository.NewGormNotificationRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	publisher := queue.NewRabbitMQPublisher(rabbit)

	notificationService, err := service.NewNotificationService(notifications, deliveries, publisher, logger)
	if err != nil {
		logger.Fatal("notification service init failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		AppName:      "broadcast-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("broadcast-engine api started", zap.Int("port", cfg.APIPort))

	select {
	case err := <-listenErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
	}
}
