package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/broadcast-engine/internal/config"
	"github.com/kursadbilgin/broadcast-engine/internal/directory"
	"github.com/kursadbilgin/broadcast-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/broadcast-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/broadcast-engine/internal/infra/redis"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/payload"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/ratelimit"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"github.com/kursadbilgin/broadcast-engine/internal/service"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"
)

const (
	graphScope      = "https://graph.microsoft.com/.default"
	scanLimit       = 100
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "worker",
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

	redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, infraredis.Limits{
		Default:  cfg.DirectoryRateLimit,
		PerScope: map[string]int{ratelimit.ScopeDirectoryInstall: cfg.InstallRateLimit},
	})
	if err != nil {
		logger.Fatal("directory rate limiter init failed", zap.Error(err))
	}
	limiter := ratelimit.Chain{
		ratelimit.NewLocalLimiter(cfg.DirectoryRateLimit, cfg.DirectoryRateLimit),
		redisLimiter,
	}

	credentials := clientcredentials.Config{
		ClientID:     cfg.DirectoryClientID,
		ClientSecret: cfg.DirectoryClientSecret,
		TokenURL:     cfg.TokenURL(),
		Scopes:       []string{graphScope},
	}
	graph, err := directory.NewGraphClient(cfg.DirectoryBaseURL, cfg.BotServiceURL, credentials.Client(ctx))
	if err != nil {
		logger.Fatal("directory client init failed", zap.Error(err))
	}
	dir := directory.NewProtected(graph, limiter, directory.BreakerConfig{
		TripFailures: cfg.CircuitTripFailures,
		OpenTimeout:  cfg.CircuitOpen(),
	}, logger)

	notifications := repository.NewGormNotificationRepo(db)
	deliveries := repository.NewGormDeliveryRepo(db)
	users := repository.NewGormUserRepo(db)
	teams := repository.NewGormTeamRepo(db)
	payloads := payload.NewStore(repository.NewGormPayloadRepo(db))

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	metrics := observability.NewMetrics()

	resolver := service.NewAudienceResolver(
		notifications, deliveries, users, teams, dir,
		infraredis.NewDeltaCursorStore(rdb, infraredis.UsersDeltaCursorKey),
		logger,
	)
	resolver.SetMetrics(metrics)

	refresher := service.NewConversationRefresher(deliveries)
	installer := service.NewInstallCoordinator(deliveries, users, teams, dir, refresher, service.InstallConfig{
		Enabled:     cfg.ProactiveInstallEnabled,
		AppID:       cfg.TeamsAppID,
		Wait:        cfg.InstallWait(),
		MaxRounds:   cfg.InstallMaxRounds,
		Concurrency: cfg.InstallConcurrency,
		PageSize:    cfg.InstallPageSize,
		PageCount:   cfg.InstallPageCount,
	}, cfg.BotServiceURL, logger)
	installer.SetMetrics(metrics)

	dispatcher := service.NewSendDispatcher(deliveries, publisher, cfg.SendBatchSize, logger)
	dispatcher.SetMetrics(metrics)

	aggregator := service.NewStatusAggregator(notifications, deliveries, logger)
	aggregator.SetMetrics(metrics)

	orchestrator := service.NewOrchestrator(
		notifications, deliveries, resolver, installer, refresher,
		payload.NewBuilder(), payloads, dispatcher, aggregator,
		cfg.ActivityMaxAttempts, logger,
	)
	orchestrator.SetMetrics(metrics)

	prepareWorker, err := service.NewPrepareWorker(consumer, orchestrator, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("prepare worker init failed", zap.Error(err))
	}
	prepareWorker.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(notifications, publisher, cfg.SchedulerInterval(), scanLimit, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}

	scanner, err := service.NewAggregationScanner(
		notifications, aggregator, cfg.AggregationInterval(), cfg.ForceCompleteAfter(), scanLimit, logger,
	)
	if err != nil {
		logger.Fatal("aggregation scanner init failed", zap.Error(err))
	}

	syncJob, err := service.NewDirectorySyncJob(resolver, cfg.DirectorySyncCron, logger)
	if err != nil {
		logger.Fatal("directory sync job init failed", zap.Error(err))
	}

	metricsApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	metricsApp.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return prepareWorker.Start(groupCtx) })
	g.Go(func() error { return scheduler.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error { return syncJob.Start(groupCtx) })
	g.Go(func() error {
		return metricsApp.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return metricsApp.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("broadcast-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}

	logger.Info("broadcast-engine worker stopped")
}
