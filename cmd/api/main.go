package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/outboundlab/sequencer/internal/analytics"
	"github.com/outboundlab/sequencer/internal/config"
	"github.com/outboundlab/sequencer/internal/engine"
	"github.com/outboundlab/sequencer/internal/handler"
	"github.com/outboundlab/sequencer/internal/infra/postgresql"
	"github.com/outboundlab/sequencer/internal/infra/postgresql/migrations"
	infraredis "github.com/outboundlab/sequencer/internal/infra/redis"
	"github.com/outboundlab/sequencer/internal/observability"
	"github.com/outboundlab/sequencer/internal/repository"
	"github.com/outboundlab/sequencer/internal/sender"
	"github.com/outboundlab/sequencer/internal/service"
	"github.com/outboundlab/sequencer/internal/template"
	"github.com/outboundlab/sequencer/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	campaigns := repository.NewGormCampaignRepo(db)
	leads := repository.NewGormLeadRepo(db)
	enrollments := repository.NewGormEnrollmentRepo(db)
	queue := repository.NewGormQueueRepo(db)
	events := repository.NewGormEventRepo(db)
	suppressions := repository.NewGormSuppressionRepo(db)

	emailSender, err := buildSender(cfg)
	if err != nil {
		logger.Fatal("sender initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	tracker := template.NewTracker(cfg.TrackingBaseURL)
	limiter := infraredis.NewDailyCounter(rdb)

	eng := engine.New(
		campaigns, leads, enrollments, queue, events, suppressions,
		emailSender, limiter,
		engine.Options{
			ScanInterval: cfg.DispatchInterval(),
			BatchSize:    cfg.DispatchBatchSize,
			Workers:      cfg.DispatchWorkers,
			Retry:        engine.RetryPolicy{MaxRetries: cfg.MaxRetries},
			SendRate:     rate.Limit(cfg.SendRatePerSec),
			SendTimeout:  cfg.SendTimeout(),
			Tracker:      tracker,
			Metrics:      metrics,
		},
		logger.Named("engine"),
	)

	campaignService := service.NewCampaignService(
		campaigns, leads, enrollments, queue, suppressions, logger.Named("service"),
	)
	aggregator := analytics.NewAggregator(events)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger.Named("http")),
	})
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", metrics.FiberHandler())
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	handler.RegisterWebhookRoutes(app, eng, logger.Named("webhook"))
	if err := handler.RegisterCampaignRoutes(app, campaignService, aggregator, campaigns, leads, events); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("service exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildSender(cfg *config.Config) (sender.Sender, error) {
	switch cfg.SenderDriver {
	case "api":
		return sender.NewAPISender(cfg.SenderAPIURL, cfg.SenderAPIKey)
	case "smtp":
		return sender.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	default:
		return nil, fmt.Errorf("unknown sender driver %q", cfg.SenderDriver)
	}
}
