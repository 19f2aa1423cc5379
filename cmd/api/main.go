package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/itsm-sla/internal/api/http"
	"github.com/spec-kit/itsm-sla/internal/api/http/handlers"
	"github.com/spec-kit/itsm-sla/internal/auth"
	"github.com/spec-kit/itsm-sla/internal/cache"
	"github.com/spec-kit/itsm-sla/internal/config"
	"github.com/spec-kit/itsm-sla/internal/events"
	"github.com/spec-kit/itsm-sla/internal/notify"
	"github.com/spec-kit/itsm-sla/internal/observability"
	"github.com/spec-kit/itsm-sla/internal/persistence"
	"github.com/spec-kit/itsm-sla/internal/repository"
	"github.com/spec-kit/itsm-sla/internal/service"
	"github.com/spec-kit/itsm-sla/internal/sla"
	"github.com/spec-kit/itsm-sla/internal/worker"
)

type repositories struct {
	tickets repository.TicketRepository
	history repository.TicketHistoryRepository
	timers  repository.TimerRepository
	configs repository.SlaConfigRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	repos := newRepositories(pg)
	configCache := cache.NewConfigCache(repos.configs, redis.Handle(), cfg.SLA.ConfigCacheTTL(), logger)

	var business sla.Calendar
	if cfg.BusinessHours.Enabled {
		calendar, err := sla.NewBusinessCalendar(cfg.BusinessHours)
		if err != nil {
			logger.Fatal("failed to build business calendar", zap.Error(err))
		}
		business = calendar
	}

	dispatcher := events.NewInMemoryDispatcher()
	registry := sla.NewRegistry(sla.RegistryDependencies{
		Tickets:    repos.tickets,
		Timers:     repos.timers,
		Configs:    configCache,
		Calculator: sla.NewCalculator(business, cfg.SLA.WarningThreshold()),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	trigger := sla.NewTrigger(sla.TriggerDependencies{
		Tickets:    repos.tickets,
		Registry:   registry,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.tickets,
		HistoryRepo: repos.history,
		Registry:    registry,
		Trigger:     trigger,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	configService := service.NewSlaConfigService(repos.configs, configCache, logger)

	var sink notify.Sink = notify.LogSink{Logger: logger}
	if cfg.Notification.WebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.Notification, logger)
	}
	notificationWorker := worker.NewNotificationWorker(sink, cfg.Notification.QueueSize, metrics, logger)
	worker.StartNotificationWorker(ctx, service.NewNotificationService(dispatcher, notificationWorker, logger), notificationWorker)

	sweeper := worker.NewSLASweeper(worker.SweeperDependencies{
		Tickets:   repos.tickets,
		Registry:  registry,
		Trigger:   trigger,
		Redis:     redis.Handle(),
		Metrics:   metrics,
		Logger:    logger,
		Schedule:  cfg.SLA.EvaluationSchedule,
		BatchSize: cfg.SLA.SweepBatchSize,
		LockTTL:   cfg.SLA.SweepLockTTL(),
		ClosedLag: cfg.SLA.SweepClosedLag(),
	})
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		if err := sweeper.Run(ctx); err != nil {
			logger.Fatal("sla sweeper", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Timers:         handlers.NewSLATimersHandler(registry),
		Configs:        handlers.NewSLAConfigsHandler(configService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-sweeperDone
	notificationWorker.Wait()
}

func newRepositories(pg *persistence.Postgres) repositories {
	pool := pg.PoolHandle()
	if pool == nil {
		tickets := repository.NewMemoryTicketRepository()
		return repositories{
			tickets: tickets,
			history: tickets.History(),
			timers:  repository.NewMemoryTimerRepository(),
			configs: repository.NewMemorySlaConfigRepository(),
		}
	}
	return repositories{
		tickets: repository.NewTicketRepository(pool),
		history: repository.NewTicketHistoryRepository(pool),
		timers:  repository.NewTimerRepository(pool),
		configs: repository.NewSlaConfigRepository(pool),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
