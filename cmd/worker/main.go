package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/robfig/cron/v3"

	"github.com/ghuser/toolcrib/pkg/app"
	"github.com/ghuser/toolcrib/pkg/cache"
	"github.com/ghuser/toolcrib/pkg/config"
	"github.com/ghuser/toolcrib/pkg/database"
	"github.com/ghuser/toolcrib/pkg/events"
	"github.com/ghuser/toolcrib/pkg/logger"
	"github.com/ghuser/toolcrib/pkg/notify"
	"github.com/ghuser/toolcrib/pkg/telemetry"
	inventorySvcs "github.com/ghuser/toolcrib/services/inventory/application/services"
	"github.com/ghuser/toolcrib/services/inventory/domain"
	inventoryEvents "github.com/ghuser/toolcrib/services/inventory/domain/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := config.ValidateForProduction(cfg); err != nil {
		slog.Error("production config validation failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	ctx := context.Background()

	otelShutdown, _, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(ctx) //nolint:errcheck

	if err := telemetry.SetupSentry(cfg, domain.KindOf); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer pool.Close()
	log.Info("database pool connected")

	eventBus, err := events.NewEventBus(cfg, log)
	if err != nil {
		log.Error("failed to setup event bus", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer eventBus.Close() //nolint:errcheck

	redisClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer redisClient.Close() //nolint:errcheck
	log.Info("redis connected")

	appConfig := &app.Application{
		Config:   cfg,
		Db:       pool,
		Logger:   log,
		EventBus: eventBus,
		Redis:    redisClient,
	}

	inventory, err := inventorySvcs.New(appConfig)
	if err != nil {
		log.Error("failed to wire inventory services", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	subCtx, cancelSubs := context.WithCancel(ctx)
	if err := registerSubscribers(subCtx, appConfig, inventory); err != nil {
		log.Error("failed to register subscribers", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	// A cold read model is rebuilt before the first request reads it.
	if n, err := inventory.ActiveLoans.Reconcile(ctx); err != nil {
		log.Warn("initial active loan reconcile failed", "error", err)
	} else {
		log.Info("active loans reconciled", "users", n)
	}

	sched, err := startJobs(ctx, cfg, log, inventory)
	if err != nil {
		log.Error("failed to schedule jobs", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	<-sched.Stop().Done()
	cancelSubs()
	if err := inventory.Close(10 * time.Second); err != nil {
		log.Warn("notification workers did not drain", "error", err)
	}

	// EventBus.Close() (via defer) waits up to 30s for in-flight handlers.
	log.Info("worker stopped")
}

// registerSubscribers wires all domain event handlers.
// Add new topics here as more services publish events.
func registerSubscribers(ctx context.Context, a *app.Application, inventory *inventorySvcs.Services) error {
	notifications, err := notificationHandler(a)
	if err != nil {
		return err
	}
	handlers := map[string]func(context.Context, *message.Message) error{
		inventoryEvents.TopicUsageChanged: inventory.ActiveLoans.HandleUsageChanged,
		inventoryEvents.TopicNotification: notifications,
	}

	topics := make([]string, 0, len(handlers))
	for topic, handler := range handlers {
		errCh, err := a.EventBus.Subscribe(ctx, topic, handler)
		if err != nil {
			return err
		}

		// Drain subscriber errors in background so the channel never blocks.
		go func(topic string) {
			for err := range errCh {
				a.Logger.ErrorContext(ctx, "subscriber error",
					"topic", topic,
					"error", err,
				)
				telemetry.CaptureError(ctx, fmt.Errorf("subscriber %s: %w", topic, err))
			}
		}(topic)
		topics = append(topics, topic)
	}

	a.Logger.Info("event subscribers registered", "topics", topics)
	return nil
}

// notificationHandler delivers notifications to the configured webhook, or
// only logs them when none is configured.
func notificationHandler(a *app.Application) (func(context.Context, *message.Message) error, error) {
	if a.Config.NotifyWebhookURL == "" {
		return func(ctx context.Context, msg *message.Message) error {
			a.Logger.InfoContext(ctx, "notification", "event_id", msg.Metadata.Get("event_id"), "payload", string(msg.Payload))
			return nil
		}, nil
	}
	hook, err := notify.NewWebhook(notify.WebhookConfig{
		URL:        a.Config.NotifyWebhookURL,
		MaxRetries: 3,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return hook.Handler(), nil
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// startJobs schedules the periodic reconcile of the active-loan read model
// and the overdue scan.
func startJobs(ctx context.Context, cfg *config.Config, log logger.Logger, inventory *inventorySvcs.Services) (*cron.Cron, error) {
	sched := cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser))

	jobs := []struct {
		name, spec string
		run        func(context.Context) (int, error)
	}{
		{"reconcile_active_loans", cfg.ReconcileSchedule, inventory.ActiveLoans.Reconcile},
		{"overdue_scan", cfg.OverdueScanSchedule, inventory.ActiveLoans.NotifyOverdue},
	}
	for _, j := range jobs {
		if _, err := sched.AddFunc(j.spec, job(ctx, log, j.name, j.run)); err != nil {
			return nil, err
		}
		log.Info("job scheduled", "job", j.name, "spec", j.spec)
	}

	sched.Start()
	return sched, nil
}

func job(ctx context.Context, log logger.Logger, name string, run func(context.Context) (int, error)) func() {
	return func() {
		defer func() {
			if err := recover(); err != nil {
				log.Error("job panicked", "job", name, "panic", err)
				telemetry.CaptureError(ctx, fmt.Errorf("job %s panicked: %v", name, err))
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		n, err := run(ctx)
		if err != nil {
			log.ErrorContext(ctx, "job failed", "job", name, "error", err)
			telemetry.CaptureError(ctx, fmt.Errorf("job %s: %w", name, err))
			return
		}
		log.InfoContext(ctx, "job finished", "job", name, "count", n)
	}
}
