package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/database"
	"github.com/notifykit/notifykit/internal/deliverylog"
	"github.com/notifykit/notifykit/internal/dispatch"
	"github.com/notifykit/notifykit/internal/monitoring"
	"github.com/notifykit/notifykit/internal/notification"
	"github.com/notifykit/notifykit/internal/preference"
	"github.com/notifykit/notifykit/internal/providers"
	"github.com/notifykit/notifykit/internal/queue"
	"github.com/notifykit/notifykit/internal/storage"
)

const (
	// scanInterval bounds how late a dispatch can be when its queue
	// announcement was lost or arrived before it was due.
	scanInterval  = 30 * time.Second
	scanBatchSize = 100
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Scheduler Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize metrics
	metrics := monitoring.NewMetrics()

	// Connect to PostgreSQL
	postgres, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	// Connect to Redis
	redis, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()

	store := storage.NewPostgresStore(postgres)

	resolver := preference.NewResolver(store,
		preference.WithCache(redis),
		preference.WithDefaultChannels(notification.ParseChannels(cfg.Defaults.Channels)),
		preference.WithLogger(logger),
	)

	registry := dispatch.NewRegistry(providers.NewInAppProvider(redis))
	if cfg.Providers.SendGrid.Enabled {
		registry.Register(providers.NewEmailProvider(cfg.Providers.SendGrid, logger))
	}
	if cfg.Providers.Firebase.Enabled {
		push, err := providers.NewPushProvider(context.Background(), cfg.Providers.Firebase, store, logger)
		if err != nil {
			logger.Fatal("Failed to initialize push provider", zap.Error(err))
		}
		registry.Register(push)
	}
	if cfg.Providers.Webhook.Enabled {
		registry.Register(providers.NewWebhookProvider(cfg.Providers.Webhook, store, logger))
	}
	if cfg.Providers.Chat.Enabled {
		registry.Register(providers.NewChatProvider(cfg.Providers.Chat, logger))
	}

	dispatcher := dispatch.NewDispatcher(registry, deliverylog.NewRecorder(store),
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(logger),
	)

	service := notification.NewService(store, resolver, dispatcher,
		notification.ServiceConfig{
			DefaultChannels:       notification.ParseChannels(cfg.Defaults.Channels),
			DefaultExpirationDays: cfg.Defaults.ExpirationDays,
			MaxBatchSize:          cfg.Limits.MaxBatchSize,
		},
		notification.WithServiceLogger(logger),
	)

	// Initialize Kafka consumer
	consumer := queue.NewConsumer(cfg.Kafka, "scheduler-service", logger)
	defer consumer.Close()
	logger.Info("Kafka consumer initialized")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fast path: dispatch announcements that are already due. Not-yet-due
	// messages are acknowledged and left to the periodic scan, so one
	// far-future message never blocks the topic.
	go func() {
		logger.Info("Starting to consume scheduled notifications")
		err := consumer.Consume(ctx, func(msg queue.ScheduledMessage) error {
			return processScheduled(ctx, msg, service, logger)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Consumer error", zap.Error(err))
		}
	}()

	// Durable path: periodically scan queued rows whose scheduled instant has
	// passed. This also recovers announcements lost to crashes or a down
	// broker.
	go func() {
		ticker := time.NewTicker(scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				processed, err := service.DispatchDue(ctx, scanBatchSize)
				if err != nil {
					logger.Error("Due-notification scan failed", zap.Error(err))
					continue
				}
				if processed > 0 {
					logger.Info("Dispatched due notifications", zap.Int("count", processed))
				}
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler service...")
	cancel()

	// Give some time for graceful shutdown
	time.Sleep(5 * time.Second)
	logger.Info("Scheduler service exited")
}

// processScheduled replays the dispatch pipeline for an announced
// notification if it is already due. Not-yet-due announcements are left to
// the periodic scan; the queued row is the durable record, not the message.
func processScheduled(
	ctx context.Context,
	msg queue.ScheduledMessage,
	service *notification.Service,
	logger *zap.Logger,
) error {
	n, err := service.DispatchQueued(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, notification.ErrNotDue) {
			logger.Debug("Scheduled notification not due yet, leaving it to the scan",
				zap.String("id", msg.NotificationID),
				zap.Time("scheduled_for", msg.ScheduledFor),
			)
			return nil
		}
		if errors.Is(err, notification.ErrNotFound) {
			// Deleted while queued; nothing to do
			logger.Info("Queued notification no longer exists", zap.String("id", msg.NotificationID))
			return nil
		}
		return err
	}

	logger.Info("Scheduled notification dispatched",
		zap.String("id", n.ID),
		zap.String("status", string(n.Status)),
	)
	return nil
}
