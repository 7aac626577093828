package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/notifykit/notifykit/api/rest"
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

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Notification Engine API")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize metrics
	metrics := monitoring.NewMetrics()
	logger.Info("Metrics initialized")

	// Connect to PostgreSQL
	postgres, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	// Initialize database schema
	if err := postgres.InitSchema(); err != nil {
		logger.Fatal("Failed to initialize database schema", zap.Error(err))
	}
	logger.Info("Database connected and schema initialized")

	// Connect to Redis
	redis, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Redis connected")

	// Initialize Kafka producer for scheduled notifications
	producer := queue.NewProducer(cfg.Kafka, logger)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	store := storage.NewPostgresStore(postgres)

	// Preference resolver with redis read-through cache
	resolver := preference.NewResolver(store,
		preference.WithCache(redis),
		preference.WithDefaultChannels(notification.ParseChannels(cfg.Defaults.Channels)),
		preference.WithLogger(logger),
	)

	// Provider registry, populated once at startup
	registry := buildRegistry(cfg, store, redis, logger)

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
		notification.WithSchedulePublisher(producer),
		notification.WithServiceLogger(logger),
	)
	logger.Info("Notification service initialized")

	// Initialize REST API handler
	handler := rest.NewHandler(service, resolver, metrics, logger)
	router := handler.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Start metrics server if enabled
	if cfg.Metrics.Enabled {
		metricsServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}

		go func() {
			logger.Info("Starting metrics server", zap.Int("port", cfg.Metrics.Port))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildRegistry wires the enabled channel providers.
func buildRegistry(cfg *config.Config, store *storage.PostgresStore, redis *database.RedisClient, logger *zap.Logger) *dispatch.Registry {
	registry := dispatch.NewRegistry(providers.NewInAppProvider(redis))

	if cfg.Providers.SendGrid.Enabled {
		registry.Register(providers.NewEmailProvider(cfg.Providers.SendGrid, logger))
		logger.Info("Email provider enabled")
	}
	if cfg.Providers.Firebase.Enabled {
		push, err := providers.NewPushProvider(context.Background(), cfg.Providers.Firebase, store, logger)
		if err != nil {
			logger.Fatal("Failed to initialize push provider", zap.Error(err))
		}
		registry.Register(push)
		logger.Info("Push provider enabled")
	}
	if cfg.Providers.Webhook.Enabled {
		registry.Register(providers.NewWebhookProvider(cfg.Providers.Webhook, store, logger))
		logger.Info("Webhook provider enabled")
	}
	if cfg.Providers.Chat.Enabled {
		registry.Register(providers.NewChatProvider(cfg.Providers.Chat, logger))
		logger.Info("Chat provider enabled")
	}

	return registry
}
