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

	"github.com/azure/mentions-autoreply-bot/internal/api"
	"github.com/azure/mentions-autoreply-bot/internal/audit"
	"github.com/azure/mentions-autoreply-bot/internal/config"
	"github.com/azure/mentions-autoreply-bot/internal/dispatch"
	"github.com/azure/mentions-autoreply-bot/internal/engagement"
	"github.com/azure/mentions-autoreply-bot/internal/notifications"
	"github.com/azure/mentions-autoreply-bot/internal/scheduler"
	"github.com/azure/mentions-autoreply-bot/internal/sender"
	"github.com/azure/mentions-autoreply-bot/internal/sources"
	"github.com/azure/mentions-autoreply-bot/internal/storage"
	"github.com/azure/mentions-autoreply-bot/internal/store"
	"github.com/azure/mentions-autoreply-bot/internal/throttle"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting Mentions Auto-Reply Bot")

	// Persistence
	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	throttleStore, closeThrottle, err := newThrottleStore(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize throttle store: %v", err)
	}
	defer closeThrottle()

	// Report archive is optional
	var archive storage.Archive
	if cfg.StorageAccount != "" {
		azureArchive, err := storage.NewAzureArchive(context.Background(), cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize storage: %v", err)
		}
		archive = azureArchive
	} else {
		logrus.Info("AZURE_STORAGE_ACCOUNT not set, reports will not be archived")
	}

	// Initialize notification services
	var notifier notifications.NotificationInterface
	if svc := notifications.NewService(cfg); svc.Enabled() {
		notifier = svc
	} else {
		logrus.Info("No notification channel configured, alerts and reports are only logged")
	}

	var replySender dispatch.Sender = sender.NewTwitterSender(cfg.TwitterAPIBaseURL, cfg.ReplyToken())
	if cfg.DryRun {
		logrus.Warn("DRY_RUN enabled, replies are logged and not posted")
		replySender = sender.LogSender{}
	}

	dispatcher := dispatch.NewDispatcher(st, throttle.NewGuard(throttleStore), replySender, cfg.SendTimeout)
	aggregator := audit.NewAggregator(st, st)
	reporter := audit.NewReporter(aggregator, notifier, archive, cfg.ReportRetention)

	engagementService := engagement.NewService(cfg, st, dispatcher, aggregator, notifier,
		sources.NewTwitterSource(cfg.TwitterAPIBaseURL, cfg.TwitterBearerToken, cfg.TwitterUserID))

	// Initialize scheduler
	schedulerService := scheduler.NewService(cfg, engagementService, reporter)

	// Start scheduler
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	// Set up HTTP server for health checks, metrics and dry-runs
	handler := api.NewHandler(engagementService, st, aggregator)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func newThrottleStore(cfg *config.Config) (throttle.Store, func(), error) {
	if cfg.ThrottleBackend == "redis" {
		rs, err := throttle.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				logrus.Warnf("Failed to close redis client: %v", err)
			}
		}, nil
	}
	return throttle.NewMemoryStore(), func() {}, nil
}
