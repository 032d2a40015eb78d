package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whiskertales/backend/internal/clients/gcp"
	"github.com/whiskertales/backend/internal/clients/openai"
	redisclient "github.com/whiskertales/backend/internal/clients/redis"
	"github.com/whiskertales/backend/internal/clients/sendgrid"
	"github.com/whiskertales/backend/internal/db"
	"github.com/whiskertales/backend/internal/jobs"
	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/services"
	"github.com/whiskertales/backend/internal/temporalx"
	"github.com/whiskertales/backend/internal/utils"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	emailEnabled := utils.GetEnvAsBool("EMAIL_NOTIFICATIONS_ENABLED", false, log)
	analyticsEnabled := utils.GetEnvAsBool("ANALYTICS_ENABLED", true, log)
	analyticsAnonymize := utils.GetEnvAsBool("ANALYTICS_ANONYMIZE", false, log)
	defaultModel := utils.GetEnv("SIMPLIFY_DEFAULT_MODEL", "gpt-4o-mini", log)

	lifecycleCfg := services.LifecycleConfig{
		TrackProcessingMetrics:    utils.GetEnvAsBool("TRACK_PROCESSING_METRICS", true, log),
		EmailNotificationsEnabled: emailEnabled,
		ArchiveRetentionDays:      utils.GetEnvAsInt("ARCHIVE_RETENTION_DAYS", 90, log),
		CleanupDelay:              time.Duration(utils.GetEnvAsInt("CLEANUP_DELAY_SECONDS", 600, log)) * time.Second,
		ExtractDispatchDelay:      time.Duration(utils.GetEnvAsInt("EXTRACT_DISPATCH_DELAY_SECONDS", 5, log)) * time.Second,
		FailureAlertThreshold:     utils.GetEnvAsInt("FAILURE_ALERT_THRESHOLD", 5, log),
	}

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	thePG := postgresService.DB()

	cache, err := redisclient.NewCache(log)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}
	defer cache.Close()

	store, err := gcp.NewBucketStore(log)
	if err != nil {
		log.Fatal("Bucket store init failed", "error", err)
	}

	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Fatal("Temporal init failed", "error", err)
	}
	if temporalClient == nil {
		log.Fatal("TEMPORAL_ADDRESS must be set for the worker")
	}
	defer temporalClient.Close()
	dispatcher := services.NewTemporalDispatcher(log, temporalClient, temporalx.LoadConfig().TaskQueue)

	userRepo := repos.NewUserRepo(thePG, log)
	userEventRepo := repos.NewUserEventRepo(thePG, log)
	documentRepo := repos.NewDocumentRepo(thePG, log)
	simplificationRepo := repos.NewSimplificationRepo(thePG, log)

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}
	var mailer sendgrid.Client
	if emailEnabled {
		mailer, err = sendgrid.NewFromEnv(log)
		if err != nil {
			log.Fatal("SendGrid init failed", "error", err)
		}
	}

	analyticsService := services.NewAnalyticsService(thePG, log, userEventRepo, analyticsEnabled, analyticsAnonymize)
	statsService := services.NewStatsService(thePG, log, documentRepo, cache)
	lifecycle := services.NewLifecycleManager(log, cache, store, dispatcher, statsService, analyticsService, lifecycleCfg)
	fileService := services.NewFileService(log, store)
	extractionService := services.NewExtractionService(thePG, log, documentRepo, fileService, lifecycle)
	simplificationService := services.NewSimplificationService(thePG, log, simplificationRepo, documentRepo, openaiClient, dispatcher, lifecycle, analyticsService, defaultModel)
	notifierService := services.NewNotifierService(thePG, log, userRepo, documentRepo, mailer, emailEnabled)

	runner, err := jobs.NewRunner(log, temporalClient, &jobs.Activities{
		Log:             log,
		Documents:       documentRepo,
		Files:           fileService,
		Extraction:      extractionService,
		Simplifications: simplificationService,
		Notifier:        notifierService,
	})
	if err != nil {
		log.Fatal("Worker init failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		log.Fatal("Worker start failed", "error", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Worker shutting down...")
	cancel()
}
