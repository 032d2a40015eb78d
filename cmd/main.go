package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whiskertales/backend/internal/clients/gcp"
	"github.com/whiskertales/backend/internal/clients/openai"
	redisclient "github.com/whiskertales/backend/internal/clients/redis"
	"github.com/whiskertales/backend/internal/db"
	"github.com/whiskertales/backend/internal/handlers"
	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/middleware"
	"github.com/whiskertales/backend/internal/repos"
	"github.com/whiskertales/backend/internal/server"
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

	// Env
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 900, log)
	refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 2592000, log)
	maxUploadBytes := utils.GetEnvAsInt("MAX_UPLOAD_BYTES", 50<<20, log)
	defaultModel := utils.GetEnv("SIMPLIFY_DEFAULT_MODEL", "gpt-4o-mini", log)
	analyticsEnabled := utils.GetEnvAsBool("ANALYTICS_ENABLED", true, log)
	analyticsAnonymize := utils.GetEnvAsBool("ANALYTICS_ANONYMIZE", false, log)

	lifecycleCfg := services.LifecycleConfig{
		TrackProcessingMetrics:    utils.GetEnvAsBool("TRACK_PROCESSING_METRICS", true, log),
		EmailNotificationsEnabled: utils.GetEnvAsBool("EMAIL_NOTIFICATIONS_ENABLED", false, log),
		ArchiveRetentionDays:      utils.GetEnvAsInt("ARCHIVE_RETENTION_DAYS", 90, log),
		CleanupDelay:              time.Duration(utils.GetEnvAsInt("CLEANUP_DELAY_SECONDS", 600, log)) * time.Second,
		ExtractDispatchDelay:      time.Duration(utils.GetEnvAsInt("EXTRACT_DISPATCH_DELAY_SECONDS", 5, log)) * time.Second,
		FailureAlertThreshold:     utils.GetEnvAsInt("FAILURE_ALERT_THRESHOLD", 5, log),
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Cache + storage + queue
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
	if temporalClient != nil {
		defer temporalClient.Close()
	}
	dispatcher := services.NewTemporalDispatcher(log, temporalClient, temporalx.LoadConfig().TaskQueue)

	// Repos
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	userEventRepo := repos.NewUserEventRepo(thePG, log)
	documentRepo := repos.NewDocumentRepo(thePG, log)
	simplificationRepo := repos.NewSimplificationRepo(thePG, log)

	// Services
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}
	analyticsService := services.NewAnalyticsService(thePG, log, userEventRepo, analyticsEnabled, analyticsAnonymize)
	statsService := services.NewStatsService(thePG, log, documentRepo, cache)
	lifecycle := services.NewLifecycleManager(log, cache, store, dispatcher, statsService, analyticsService, lifecycleCfg)
	fileService := services.NewFileService(log, store)
	documentService := services.NewDocumentService(thePG, log, documentRepo, fileService, lifecycle, int64(maxUploadBytes))
	simplificationService := services.NewSimplificationService(thePG, log, simplificationRepo, documentRepo, openaiClient, dispatcher, lifecycle, analyticsService, defaultModel)
	authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, jwtSecretKey,
		time.Duration(accessTokenTTL)*time.Second, time.Duration(refreshTokenTTL)*time.Second)

	// Handlers + middleware
	authHandler := handlers.NewAuthHandler(authService)
	documentHandler := handlers.NewDocumentHandler(documentService, statsService)
	simplificationHandler := handlers.NewSimplificationHandler(simplificationService)
	shareHandler := handlers.NewShareHandler(simplificationService)
	authMiddleware := middleware.NewAuthMiddleware(log, authService)
	rateLimiter := middleware.NewRateLimiter(log, cache, middleware.DefaultPolicy())

	router := server.NewRouter(server.RouterConfig{
		AllowedOrigins:        server.SplitOrigins(utils.GetEnv("ALLOWED_ORIGINS", "", log)),
		AuthHandler:           authHandler,
		DocumentHandler:       documentHandler,
		SimplificationHandler: simplificationHandler,
		ShareHandler:          shareHandler,
		AuthMiddleware:        authMiddleware,
		RateLimiter:           rateLimiter,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Shutdown incomplete", "error", err)
	}
}
