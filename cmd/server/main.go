package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	_ "github.com/confera-app/backend/docs" // swag generated docs
	"github.com/confera-app/backend/internal/cache"
	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/controllers"
	"github.com/confera-app/backend/internal/gemini"
	"github.com/confera-app/backend/internal/logger"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/queue"
	"github.com/confera-app/backend/internal/redis"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/routes"
	"github.com/confera-app/backend/internal/scheduler"
	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/pkg/database"
)

// @title Confera Backend API
// @version 1.0
// @description Signaling and coordination server for the Confera conferencing platform

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg := config.Load()
	logger.Setup(cfg.Logging)

	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	if err := database.Migrate(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	redisClient := redis.NewClient(&cfg.Redis)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close Redis client")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared infrastructure.
	cacheRepo := cache.NewCacheRepository(redisClient)
	presence := cache.NewPresenceStore(redisClient)
	meetingRepo := repository.NewMeetingRepository(db)

	queueManager := queue.NewManager(redisClient, queue.DefaultPolicies())
	reminderScheduler := scheduler.NewReminderScheduler(queueManager)

	// Services.
	jwtService := services.NewJWTService(cfg.JWT)
	authService := services.NewAuthService(db, jwtService, cacheRepo)
	rateLimiter := services.NewRateLimiterService(redisClient, cfg.RateLimit)
	meetingService := services.NewMeetingService(db, meetingRepo, cacheRepo, reminderScheduler, presence)
	chatService := services.NewChatService(db, meetingRepo, cfg.Upload)
	iceService := services.NewICEService(cfg.ICE)
	emailService := services.NewEmailService(cfg.Email)
	geminiClient := gemini.NewClient(cfg.Gemini)
	minutesService := services.NewMinutesService(db, meetingRepo, geminiClient, queueManager)
	recordingService := services.NewRecordingService(db, meetingRepo, queueManager, cfg.Upload)

	hub := models.NewSignalingHub()
	go hub.Run()
	signalingService := services.NewSignalingService(hub, jwtService, meetingService, chatService, presence, cfg.CORS.ClientURL)

	workerService := services.NewWorkerService(queueManager, meetingRepo, emailService, minutesService, recordingService, cfg.CORS.ClientURL)
	workerService.Register()
	queueManager.Start(ctx)

	router := routes.Setup(cfg, routes.Handlers{
		Auth:      controllers.NewAuthController(authService),
		Meeting:   controllers.NewMeetingController(meetingService, iceService, presence, signalingService),
		Chat:      controllers.NewChatController(chatService, signalingService),
		Recording: controllers.NewRecordingController(recordingService),
		Minutes:   controllers.NewMinutesController(minutesService, cfg.Server.MinutesTimeout),
		Health:    controllers.NewHealthController(db, redisClient),

		Signaling:   signalingService,
		JWT:         jwtService,
		RateLimiter: rateLimiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.GinMode,
		}).Info("Confera backend starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Forced server shutdown")
	}
	queueManager.Stop()

	logrus.Info("Server stopped")
}
