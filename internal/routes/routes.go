package routes

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/confera-app/backend/docs" // swag generated docs
	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/controllers"
	"github.com/confera-app/backend/internal/middleware"
	"github.com/confera-app/backend/internal/services"
)

// Handlers carries the wired controllers and the services the router
// needs directly. main builds it once and hands it over.
type Handlers struct {
	Auth      *controllers.AuthController
	Meeting   *controllers.MeetingController
	Chat      *controllers.ChatController
	Recording *controllers.RecordingController
	Minutes   *controllers.MinutesController
	Health    *controllers.HealthController

	Signaling   *services.SignalingService
	JWT         *services.JWTService
	RateLimiter *services.RateLimiterService
}

func Setup(cfg *config.Config, h Handlers) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(middleware.RateLimit(h.RateLimiter))

	router.GET("/health", h.Health.Check)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.Static("/uploads", cfg.Upload.Dir)

	// Signaling socket. Auth happens inside the handler because browsers
	// cannot set headers on WebSocket upgrades; the token rides the query.
	router.GET("/ws", h.Signaling.HandleConnection)

	auth := middleware.Auth(h.JWT)

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", middleware.AuthRateLimit(h.RateLimiter), h.Auth.Register)
			authGroup.POST("/login", middleware.AuthRateLimit(h.RateLimiter), h.Auth.Login)
			authGroup.POST("/guest", middleware.AuthRateLimit(h.RateLimiter), h.Auth.Guest)
			authGroup.POST("/refresh", h.Auth.Refresh)

			authGroup.GET("/me", auth, h.Auth.Me)
			authGroup.PUT("/profile", auth, middleware.RequireRegistered(), h.Auth.UpdateProfile)
			authGroup.POST("/logout", auth, h.Auth.Logout)
		}

		meetings := api.Group("/meetings")
		meetings.Use(auth)
		{
			meetings.POST("/create", h.Meeting.Create)
			meetings.POST("/schedule", middleware.RequireRegistered(), h.Meeting.Schedule)
			meetings.GET("/my-meetings", middleware.RequireRegistered(), h.Meeting.List)
			meetings.GET("/upcoming", middleware.RequireRegistered(), h.Meeting.Upcoming)
			meetings.GET("/ice-config", h.Meeting.ICEConfig)

			meetings.GET("/:id", h.Meeting.Get)
			meetings.POST("/:id/join", h.Meeting.Join)
			meetings.POST("/:id/leave", h.Meeting.Leave)
			meetings.POST("/:id/end", h.Meeting.End)
			meetings.POST("/:id/cancel", h.Meeting.Cancel)
			meetings.PUT("/:id/settings", h.Meeting.UpdateSettings)
			meetings.GET("/:id/online", h.Meeting.Online)
			meetings.POST("/:id/transcripts", h.Meeting.AppendTranscripts)
			meetings.GET("/:id/transcripts", h.Meeting.Transcripts)
		}

		chat := api.Group("/chat")
		chat.Use(auth)
		{
			chat.POST("/send", h.Chat.Send)
			chat.POST("/upload", h.Chat.Upload)
			chat.GET("/:meetingId", h.Chat.History)
		}

		recordings := api.Group("/recordings")
		recordings.Use(auth)
		{
			recordings.GET("/my-recordings", h.Recording.MyRecordings)
			recordings.POST("/:id/start", h.Recording.Start)
			recordings.POST("/:id/stop", h.Recording.Stop)
			recordings.POST("/:id/upload", h.Recording.Upload)
		}

		minutes := api.Group("/meeting-minutes")
		minutes.Use(auth)
		{
			minutes.GET("", h.Minutes.List)
			minutes.POST("/:id/generate", middleware.RequireRegistered(), h.Minutes.Generate)
			minutes.GET("/:id", h.Minutes.Get)
			minutes.POST("/:id/resend-email", h.Minutes.ResendEmail)
		}
	}

	return router
}
