package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/whiskertales/backend/internal/handlers"
	"github.com/whiskertales/backend/internal/middleware"
)

type RouterConfig struct {
	AllowedOrigins []string

	AuthHandler           *handlers.AuthHandler
	DocumentHandler       *handlers.DocumentHandler
	SimplificationHandler *handlers.SimplificationHandler
	ShareHandler          *handlers.ShareHandler

	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	rl := cfg.RateLimiter

	router.GET("/healthcheck", handlers.HealthCheck)

	// Public share endpoints, IP-limited.
	router.GET("/s", rl.Limit(middleware.CapPublicView), cfg.ShareHandler.ListPublic)
	router.GET("/s/:token", rl.Limit(middleware.CapShareAccess), cfg.ShareHandler.Resolve)
	router.POST("/s/:token/download", rl.Limit(middleware.CapDownload), cfg.ShareHandler.Download)

	auth := router.Group("/auth")
	auth.Use(rl.Limit(middleware.CapAuthAttempts))
	{
		auth.POST("/register", cfg.AuthHandler.Register)
		auth.POST("/login", cfg.AuthHandler.Login)
		auth.POST("/refresh", cfg.AuthHandler.Refresh)
		auth.POST("/logout", cfg.AuthHandler.Logout)
	}

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth(), rl.Limit(middleware.CapAPI))
	{
		docs := api.Group("/documents")
		{
			docs.POST("", rl.Limit(middleware.CapUpload), cfg.DocumentHandler.Upload)
			docs.GET("", cfg.DocumentHandler.List)
			docs.GET("/stats", cfg.DocumentHandler.Stats)
			docs.GET("/:id", cfg.DocumentHandler.Get)
			docs.GET("/:id/content", cfg.DocumentHandler.Content)
			docs.GET("/:id/download", rl.Limit(middleware.CapDownload), cfg.DocumentHandler.Download)
			docs.PATCH("/:id", cfg.DocumentHandler.Update)
			docs.POST("/:id/archive", cfg.DocumentHandler.Archive)
			docs.DELETE("/:id", cfg.DocumentHandler.Delete)
			docs.POST("/:id/restore", cfg.DocumentHandler.Restore)
			docs.DELETE("/:id/force", cfg.DocumentHandler.ForceDelete)

			docs.POST("/:id/simplifications",
				rl.Limit(middleware.CapSimplifyCreate),
				rl.Limit(middleware.CapAIGenerate),
				cfg.SimplificationHandler.Create)
			docs.GET("/:id/simplifications", cfg.SimplificationHandler.ListByDocument)
		}

		sims := api.Group("/simplifications")
		{
			sims.GET("/:id", cfg.SimplificationHandler.Get)
			sims.POST("/:id/feedback", cfg.SimplificationHandler.Feedback)
			sims.POST("/:id/share", cfg.SimplificationHandler.Share)
			sims.DELETE("/:id/share", cfg.SimplificationHandler.Unshare)
		}
	}

	return router
}

// SplitOrigins parses a comma-separated origin list from the environment.
func SplitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
