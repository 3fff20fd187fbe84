package router

import (
	"time"

	"github.com/NomadCrew/nomad-realtime/config"
	_ "github.com/NomadCrew/nomad-realtime/docs"
	"github.com/NomadCrew/nomad-realtime/handlers"
	"github.com/NomadCrew/nomad-realtime/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Dependencies struct holds all dependencies required for setting up routes.
type Dependencies struct {
	Config              *config.Config
	JWTValidator        middleware.Validator
	RedisClient         redis.Cmdable // nil disables handshake rate limiting
	HealthHandler       *handlers.HealthHandler
	NotificationHandler *handlers.NotificationHandler
	RealtimeHandler     *handlers.RealtimeHandler
	InternalHandler     *handlers.InternalHandler
}

// SetupRouter configures and returns the main Gin engine with all routes defined.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Global Middleware
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))
	r.Use(middleware.SecurityHeadersMiddleware(deps.Config.IsProduction()))

	// Health and Metrics Routes
	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if !deps.Config.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Realtime transports. Only handshakes count against the rate limit;
	// long-polls and event posts carry a session id.
	realtime := r.Group("/realtime")
	if deps.RedisClient != nil && deps.Config.RateLimit.HandshakesPerMinute > 0 {
		window := time.Duration(deps.Config.RateLimit.WindowSeconds) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		realtime.Use(handshakesOnly(middleware.HandshakeRateLimiter(deps.RedisClient, deps.Config.RateLimit.HandshakesPerMinute, window)))
	}
	{
		realtime.GET("", deps.RealtimeHandler.Connect)
		realtime.POST("", deps.RealtimeHandler.OpenPolling)
		realtime.DELETE("", deps.RealtimeHandler.Disconnect)
	}

	v1 := r.Group("/v1")
	{
		notifications := v1.Group("/notifications")

		// Reads answer anonymous callers with an empty inbox.
		optional := middleware.OptionalAuth(deps.JWTValidator)
		notifications.GET("", optional, deps.NotificationHandler.ListNotifications)
		notifications.GET("/unread-count", optional, deps.NotificationHandler.GetUnreadCount)

		authRoutes := notifications.Group("")
		authRoutes.Use(middleware.AuthMiddleware(deps.JWTValidator))
		{
			authRoutes.PATCH("/read-all", deps.NotificationHandler.MarkAllRead)
			authRoutes.PATCH("/:id/read", deps.NotificationHandler.MarkRead)
			authRoutes.DELETE("/:id", deps.NotificationHandler.DeleteNotification)
			authRoutes.DELETE("", deps.NotificationHandler.DeleteNotifications)
		}
	}

	internal := r.Group("/internal")
	internal.Use(middleware.InternalAuth(deps.Config.Server.InternalAPIToken))
	{
		internal.POST("/notifications", deps.InternalHandler.CreateNotification)
		internal.POST("/notifications/batch", deps.InternalHandler.CreateNotifications)
		internal.POST("/identities", deps.InternalHandler.LinkIdentity)
	}

	return r
}

// handshakesOnly applies mw to requests that open a new realtime session.
func handshakesOnly(mw gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("sid") != "" || c.Request.Method == "DELETE" {
			c.Next()
			return
		}
		mw(c)
	}
}
