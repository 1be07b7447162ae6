package routes

import (
	"net/http"
	"time"

	"collab-service/internal/api/handlers"
	"collab-service/internal/api/middleware"
	"collab-service/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the HTTP surface: the websocket entry point, the
// presence read endpoints, health and metrics.
func NewRouter(
	cfg *config.Config,
	wsHandler *handlers.WSHandler,
	roomHandler *handlers.RoomHandler,
	limiter middleware.RateLimiter,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LogAPI())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rateLimiter := middleware.NewRateLimitMiddleware(limiter)

	v1 := router.Group("/api/v1")
	{
		// The handshake authenticates via its own token query parameter,
		// so only the IP limiter runs in front of it.
		v1.GET("/ws", rateLimiter.RateLimitIP(30, time.Minute), wsHandler.Connect)

		authed := v1.Group("")
		authed.Use(middleware.Auth(cfg.JWT.Secret))
		authed.Use(rateLimiter.RateLimit(120, time.Minute))
		{
			authed.GET("/rooms/:id/members", roomHandler.GetMembers)
			authed.GET("/presence/online", roomHandler.GetOnline)
		}
	}

	return router
}
