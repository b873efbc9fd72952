package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yoockh/yoochat/internal/api/handlers"
	"github.com/yoockh/yoochat/internal/api/middleware"
)

type Deps struct {
	JWTSecret string
	Gatherer  prometheus.Gatherer

	Chat    *handlers.ChatHandler
	Profile *handlers.ProfileHandler
	Admin   *handlers.AdminHandler
	WS      *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.JWTSecret))

	auth.POST("/chat/typing", d.Chat.Typing)
	auth.POST("/chat/send", d.Chat.Send)
	auth.POST("/chat/stop", d.Chat.Stop)
	auth.GET("/chat/health", d.Chat.Health)
	auth.GET("/chat/messages", d.Chat.Messages)

	auth.GET("/profile/me", d.Profile.Me)
	auth.PUT("/profile/update", d.Profile.Update)

	// WebSocket
	auth.GET("/ws/chat", d.WS.ChatWS)

	admin := auth.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/streams", d.Admin.Streams)
	admin.GET("/streams/outcomes", d.Admin.Outcomes)
	admin.GET("/users/:user_id/streams", d.Admin.UserStreams)
}
