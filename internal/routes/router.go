package routes

import (
	"net/http"
	"strings"

	"github.com/campusbridge/alumni-connect/internal/handlers"
	"github.com/campusbridge/alumni-connect/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Deps is everything the router mounts. Socket, WS and Metrics are optional.
type Deps struct {
	Chat        *handlers.ChatHandler
	Auth        middleware.Authenticator
	Socket      *handlers.SocketServer
	WS          *handlers.WSServer
	Health      gin.HandlerFunc
	Metrics     http.Handler
	FrontendURL string
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(middleware.CORSMiddleware(d.FrontendURL))
	r.Use(middleware.SecurityHeaders())

	// Long-lived transports are exempt from the request rate limit
	general := middleware.GeneralRateLimit()
	r.Use(func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/socket.io/") || p == "/ws" {
			c.Next()
			return
		}
		general(c)
	})

	api := r.Group("/api")
	RegisterChatRoutes(api, d.Chat, d.Auth)

	RegisterRealtimeRoutes(r, d.Socket, d.WS)

	if d.Health != nil {
		r.GET("/health", d.Health)
	}
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	return r
}

// RegisterRealtimeRoutes mounts the socket.io and native websocket endpoints.
func RegisterRealtimeRoutes(r gin.IRouter, socket *handlers.SocketServer, ws *handlers.WSServer) {
	if socket != nil {
		r.GET("/socket.io/*any", socket.Handler())
		r.POST("/socket.io/*any", socket.Handler())
	}
	if ws != nil {
		r.GET("/ws", ws.Handle)
	}
}
