package routes

import (
	"github.com/campusbridge/alumni-connect/internal/handlers"
	"github.com/campusbridge/alumni-connect/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterChatRoutes(r gin.IRouter, h *handlers.ChatHandler, auth middleware.Authenticator) {
	chat := r.Group("/chat")
	chat.Use(middleware.AuthMiddleware(auth))
	{
		chat.GET("/conversations", h.ListConversations)
		chat.POST("/conversations", h.StartConversation)
		chat.GET("/conversations/:id", h.GetConversation)
		chat.POST("/conversations/:id/read", h.MarkRead)
		chat.GET("/messages/:conversationId", h.GetMessages)
		chat.POST("/messages", middleware.ChatRateLimit(), h.SendMessage)
		chat.GET("/available-users", h.AvailableUsers)
		chat.GET("/search-users", h.SearchUsers)
		chat.GET("/online-users", h.OnlineUsers)
	}
}
