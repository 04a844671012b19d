package handlers

import (
	"context"
	"net/http"

	"github.com/campusbridge/alumni-connect/internal/middleware"
	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/services"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Publisher pushes stored messages to live sessions.
type Publisher interface {
	PublishMessage(msg *models.Message)
	Online() []string
}

type ChatHandler struct {
	chat      *services.ConversationService
	users     *services.UserDirectory
	publisher Publisher
}

func NewChatHandler(chat *services.ConversationService, users *services.UserDirectory, publisher Publisher) *ChatHandler {
	return &ChatHandler{chat: chat, users: users, publisher: publisher}
}

// ListConversations returns the caller's conversations, most recent first
func (h *ChatHandler) ListConversations(c *gin.Context) {
	convs, err := h.chat.ListConversations(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, err := h.chat.GetConversation(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// StartConversation finds or creates the conversation with participantId
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.Validation("participantId is required"))
		return
	}

	conv, err := h.chat.FindOrCreate(c.Request.Context(), middleware.CurrentUserID(c), req.ParticipantID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// GetMessages returns the history oldest first and marks messages addressed to the caller read.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.CurrentUserID(c)
	convID := c.Param("conversationId")

	msgs, err := h.chat.ListMessages(ctx, convID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	// Opening a conversation reads it; a failure here must not hide the history
	n, err := h.chat.MarkRead(ctx, convID, userID)
	if err != nil {
		logger.Warn().Err(err).Str("conversation_id", convID).Msg("Failed to mark conversation read")
	} else if n > 0 {
		if fresh, err := h.chat.ListMessages(ctx, convID, userID); err == nil {
			msgs = fresh
		} else {
			logger.Warn().Err(err).Str("conversation_id", convID).Msg("Failed to reload messages after read")
		}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage persists through the same path as the socket send-message event
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		ReceiverID      string `json:"receiverId"`
		ConversationID  string `json:"conversationId"`
		Content         string `json:"content"`
		Kind            string `json:"messageType"`
		FileURL         string `json:"fileUrl"`
		FileName        string `json:"fileName"`
		ClientMessageID string `json:"clientMessageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequest)
		return
	}
	if req.ReceiverID == "" && req.ConversationID == "" {
		c.Error(apperrors.Validation("Receiver and content are required"))
		return
	}

	msg, conv, err := h.chat.Send(c.Request.Context(), services.SendInput{
		SenderID:        middleware.CurrentUserID(c),
		ReceiverID:      req.ReceiverID,
		ConversationID:  req.ConversationID,
		Content:         req.Content,
		Kind:            services.ParseMessageKind(req.Kind),
		FileURL:         req.FileURL,
		FileName:        req.FileName,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		c.Error(err)
		return
	}

	if h.publisher != nil {
		h.publisher.PublishMessage(msg)
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg, "conversation": conv})
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	n, err := h.chat.MarkRead(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"markedRead": n})
}

func (h *ChatHandler) AvailableUsers(c *gin.Context) {
	h.respondUsers(c, func(ctx context.Context, userID string) ([]models.UserSummary, error) {
		return h.users.AvailableUsers(ctx, userID)
	})
}

func (h *ChatHandler) SearchUsers(c *gin.Context) {
	query := c.Query("query")
	h.respondUsers(c, func(ctx context.Context, userID string) ([]models.UserSummary, error) {
		return h.users.SearchUsers(ctx, userID, query)
	})
}

func (h *ChatHandler) respondUsers(c *gin.Context, load func(context.Context, string) ([]models.UserSummary, error)) {
	users, err := load(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *ChatHandler) OnlineUsers(c *gin.Context) {
	online := []string{}
	if h.publisher != nil {
		online = h.publisher.Online()
	}
	c.JSON(http.StatusOK, gin.H{"userIds": online})
}
