package broker

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/campusbridge/alumni-connect/internal/models"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
)

// Client → server events.
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
	EventMarkRead          = "mark-read"
)

// Server → client events.
const (
	EventNewMessage      = "new-message"
	EventPresenceChanged = "presence-changed"
	EventOnlineUsers     = "online-users"
	EventMessageError    = "message-error"
	EventMessageRead     = "message-read"
	EventConnected       = "connected"
	EventAck             = "ack"
)

// ClientEvent is one of the typed client → server payloads.
type ClientEvent interface {
	EventName() string
	Validate() error
}

type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

func (JoinConversation) EventName() string { return EventJoinConversation }

func (e JoinConversation) Validate() error {
	if strings.TrimSpace(e.ConversationID) == "" {
		return apperrors.Validation("conversationId is required")
	}
	return nil
}

type LeaveConversation struct {
	ConversationID string `json:"conversationId"`
}

func (LeaveConversation) EventName() string { return EventLeaveConversation }

func (e LeaveConversation) Validate() error {
	if strings.TrimSpace(e.ConversationID) == "" {
		return apperrors.Validation("conversationId is required")
	}
	return nil
}

type SendMessage struct {
	ConversationID  string `json:"conversationId,omitempty"`
	ReceiverID      string `json:"receiverId"`
	Content         string `json:"content"`
	Kind            string `json:"messageType,omitempty"`
	FileURL         string `json:"fileUrl,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

func (SendMessage) EventName() string { return EventSendMessage }

func (e SendMessage) Validate() error {
	if strings.TrimSpace(e.ConversationID) == "" && strings.TrimSpace(e.ReceiverID) == "" {
		return apperrors.Validation("conversationId or receiverId is required")
	}
	if strings.TrimSpace(e.Content) == "" {
		return apperrors.Validation("Message content cannot be empty")
	}
	return nil
}

type Typing struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func (Typing) EventName() string { return EventTyping }

func (e Typing) Validate() error {
	if strings.TrimSpace(e.ConversationID) == "" {
		return apperrors.Validation("conversationId is required")
	}
	return nil
}

type MarkRead struct {
	MessageID string `json:"messageId"`
}

func (MarkRead) EventName() string { return EventMarkRead }

func (e MarkRead) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return apperrors.Validation("messageId is required")
	}
	return nil
}

// DecodeClientEvent turns a named raw payload into its typed event and validates it.
// join/leave also accept a bare conversation id string.
func DecodeClientEvent(name string, raw json.RawMessage) (ClientEvent, error) {
	var ev ClientEvent
	switch name {
	case EventJoinConversation, "join-chat":
		var e JoinConversation
		if err := decodeIDOrObject(raw, &e.ConversationID, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventLeaveConversation:
		var e LeaveConversation
		if err := decodeIDOrObject(raw, &e.ConversationID, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventSendMessage:
		var e SendMessage
		if err := decodeObject(raw, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTyping:
		var e Typing
		if err := decodeObject(raw, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventMarkRead, "mark-as-read":
		var e MarkRead
		if err := decodeIDOrObject(raw, &e.MessageID, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, apperrors.Validation("Unknown event: " + name)
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeObject(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return apperrors.Validation("Event payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Validation("Malformed event payload")
	}
	return nil
}

func decodeIDOrObject(raw json.RawMessage, id *string, dst interface{}) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*id = s
		return nil
	}
	return decodeObject(raw, dst)
}

// SendAck is the acknowledgment returned for send-message.
type SendAck struct {
	Success         bool                 `json:"success"`
	Message         *models.Message      `json:"message,omitempty"`
	Conversation    *models.Conversation `json:"conversation,omitempty"`
	Error           string               `json:"error,omitempty"`
	Code            apperrors.Kind       `json:"code,omitempty"`
	ClientMessageID string               `json:"clientMessageId,omitempty"`
}

// JoinAck is the acknowledgment returned for join/leave.
type JoinAck struct {
	Success        bool           `json:"success"`
	ConversationID string         `json:"conversationId"`
	Error          string         `json:"error,omitempty"`
	Code           apperrors.Kind `json:"code,omitempty"`
}

type TypingNotice struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type PresenceChange struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type OnlineUsers struct {
	UserIDs []string `json:"userIds"`
}

type MessageError struct {
	Reason          string         `json:"reason"`
	Code            apperrors.Kind `json:"code"`
	Event           string         `json:"event,omitempty"`
	ConversationID  string         `json:"conversationId,omitempty"`
	ClientMessageID string         `json:"clientMessageId,omitempty"`
}

type MessageReadNotice struct {
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	ReaderID       string     `json:"readerId"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

type Connected struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// Envelope is the frame format of the native websocket transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// EncodeEnvelope marshals payload into a websocket frame.
func EncodeEnvelope(event, ackID string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data, AckID: ackID})
}
