package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a two-party thread. ParticipantA < ParticipantB always holds,
// so the pair is stored once regardless of who started it.
type Conversation struct {
	ID             string `gorm:"primaryKey;type:text" json:"id"`
	ParticipantKey string `gorm:"type:text;not null;uniqueIndex:idx_conversations_pair" json:"-"`
	ParticipantA   string `gorm:"type:text;not null;index" json:"-"`
	ParticipantB   string `gorm:"type:text;not null;index" json:"-"`

	LastMessageID *string   `gorm:"type:text" json:"lastMessageId"`
	LastMessageAt time.Time `gorm:"index" json:"lastMessageAt"`

	// Per-participant unread counters, aligned with ParticipantA/B
	UnreadA int64 `gorm:"default:0;not null" json:"-"`
	UnreadB int64 `gorm:"default:0;not null" json:"-"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Populated for responses
	Participants []UserSummary `gorm:"-" json:"participants"`
	LastMessage  *Message      `gorm:"-" json:"lastMessage"`
	UnreadCount  int64         `gorm:"-" json:"unreadCount"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// ParticipantIDs returns both participant ids in stored order.
func (c *Conversation) ParticipantIDs() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// UnreadFor returns the unread counter of userID.
func (c *Conversation) UnreadFor(userID string) int64 {
	switch userID {
	case c.ParticipantA:
		return c.UnreadA
	case c.ParticipantB:
		return c.UnreadB
	}
	return 0
}

// UnreadColumn names the counter column belonging to userID.
func (c *Conversation) UnreadColumn(userID string) string {
	if c.ParticipantA == userID {
		return "unread_a"
	}
	return "unread_b"
}

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile:
		return true
	}
	return false
}

type Message struct {
	ID             string `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string `gorm:"type:text;not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID       string `gorm:"type:text;not null;index;uniqueIndex:idx_messages_sender_client,priority:1" json:"senderId"`
	ReceiverID     string `gorm:"type:text;not null;index:idx_messages_receiver_read,priority:1" json:"receiverId"`

	Content  string      `gorm:"type:text;not null" json:"content"`
	Kind     MessageKind `gorm:"type:text;default:'text';not null" json:"messageType"`
	FileURL  string      `json:"fileUrl,omitempty"`
	FileName string      `json:"fileName,omitempty"`

	IsRead bool       `gorm:"default:false;index:idx_messages_receiver_read,priority:2" json:"isRead"`
	ReadAt *time.Time `json:"readAt"`

	CreatedAt time.Time      `gorm:"index:idx_messages_conversation_created,priority:2" json:"createdAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Client-generated idempotency key, unique per sender
	ClientMessageID *string `gorm:"type:text;uniqueIndex:idx_messages_sender_client,priority:2" json:"clientMessageId,omitempty"`

	Sender *UserSummary `gorm:"-" json:"sender,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		// v7 ids sort by creation time, which breaks created_at ties in send order
		id, genErr := uuid.NewV7()
		if genErr != nil {
			return genErr
		}
		m.ID = id.String()
	}
	return
}
