package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/campusbridge/alumni-connect/internal/models"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/campusbridge/alumni-connect/pkg/utils"
	"gorm.io/gorm"
)

var errClientMessageReplay = errors.New("client message id already used")

// AppendInput is a message to add to an existing conversation.
type AppendInput struct {
	ConversationID  string
	SenderID        string
	Content         string
	Kind            models.MessageKind
	FileURL         string
	FileName        string
	ClientMessageID string
}

// SendInput is a message addressed by receiver; ConversationID is optional.
type SendInput struct {
	SenderID        string
	ReceiverID      string
	ConversationID  string
	Content         string
	Kind            models.MessageKind
	FileURL         string
	FileName        string
	ClientMessageID string
}

// ConversationService owns conversation and message persistence.
type ConversationService struct {
	db        *gorm.DB
	users     *UserDirectory
	maxLength int
	now       func() time.Time
}

func NewConversationService(db *gorm.DB, users *UserDirectory) *ConversationService {
	return &ConversationService{
		db:        db,
		users:     users,
		maxLength: DefaultMaxMessageLength,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// SetMaxMessageLength overrides the text length limit.
func (s *ConversationService) SetMaxMessageLength(n int) {
	if n > 0 {
		s.maxLength = n
	}
}

// FindOrCreate returns the unique conversation between userA and userB,
// creating it on first contact. Argument order does not matter.
func (s *ConversationService) FindOrCreate(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, apperrors.Validation("Participant id is required")
	}
	if userA == userB {
		return nil, apperrors.Validation("Cannot chat with yourself")
	}
	if err := s.users.RequireAll(ctx, userA, userB); err != nil {
		return nil, err
	}

	conv, err := s.findOrCreatePair(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	return conv, s.hydrate(ctx, []*models.Conversation{conv}, userA)
}

func (s *ConversationService) findOrCreatePair(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	key := utils.PairKey(userA, userB)
	lo, hi := userA, userB
	if hi < lo {
		lo, hi = hi, lo
	}

	// One retry: a unique violation means a concurrent caller created the row first.
	for attempt := 0; attempt < 2; attempt++ {
		conv, err := s.findByPairKey(ctx, key)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Persistence("Failed to load conversation", err)
		}

		conv = &models.Conversation{
			ParticipantKey: key,
			ParticipantA:   lo,
			ParticipantB:   hi,
			LastMessageAt:  s.now(),
		}
		err = s.db.WithContext(ctx).Create(conv).Error
		if err == nil {
			logger.Info().Str("conversation_id", conv.ID).Str("pair", key).Msg("Conversation created")
			return conv, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.Persistence("Failed to create conversation", err)
		}
		logger.Debug().Str("pair", key).Msg("Conversation create raced, re-reading")
	}
	return nil, apperrors.Persistence("Failed to create conversation", gorm.ErrDuplicatedKey)
}

// findByPairKey also sees soft-deleted rows, since the unique index does;
// a deleted conversation is restored instead of shadowing the pair forever.
func (s *ConversationService) findByPairKey(ctx context.Context, key string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Unscoped().Where("participant_key = ?", key).First(&conv).Error; err != nil {
		return nil, err
	}
	if conv.DeletedAt.Valid {
		if err := s.db.WithContext(ctx).Unscoped().Model(&conv).UpdateColumn("deleted_at", nil).Error; err != nil {
			return nil, err
		}
		conv.DeletedAt = gorm.DeletedAt{}
	}
	return &conv, nil
}

// AppendMessage stores a message and advances the conversation summary in one transaction.
func (s *ConversationService) AppendMessage(ctx context.Context, in AppendInput) (*models.Message, *models.Conversation, error) {
	if in.Kind == "" {
		in.Kind = models.MessageKindText
	}
	content, err := SanitizeMessageContent(in.Content, in.Kind, s.maxLength)
	if err != nil {
		return nil, nil, err
	}
	return s.appendSanitized(ctx, in, content)
}

func (s *ConversationService) appendSanitized(ctx context.Context, in AppendInput, content string) (*models.Message, *models.Conversation, error) {
	var (
		msg  models.Message
		conv models.Conversation
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conv, "id = ?", in.ConversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("Conversation not found")
			}
			return apperrors.Persistence("Failed to load conversation", err)
		}
		if !conv.HasParticipant(in.SenderID) {
			return apperrors.Forbidden("Sender is not a participant of this conversation")
		}

		if in.ClientMessageID != "" {
			err := tx.Where("sender_id = ? AND client_message_id = ?", in.SenderID, in.ClientMessageID).First(&msg).Error
			if err == nil {
				return errClientMessageReplay
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Persistence("Failed to load message", err)
			}
		}

		// Keep persisted order strictly increasing within the conversation
		createdAt := s.now()
		if !createdAt.After(conv.LastMessageAt) {
			createdAt = conv.LastMessageAt.Add(time.Microsecond)
		}

		receiverID := conv.Other(in.SenderID)
		msg = models.Message{
			ConversationID: conv.ID,
			SenderID:       in.SenderID,
			ReceiverID:     receiverID,
			Content:        content,
			Kind:           in.Kind,
			FileURL:        strings.TrimSpace(in.FileURL),
			FileName:       strings.TrimSpace(in.FileName),
			CreatedAt:      createdAt,
		}
		if in.ClientMessageID != "" {
			clientID := in.ClientMessageID
			msg.ClientMessageID = &clientID
		}
		if err := tx.Create(&msg).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errClientMessageReplay
			}
			return apperrors.Persistence("Failed to save message", err)
		}

		unread := conv.UnreadColumn(receiverID)
		res := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).UpdateColumns(map[string]interface{}{
			"last_message_id": msg.ID,
			"last_message_at": createdAt,
			unread:            gorm.Expr(unread + " + 1"),
			"updated_at":      s.now(),
		})
		if res.Error != nil {
			return apperrors.Persistence("Failed to update conversation", res.Error)
		}
		if res.RowsAffected != 1 {
			return apperrors.Persistence("Failed to update conversation", gorm.ErrRecordNotFound)
		}
		return tx.First(&conv, "id = ?", conv.ID).Error
	})

	if errors.Is(err, errClientMessageReplay) {
		return s.replayed(ctx, in)
	}
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.Persistence("Failed to save message", err)
		}
		logger.Warn().Err(err).Str("conversation_id", in.ConversationID).Str("sender_id", in.SenderID).Msg("Append message failed")
		return nil, nil, err
	}

	if err := s.hydrateMessages(ctx, []*models.Message{&msg}); err != nil {
		return nil, nil, err
	}
	conv.LastMessage = &msg
	if err := s.hydrate(ctx, []*models.Conversation{&conv}, in.SenderID); err != nil {
		return nil, nil, err
	}
	return &msg, &conv, nil
}

// replayed returns the message already stored under the sender's client id.
func (s *ConversationService) replayed(ctx context.Context, in AppendInput) (*models.Message, *models.Conversation, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).Where("sender_id = ? AND client_message_id = ?", in.SenderID, in.ClientMessageID).First(&msg).Error
	if err != nil {
		return nil, nil, apperrors.Persistence("Failed to load message", err)
	}
	if msg.ConversationID != in.ConversationID {
		return nil, nil, apperrors.Validation("Client message id already used in another conversation")
	}

	conv, err := s.loadConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.hydrateMessages(ctx, []*models.Message{&msg}); err != nil {
		return nil, nil, err
	}
	if err := s.hydrate(ctx, []*models.Conversation{conv}, in.SenderID); err != nil {
		return nil, nil, err
	}
	logger.Debug().Str("message_id", msg.ID).Str("client_message_id", in.ClientMessageID).Msg("Replayed send")
	return &msg, conv, nil
}

// Send resolves (or creates) the conversation between sender and receiver and appends the message.
// REST and live transports both go through here so they persist identical records.
func (s *ConversationService) Send(ctx context.Context, in SendInput) (*models.Message, *models.Conversation, error) {
	if in.Kind == "" {
		in.Kind = models.MessageKindText
	}
	// Validate before touching storage so a rejected send leaves nothing behind
	content, err := SanitizeMessageContent(in.Content, in.Kind, s.maxLength)
	if err != nil {
		return nil, nil, err
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		if in.ReceiverID == "" {
			return nil, nil, apperrors.Validation("Receiver is required")
		}
		conv, err := s.FindOrCreate(ctx, in.SenderID, in.ReceiverID)
		if err != nil {
			return nil, nil, err
		}
		convID = conv.ID
	} else if in.ReceiverID != "" {
		conv, err := s.loadConversation(ctx, convID)
		if err != nil {
			return nil, nil, err
		}
		if conv.HasParticipant(in.SenderID) && conv.Other(in.SenderID) != in.ReceiverID {
			return nil, nil, apperrors.Validation("Receiver is not the other participant of this conversation")
		}
	}

	return s.appendSanitized(ctx, AppendInput{
		ConversationID:  convID,
		SenderID:        in.SenderID,
		Kind:            in.Kind,
		FileURL:         in.FileURL,
		FileName:        in.FileName,
		ClientMessageID: in.ClientMessageID,
	}, content)
}

// MarkRead marks every unread message addressed to readerID in the conversation as read
// and resets the reader's unread counter. Returns the number of messages flipped.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	conv, err := s.participantConversation(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}

	var affected int64
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conv.ID, readerID, false).
			Updates(map[string]interface{}{"is_read": true, "read_at": now})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected

		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			UpdateColumn(conv.UnreadColumn(readerID), 0).Error
	})
	if err != nil {
		return 0, apperrors.Persistence("Failed to mark messages read", err)
	}
	return affected, nil
}

// MarkMessageRead marks one message read on behalf of its receiver.
// changed is false when the message was already read.
func (s *ConversationService) MarkMessageRead(ctx context.Context, messageID, readerID string) (msg *models.Message, changed bool, err error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperrors.NotFound("Message not found")
		}
		return nil, false, apperrors.Persistence("Failed to load message", err)
	}
	if m.ReceiverID != readerID {
		return nil, false, apperrors.Forbidden("Only the receiver can mark a message read")
	}
	if m.IsRead {
		return &m, false, nil
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).Where("id = ? AND is_read = ?", m.ID, false).
			Updates(map[string]interface{}{"is_read": true, "read_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true

		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", m.ConversationID).Error; err != nil {
			return err
		}
		col := conv.UnreadColumn(readerID)
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			UpdateColumn(col, gorm.Expr("CASE WHEN "+col+" > 0 THEN "+col+" - 1 ELSE 0 END")).Error
	})
	if err != nil {
		return nil, false, apperrors.Persistence("Failed to mark message read", err)
	}

	if changed {
		m.IsRead = true
		m.ReadAt = &now
	}
	return &m, changed, nil
}

// ListConversations returns userID's conversations, most recent activity first.
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	var convs []*models.Conversation
	err := s.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("last_message_at desc").
		Find(&convs).Error
	if err != nil {
		return nil, apperrors.Persistence("Failed to fetch conversations", err)
	}
	if err := s.hydrate(ctx, convs, userID); err != nil {
		return nil, err
	}
	return convs, nil
}

// GetConversation returns NotFound when the conversation is missing or requesterID is not in it.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, apperrors.NotFound("Conversation not found")
	}
	if err := s.hydrate(ctx, []*models.Conversation{conv}, requesterID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListMessages returns the conversation history oldest first.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, requesterID string) ([]*models.Message, error) {
	conv, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	var msgs []*models.Message
	err = s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at asc").Order("id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, apperrors.Persistence("Failed to fetch messages", err)
	}
	if err := s.hydrateMessages(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return conv.HasParticipant(userID), nil
}

func (s *ConversationService) loadConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Conversation not found")
		}
		return nil, apperrors.Persistence("Failed to load conversation", err)
	}
	return &conv, nil
}

func (s *ConversationService) participantConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.Forbidden("Not a participant of this conversation")
	}
	return conv, nil
}

// hydrate fills participants, last message and the viewer's unread count.
func (s *ConversationService) hydrate(ctx context.Context, convs []*models.Conversation, viewerID string) error {
	if len(convs) == 0 {
		return nil
	}

	var userIDs, lastIDs []string
	for _, c := range convs {
		userIDs = append(userIDs, c.ParticipantA, c.ParticipantB)
		if c.LastMessageID != nil && c.LastMessage == nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}

	summaries, err := s.users.Summaries(ctx, userIDs)
	if err != nil {
		return err
	}

	last := make(map[string]*models.Message, len(lastIDs))
	if len(lastIDs) > 0 {
		var msgs []*models.Message
		if err := s.db.WithContext(ctx).Where("id IN ?", lastIDs).Find(&msgs).Error; err != nil {
			return apperrors.Persistence("Failed to load last messages", err)
		}
		for _, m := range msgs {
			if sender, ok := summaries[m.SenderID]; ok {
				sender := sender
				m.Sender = &sender
			}
			last[m.ID] = m
		}
	}

	for _, c := range convs {
		c.Participants = c.Participants[:0]
		for _, id := range c.ParticipantIDs() {
			if u, ok := summaries[id]; ok {
				c.Participants = append(c.Participants, u)
			} else {
				c.Participants = append(c.Participants, models.UserSummary{ID: id})
			}
		}
		if c.LastMessageID != nil && c.LastMessage == nil {
			c.LastMessage = last[*c.LastMessageID]
		}
		c.UnreadCount = c.UnreadFor(viewerID)
	}
	return nil
}

func (s *ConversationService) hydrateMessages(ctx context.Context, msgs []*models.Message) error {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	summaries, err := s.users.Summaries(ctx, ids)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if u, ok := summaries[m.SenderID]; ok {
			u := u
			m.Sender = &u
		}
	}
	return nil
}
