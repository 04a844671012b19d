package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/services"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/rs/zerolog"
)

const DefaultTypingThrottle = 3 * time.Second

// Session is one live client connection, whatever the transport.
type Session interface {
	ID() string
	UserID() string
	Emit(event string, payload interface{}) error
}

// ChatService is the slice of the conversation service the broker drives.
type ChatService interface {
	Send(ctx context.Context, in services.SendInput) (*models.Message, *models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	MarkMessageRead(ctx context.Context, messageID, readerID string) (*models.Message, bool, error)
}

type Authenticator interface {
	AuthenticateCredential(ctx context.Context, credential string) (string, error)
}

// Limiter throttles sends per user. *database.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, subject string) bool
}

type Options struct {
	TypingThrottle time.Duration
	Limiter        Limiter
	Metrics        *Metrics
}

func UserRoom(userID string) string { return "user:" + userID }

func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// Broker routes events between sessions. Rooms, presence and typing state
// live for the process lifetime and change only through Connect, Disconnect and Handle.
type Broker struct {
	chat     ChatService
	auth     Authenticator
	presence *Presence
	limiter  Limiter
	metrics  *Metrics
	throttle time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu         sync.RWMutex
	sessions   map[string]Session
	rooms      map[string]map[string]Session
	membership map[string]map[string]struct{}
	lastTyping map[string]time.Time
	typing     map[string]map[string]bool // conversation id -> user id -> typing
}

func New(chat ChatService, auth Authenticator, opts Options) *Broker {
	throttle := opts.TypingThrottle
	if throttle <= 0 {
		throttle = DefaultTypingThrottle
	}
	return &Broker{
		chat:       chat,
		auth:       auth,
		presence:   NewPresence(),
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		throttle:   throttle,
		now:        time.Now,
		log:        logger.Component("broker"),
		sessions:   make(map[string]Session),
		rooms:      make(map[string]map[string]Session),
		membership: make(map[string]map[string]struct{}),
		lastTyping: make(map[string]time.Time),
		typing:     make(map[string]map[string]bool),
	}
}

func (b *Broker) Presence() *Presence { return b.presence }

// Authenticate resolves a connection credential to a user id.
func (b *Broker) Authenticate(ctx context.Context, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", apperrors.Unauthorized("Authentication required")
	}
	if b.auth == nil {
		return "", apperrors.Unauthorized("Authentication unavailable")
	}
	userID, err := b.auth.AuthenticateCredential(ctx, credential)
	if err != nil {
		if apperrors.Is(err, apperrors.KindUnauthorized) {
			return "", err
		}
		return "", apperrors.Unauthorized("Authentication failed").Wrap(err)
	}
	return userID, nil
}

// Connect registers an authenticated session. The session's first event is
// always connected, ahead of any broadcast it becomes visible to.
func (b *Broker) Connect(s Session) {
	userID := s.UserID()
	b.emit(s, EventConnected, Connected{SessionID: s.ID(), UserID: userID})

	b.mu.Lock()
	b.sessions[s.ID()] = s
	b.joinLocked(s, UserRoom(userID))
	n := len(b.sessions)
	b.mu.Unlock()

	cameOnline := b.presence.Add(userID)
	b.metrics.setSessions(n, b.presence.Count())
	b.log.Info().Str("session_id", s.ID()).Str("user_id", userID).Msg("Session connected")

	b.emit(s, EventOnlineUsers, OnlineUsers{UserIDs: b.presence.Online()})
	if cameOnline {
		b.broadcast(EventPresenceChanged, PresenceChange{UserID: userID, IsOnline: true}, "")
	}
}

// Disconnect removes the session from every room it joined.
func (b *Broker) Disconnect(s Session) {
	userID := s.UserID()

	b.mu.Lock()
	if _, ok := b.sessions[s.ID()]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.sessions, s.ID())
	for room := range b.membership[s.ID()] {
		b.leaveLocked(s.ID(), room)
	}
	delete(b.membership, s.ID())
	n := len(b.sessions)
	b.mu.Unlock()

	wentOffline := b.presence.Remove(userID)
	b.metrics.setSessions(n, b.presence.Count())
	b.log.Info().Str("session_id", s.ID()).Str("user_id", userID).Msg("Session disconnected")

	if !wentOffline {
		return
	}
	for _, convID := range b.clearTyping(userID) {
		b.toRoom(ConversationRoom(convID), EventTyping, TypingNotice{UserID: userID, ConversationID: convID}, userID)
	}
	b.broadcast(EventPresenceChanged, PresenceChange{UserID: userID, IsOnline: false}, "")
}

// Handle dispatches one decoded client event and returns the ack payload, if the event has one.
func (b *Broker) Handle(ctx context.Context, s Session, ev ClientEvent) interface{} {
	b.metrics.event(ev.EventName())

	switch e := ev.(type) {
	case JoinConversation:
		return b.join(ctx, s, e.ConversationID)
	case LeaveConversation:
		b.mu.Lock()
		b.leaveLocked(s.ID(), ConversationRoom(e.ConversationID))
		b.mu.Unlock()
		return JoinAck{Success: true, ConversationID: e.ConversationID}
	case SendMessage:
		return b.send(ctx, s, e)
	case Typing:
		b.typingEvent(s, e)
	case MarkRead:
		b.markRead(ctx, s, e)
	}
	return nil
}

// Reject reports an event that failed decoding back to its sender.
func (b *Broker) Reject(s Session, event string, err error) {
	b.metrics.event("invalid")
	b.emit(s, EventMessageError, MessageError{
		Reason: err.Error(),
		Code:   apperrors.KindOf(err),
		Event:  event,
	})
}

func (b *Broker) join(ctx context.Context, s Session, conversationID string) JoinAck {
	ok, err := b.chat.IsParticipant(ctx, conversationID, s.UserID())
	if err == nil && !ok {
		err = apperrors.Forbidden("Not a participant of this conversation")
	}
	if err != nil {
		b.emit(s, EventMessageError, MessageError{
			Reason:         err.Error(),
			Code:           apperrors.KindOf(err),
			Event:          EventJoinConversation,
			ConversationID: conversationID,
		})
		return JoinAck{ConversationID: conversationID, Error: err.Error(), Code: apperrors.KindOf(err)}
	}

	b.mu.Lock()
	b.joinLocked(s, ConversationRoom(conversationID))
	b.mu.Unlock()
	b.log.Debug().Str("session_id", s.ID()).Str("conversation_id", conversationID).Msg("Joined conversation")
	return JoinAck{Success: true, ConversationID: conversationID}
}

func (b *Broker) send(ctx context.Context, s Session, e SendMessage) SendAck {
	fail := func(err error) SendAck {
		kind := apperrors.KindOf(err)
		b.metrics.sendFailure(string(kind))
		b.emit(s, EventMessageError, MessageError{
			Reason:          err.Error(),
			Code:            kind,
			Event:           EventSendMessage,
			ConversationID:  e.ConversationID,
			ClientMessageID: e.ClientMessageID,
		})
		return SendAck{Error: err.Error(), Code: kind, ClientMessageID: e.ClientMessageID}
	}

	if b.limiter != nil && !b.limiter.Allow(ctx, s.UserID()) {
		return fail(apperrors.NewAppError(apperrors.ErrRateLimit.Code, apperrors.KindRateLimit, "Sending too fast, slow down"))
	}

	msg, conv, err := b.chat.Send(ctx, services.SendInput{
		SenderID:        s.UserID(),
		ReceiverID:      e.ReceiverID,
		ConversationID:  e.ConversationID,
		Content:         e.Content,
		Kind:            services.ParseMessageKind(e.Kind),
		FileURL:         e.FileURL,
		FileName:        e.FileName,
		ClientMessageID: e.ClientMessageID,
	})
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", s.UserID()).Msg("send-message failed")
		return fail(err)
	}

	b.PublishMessage(msg)
	return SendAck{Success: true, Message: msg, Conversation: conv, ClientMessageID: e.ClientMessageID}
}

// PublishMessage fans a stored message out to the conversation room and both
// participants' private rooms. Each session receives it at most once.
func (b *Broker) PublishMessage(msg *models.Message) {
	targets := b.collect(
		[]string{ConversationRoom(msg.ConversationID), UserRoom(msg.SenderID), UserRoom(msg.ReceiverID)},
		"",
	)
	for _, s := range targets {
		b.emit(s, EventNewMessage, msg)
	}
	b.metrics.deliveries(len(targets))
}

func (b *Broker) typingEvent(s Session, e Typing) {
	userID := s.UserID()
	room := ConversationRoom(e.ConversationID)

	b.mu.Lock()
	if _, joined := b.membership[s.ID()][room]; !joined {
		b.mu.Unlock()
		b.log.Debug().Str("user_id", userID).Str("conversation_id", e.ConversationID).Msg("Typing outside joined conversation ignored")
		return
	}

	key := userID + "|" + e.ConversationID
	now := b.now()
	if e.IsTyping {
		if last, ok := b.lastTyping[key]; ok && now.Sub(last) < b.throttle {
			b.mu.Unlock()
			return
		}
		b.lastTyping[key] = now
		if b.typing[e.ConversationID] == nil {
			b.typing[e.ConversationID] = make(map[string]bool)
		}
		b.typing[e.ConversationID][userID] = true
	} else {
		delete(b.lastTyping, key)
		if users := b.typing[e.ConversationID]; users != nil {
			delete(users, userID)
			if len(users) == 0 {
				delete(b.typing, e.ConversationID)
			}
		}
	}
	b.mu.Unlock()

	b.toRoom(room, EventTyping, TypingNotice{UserID: userID, ConversationID: e.ConversationID, IsTyping: e.IsTyping}, userID)
}

// IsTyping reports the broker's view of a user's typing state in a conversation.
func (b *Broker) IsTyping(conversationID, userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.typing[conversationID][userID]
}

func (b *Broker) clearTyping(userID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var convs []string
	for convID, users := range b.typing {
		if users[userID] {
			convs = append(convs, convID)
			delete(users, userID)
			if len(users) == 0 {
				delete(b.typing, convID)
			}
		}
		delete(b.lastTyping, userID+"|"+convID)
	}
	return convs
}

func (b *Broker) markRead(ctx context.Context, s Session, e MarkRead) {
	msg, changed, err := b.chat.MarkMessageRead(ctx, e.MessageID, s.UserID())
	if err != nil {
		b.emit(s, EventMessageError, MessageError{
			Reason: err.Error(),
			Code:   apperrors.KindOf(err),
			Event:  EventMarkRead,
		})
		return
	}
	if !changed {
		return
	}
	notice := MessageReadNotice{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReaderID:       s.UserID(),
		ReadAt:         msg.ReadAt,
	}
	for _, target := range b.collect([]string{UserRoom(msg.SenderID), UserRoom(s.UserID())}, "") {
		b.emit(target, EventMessageRead, notice)
	}
}

// Online lists the ids of users with at least one live session.
func (b *Broker) Online() []string {
	return b.presence.Online()
}

// SessionCount is the number of registered sessions.
func (b *Broker) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// InRoom reports whether the session is a member of room.
func (b *Broker) InRoom(sessionID, room string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.membership[sessionID][room]
	return ok
}

func (b *Broker) joinLocked(s Session, room string) {
	members := b.rooms[room]
	if members == nil {
		members = make(map[string]Session)
		b.rooms[room] = members
	}
	members[s.ID()] = s

	joined := b.membership[s.ID()]
	if joined == nil {
		joined = make(map[string]struct{})
		b.membership[s.ID()] = joined
	}
	joined[room] = struct{}{}
}

func (b *Broker) leaveLocked(sessionID, room string) {
	if members := b.rooms[room]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	if joined := b.membership[sessionID]; joined != nil {
		delete(joined, room)
	}
}

// collect returns the distinct sessions in rooms, skipping those owned by exceptUser.
func (b *Broker) collect(rooms []string, exceptUser string) []Session {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []Session
	for _, room := range rooms {
		for id, s := range b.rooms[room] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if exceptUser != "" && s.UserID() == exceptUser {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

func (b *Broker) toRoom(room, event string, payload interface{}, exceptUser string) {
	for _, s := range b.collect([]string{room}, exceptUser) {
		b.emit(s, event, payload)
	}
}

func (b *Broker) broadcast(event string, payload interface{}, exceptUser string) {
	b.mu.RLock()
	targets := make([]Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		if exceptUser != "" && s.UserID() == exceptUser {
			continue
		}
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.emit(s, event, payload)
	}
}

// emit never runs under b.mu; a slow session must not stall the broker.
func (b *Broker) emit(s Session, event string, payload interface{}) {
	if err := s.Emit(event, payload); err != nil {
		b.log.Warn().Err(err).Str("session_id", s.ID()).Str("event", event).Msg("Emit failed")
	}
}
