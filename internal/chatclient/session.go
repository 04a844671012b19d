package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	"github.com/campusbridge/alumni-connect/internal/models"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/rs/zerolog"
)

type SessionOptions struct {
	TypingIdle      time.Duration
	RemoteTimeout   time.Duration
	MatchWindow     time.Duration
	CompactInterval time.Duration
	// OnChange fires after any visible change (messages, typing, presence).
	OnChange func()
}

// Session is the chat view of one conversation: it owns the timeline, the
// typing state and the presence set, fed by a shared Connection.
type Session struct {
	conn    *Connection
	history HistoryAPI
	userID  string
	peerID  string
	opts    SessionOptions
	log     zerolog.Logger

	timeline *Timeline
	typing   *TypingEmitter
	remote   *RemoteTyping

	mu     sync.RWMutex
	online map[string]bool

	unsubscribe func()
	stop        chan struct{}
	closeOnce   sync.Once
}

// OpenSession retains the connection, joins the conversation room and loads
// history. A history failure is returned but the session stays usable for
// live messages and LoadHistory can be retried.
func OpenSession(ctx context.Context, conn *Connection, history HistoryAPI, userID, conversationID, peerID string, opts SessionOptions) (*Session, error) {
	if opts.CompactInterval <= 0 {
		opts.CompactInterval = 5 * time.Second
	}

	s := &Session{
		conn:     conn,
		history:  history,
		userID:   userID,
		peerID:   peerID,
		opts:     opts,
		log:      logger.Component("chatclient").With().Str("conversation_id", conversationID).Logger(),
		timeline: NewTimeline(conversationID, opts.MatchWindow),
		online:   make(map[string]bool),
		stop:     make(chan struct{}),
	}
	s.typing = NewTypingEmitter(opts.TypingIdle, s.emitTyping)
	s.remote = NewRemoteTyping(opts.RemoteTimeout, func(string, bool) { s.changed() })
	s.unsubscribe = conn.Subscribe(s.handle)

	conn.Retain()
	if err := conn.Join(ctx, conversationID); err != nil && !apperrors.Is(err, apperrors.KindTransientTransport) {
		s.Close()
		return nil, err
	}

	go s.compactLoop()

	if err := s.LoadHistory(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Session) ConversationID() string { return s.timeline.ConversationID() }
func (s *Session) Timeline() *Timeline    { return s.timeline }

// Messages returns the visible list ordered by creation time.
func (s *Session) Messages() []Entry { return s.timeline.Messages() }

// LoadHistory fetches persisted messages and merges them with live ones.
func (s *Session) LoadHistory(ctx context.Context) error {
	s.timeline.BeginHistory()
	msgs, err := s.history.ListMessages(ctx, s.ConversationID())
	s.timeline.ApplyHistory(msgs, err)
	if err != nil {
		s.log.Warn().Err(err).Msg("History fetch failed")
	}
	s.changed()
	return err
}

// Send inserts an optimistic entry and waits for the server's ack. Sends while
// disconnected fail immediately and leave no entry behind.
func (s *Session) Send(ctx context.Context, content string) (Entry, error) {
	if strings.TrimSpace(content) == "" {
		return Entry{}, apperrors.Validation("Message content cannot be empty")
	}
	if s.conn.State() != StateConnected {
		return Entry{}, ErrDisconnected
	}

	s.typing.Stop()
	entry := s.timeline.AddOptimistic(s.userID, s.peerID, content, models.MessageKindText)
	s.changed()
	return s.deliver(ctx, entry)
}

// Retry re-sends a failed entry under its original client message id.
func (s *Session) Retry(ctx context.Context, id string) (Entry, error) {
	if s.conn.State() != StateConnected {
		return Entry{}, ErrDisconnected
	}
	entry, ok := s.timeline.Resend(id)
	if !ok {
		return Entry{}, apperrors.NotFound("No failed message " + id)
	}
	s.changed()
	return s.deliver(ctx, entry)
}

// Discard drops a failed or pending entry.
func (s *Session) Discard(id string) bool {
	ok := s.timeline.Discard(id)
	if ok {
		s.changed()
	}
	return ok
}

func (s *Session) deliver(ctx context.Context, entry Entry) (Entry, error) {
	req := broker.SendMessage{
		ConversationID:  entry.ConversationID,
		ReceiverID:      entry.ReceiverID,
		Content:         entry.Content,
		Kind:            string(entry.Kind),
		ClientMessageID: entry.ClientMessageID,
	}

	var ack broker.SendAck
	err := s.conn.Request(ctx, broker.EventSendMessage, req, &ack)
	if err == nil && !ack.Success {
		err = apperrors.FromKind(ack.Code, ack.Error)
	}
	if err == nil && ack.Message == nil {
		err = apperrors.Persistence("Send acknowledged without a message", nil)
	}
	if err != nil {
		s.timeline.Fail(entry.ID, err)
		s.changed()
		entry.Status, entry.Err = StatusFailed, err
		return entry, err
	}

	s.timeline.Apply(*ack.Message)
	s.changed()
	return entryFromMessage(*ack.Message), nil
}

// Typing records local input for the debounced typing indicator.
func (s *Session) Typing() { s.typing.Input() }

// PeerTyping reports whether the other participant is typing right now.
func (s *Session) PeerTyping() bool { return s.remote.IsTyping(s.peerID) }

func (s *Session) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[userID]
}

func (s *Session) emitTyping(isTyping bool) {
	ev := broker.Typing{ConversationID: s.ConversationID(), IsTyping: isTyping}
	if err := s.conn.Emit(context.Background(), broker.EventTyping, ev); err != nil && err != ErrDisconnected {
		s.log.Debug().Err(err).Msg("Typing emit failed")
	}
}

func (s *Session) handle(ev Event) {
	switch ev.Name {
	case broker.EventNewMessage:
		var msg models.Message
		if err := ev.Decode(&msg); err != nil {
			return
		}
		if !s.timeline.Apply(msg) {
			return
		}
		s.remote.Set(msg.SenderID, false)
		if msg.ReceiverID == s.userID && !msg.IsRead {
			s.markRead(msg.ID)
		}

	case broker.EventTyping:
		var notice broker.TypingNotice
		if err := ev.Decode(&notice); err != nil || notice.ConversationID != s.ConversationID() || notice.UserID == s.userID {
			return
		}
		s.remote.Set(notice.UserID, notice.IsTyping)
		return

	case broker.EventPresenceChanged:
		var change broker.PresenceChange
		if err := ev.Decode(&change); err != nil {
			return
		}
		s.mu.Lock()
		s.online[change.UserID] = change.IsOnline
		s.mu.Unlock()

	case broker.EventOnlineUsers:
		var users broker.OnlineUsers
		if err := ev.Decode(&users); err != nil {
			return
		}
		s.mu.Lock()
		s.online = make(map[string]bool, len(users.UserIDs))
		for _, id := range users.UserIDs {
			s.online[id] = true
		}
		s.mu.Unlock()

	case broker.EventMessageRead:
		var notice broker.MessageReadNotice
		if err := ev.Decode(&notice); err != nil || notice.ConversationID != s.ConversationID() {
			return
		}
		if !s.timeline.MarkRead(notice.MessageID) {
			return
		}

	case broker.EventMessageError:
		var msgErr broker.MessageError
		if err := ev.Decode(&msgErr); err != nil || msgErr.ClientMessageID == "" {
			return
		}
		if !s.timeline.FailByClientID(msgErr.ClientMessageID, apperrors.FromKind(msgErr.Code, msgErr.Reason)) {
			return
		}

	default:
		return
	}
	s.changed()
}

func (s *Session) markRead(messageID string) {
	if err := s.conn.Emit(context.Background(), broker.EventMarkRead, broker.MarkRead{MessageID: messageID}); err != nil && err != ErrDisconnected {
		s.log.Debug().Err(err).Str("message_id", messageID).Msg("Mark read failed")
	}
}

func (s *Session) compactLoop() {
	ticker := time.NewTicker(s.opts.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.timeline.Compact(); n > 0 {
				s.log.Debug().Int("removed", n).Msg("Collapsed duplicate messages")
				s.changed()
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

// Close leaves the room and releases the connection. The shared connection
// itself stays open.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.unsubscribe()
		s.typing.Stop()
		s.remote.Clear()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.conn.Leave(ctx, s.ConversationID()); err != nil {
			s.log.Debug().Err(err).Msg("Leave failed")
		}
		s.conn.Release()
	})
}
