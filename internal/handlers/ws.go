package handlers

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
	sendBuffer   = 64
)

var (
	errSessionClosed = errors.New("websocket session closed")
	errSlowConsumer  = errors.New("websocket send buffer full")
)

// wsSession is one native websocket client. Frames are queued on send and
// written by a single writer goroutine.
type wsSession struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn, userID string) *wsSession {
	return &wsSession{
		id:     "ws:" + uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *wsSession) ID() string     { return s.id }
func (s *wsSession) UserID() string { return s.userID }

func (s *wsSession) Emit(event string, payload interface{}) error {
	return s.enqueue(event, "", payload)
}

func (s *wsSession) enqueue(event, ackID string, payload interface{}) error {
	frame, err := broker.EncodeEnvelope(event, ackID, payload)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		// A stalled reader is disconnected rather than allowed to block fan-out
		s.close()
		return errSlowConsumer
	}
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *wsSession) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *wsSession) readPump(b *broker.Broker, pongWait time.Duration, log zerolog.Logger) {
	defer s.close()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("session_id", s.id).Msg("WebSocket read failed")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env broker.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			b.Reject(s, env.Event, apperrors.Validation("Malformed frame"))
			continue
		}

		ack := dispatchEvent(b, s, env.Event, env.Data)
		if env.AckID != "" {
			if err := s.enqueue(broker.EventAck, env.AckID, ack); err != nil {
				return
			}
		}
	}
}

// WSServer serves the native websocket transport on top of the broker.
type WSServer struct {
	broker   *broker.Broker
	upgrader websocket.Upgrader
	ping     time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*wsSession
}

func NewWSServer(b *broker.Broker, opts RealtimeOptions) *WSServer {
	return &WSServer{
		broker: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		ping:     opts.pingInterval(),
		log:      logger.Component("websocket"),
		sessions: make(map[string]*wsSession),
	}
}

// Handle authenticates before upgrading, then serves the connection until it closes.
func (w *WSServer) Handle(c *gin.Context) {
	token := credentialFrom(c.Request.URL.Query(), c.Request.Header)
	userID, err := w.broker.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.Error(err)
		return
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		w.log.Warn().Err(err).Str("user_id", userID).Msg("WebSocket upgrade failed")
		return
	}

	sess := newWSSession(conn, userID)
	w.track(sess, true)
	defer w.track(sess, false)

	go sess.writePump(w.ping)
	w.broker.Connect(sess)
	defer w.broker.Disconnect(sess)

	sess.readPump(w.broker, 2*w.ping, w.log)
}

func (w *WSServer) track(s *wsSession, add bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if add {
		w.sessions[s.id] = s
	} else {
		delete(w.sessions, s.id)
	}
}

// Close ends every open websocket session.
func (w *WSServer) Close() {
	w.mu.Lock()
	sessions := make([]*wsSession, 0, len(w.sessions))
	for _, s := range w.sessions {
		sessions = append(sessions, s)
	}
	w.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
