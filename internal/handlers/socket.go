package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/rs/zerolog"
)

// socketEvents are the client events accepted over socket.io, including
// the legacy names older web clients still emit.
var socketEvents = []string{
	broker.EventJoinConversation,
	"join-chat",
	broker.EventLeaveConversation,
	broker.EventSendMessage,
	broker.EventTyping,
	broker.EventMarkRead,
	"mark-as-read",
}

// socketSession adapts a socket.io connection to broker.Session.
type socketSession struct {
	conn   socketio.Conn
	userID string
}

func (s *socketSession) ID() string     { return "sio:" + s.conn.ID() }
func (s *socketSession) UserID() string { return s.userID }

func (s *socketSession) Emit(event string, payload interface{}) error {
	s.conn.Emit(event, payload)
	return nil
}

// SocketServer serves the socket.io transport on top of the broker.
type SocketServer struct {
	server *socketio.Server
	broker *broker.Broker
	log    zerolog.Logger
}

func NewSocketServer(b *broker.Broker, opts RealtimeOptions) *SocketServer {
	check := originChecker(opts.AllowedOrigins)
	server := socketio.NewServer(&engineio.Options{
		PingInterval: opts.pingInterval(),
		PingTimeout:  2 * opts.pingInterval(),
		Transports: []transport.Transport{
			&websocket.Transport{CheckOrigin: check},
			&polling.Transport{CheckOrigin: check},
		},
	})

	s := &SocketServer{server: server, broker: b, log: logger.Component("socketio")}

	server.OnConnect("/", s.onConnect)
	for _, name := range socketEvents {
		server.OnEvent("/", name, s.eventHandler(name))
	}
	server.OnDisconnect("/", s.onDisconnect)
	server.OnError("/", func(c socketio.Conn, err error) {
		s.log.Warn().Err(err).Msg("Socket error")
	})
	return s
}

func (s *SocketServer) onConnect(c socketio.Conn) error {
	u := c.URL()
	token := credentialFrom(u.Query(), c.RemoteHeader())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userID, err := s.broker.Authenticate(ctx, token)
	if err != nil {
		s.log.Info().Str("socket_id", c.ID()).Err(err).Msg("Socket connection rejected")
		return err
	}

	sess := &socketSession{conn: c, userID: userID}
	c.SetContext(sess)
	s.broker.Connect(sess)
	return nil
}

// eventHandler returns the ack-producing handler for one client event.
// Events on connections that never authenticated are dropped.
func (s *SocketServer) eventHandler(name string) func(socketio.Conn, json.RawMessage) interface{} {
	return func(c socketio.Conn, raw json.RawMessage) interface{} {
		sess, ok := c.Context().(*socketSession)
		if !ok {
			return nil
		}
		return dispatchEvent(s.broker, sess, name, raw)
	}
}

func (s *SocketServer) onDisconnect(c socketio.Conn, reason string) {
	if sess, ok := c.Context().(*socketSession); ok {
		s.broker.Disconnect(sess)
	}
	s.log.Debug().Str("socket_id", c.ID()).Str("reason", reason).Msg("Socket closed")
}

// Serve runs the engine.io loop; call it in its own goroutine.
func (s *SocketServer) Serve() {
	if err := s.server.Serve(); err != nil {
		s.log.Error().Err(err).Msg("socket.io server stopped")
	}
}

func (s *SocketServer) Close() error {
	return s.server.Close()
}

// Handler mounts the socket.io endpoint on gin.
func (s *SocketServer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.server.ServeHTTP(c.Writer, c.Request)
	}
}
