package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/internal/services"
	"github.com/campusbridge/alumni-connect/internal/testutil"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	socketio "github.com/googollee/go-socket.io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocketConn stands in for an accepted socket.io connection and records
// everything emitted to it.
type fakeSocketConn struct {
	id     string
	url    url.URL
	header http.Header

	mu     sync.Mutex
	ctx    interface{}
	events []string
	data   [][]interface{}
}

var _ socketio.Conn = (*fakeSocketConn)(nil)

func newFakeSocketConn(id, rawQuery string) *fakeSocketConn {
	return &fakeSocketConn{
		id:     id,
		url:    url.URL{Path: "/socket.io/", RawQuery: rawQuery},
		header: http.Header{},
	}
}

func (c *fakeSocketConn) ID() string                { return c.id }
func (c *fakeSocketConn) Close() error              { return nil }
func (c *fakeSocketConn) URL() url.URL              { return c.url }
func (c *fakeSocketConn) LocalAddr() net.Addr       { return nil }
func (c *fakeSocketConn) RemoteAddr() net.Addr      { return nil }
func (c *fakeSocketConn) RemoteHeader() http.Header { return c.header }
func (c *fakeSocketConn) Namespace() string         { return "/" }
func (c *fakeSocketConn) Join(string)               {}
func (c *fakeSocketConn) Leave(string)              {}
func (c *fakeSocketConn) LeaveAll()                 {}
func (c *fakeSocketConn) Rooms() []string           { return nil }

func (c *fakeSocketConn) Context() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *fakeSocketConn) SetContext(v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = v
}

func (c *fakeSocketConn) Emit(event string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.data = append(c.data, v)
}

func (c *fakeSocketConn) emitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *fakeSocketConn) last(event string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i] == event && len(c.data[i]) > 0 {
			return c.data[i][0], true
		}
	}
	return nil, false
}

func setupSocket(t *testing.T) (*SocketServer, *broker.Broker) {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.CreateUser(t, db, "alice", models.UserTypeStudent)
	testutil.CreateUser(t, db, "bob", models.UserTypeAlumni)

	users := services.NewUserDirectory(db)
	b := broker.New(services.NewConversationService(db, users), services.NewTokenAuthenticator(users), broker.Options{})
	s := NewSocketServer(b, RealtimeOptions{PingInterval: time.Second})
	t.Cleanup(func() { _ = s.Close() })
	return s, b
}

func TestSocket_ConnectRejectsMissingToken(t *testing.T) {
	s, b := setupSocket(t)

	c := newFakeSocketConn("1", "")
	err := s.onConnect(c)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))
	assert.Nil(t, c.Context())
	assert.Empty(t, c.emitted())
	assert.Zero(t, b.SessionCount())

	// events from the rejected connection are dropped
	raw, _ := json.Marshal(broker.SendMessage{ReceiverID: "bob", Content: "hi"})
	assert.Nil(t, s.eventHandler(broker.EventSendMessage)(c, raw))

	bad := newFakeSocketConn("2", "token=not-a-jwt")
	require.Error(t, s.onConnect(bad))
	assert.Zero(t, b.SessionCount())
}

func TestSocket_ConnectSendAndDisconnect(t *testing.T) {
	s, b := setupSocket(t)

	alice := newFakeSocketConn("1", "token="+testutil.Token(t, "alice"))
	require.NoError(t, s.onConnect(alice))
	require.IsType(t, &socketSession{}, alice.Context())
	require.NotEmpty(t, alice.emitted())
	assert.Equal(t, broker.EventConnected, alice.emitted()[0])
	assert.True(t, b.Presence().IsOnline("alice"))

	bob := newFakeSocketConn("2", "")
	bob.header.Set("Authorization", "Bearer "+testutil.Token(t, "bob"))
	require.NoError(t, s.onConnect(bob))

	raw, err := json.Marshal(broker.SendMessage{ReceiverID: "bob", Content: "hi", ClientMessageID: "c-1"})
	require.NoError(t, err)
	res := s.eventHandler(broker.EventSendMessage)(alice, raw)
	ack, ok := res.(broker.SendAck)
	require.True(t, ok, "send-message returns a SendAck, got %T", res)
	require.True(t, ack.Success, ack.Error)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "c-1", ack.ClientMessageID)
	assert.Equal(t, "hi", ack.Message.Content)

	pushed, ok := bob.last(broker.EventNewMessage)
	require.True(t, ok, "receiver gets new-message")
	msg, ok := pushed.(*models.Message)
	require.True(t, ok, "got %T", pushed)
	assert.Equal(t, ack.Message.ID, msg.ID)

	// malformed payloads still ack with the failure
	res = s.eventHandler(broker.EventSendMessage)(alice, json.RawMessage(`{"receiverId":"bob"}`))
	ack, ok = res.(broker.SendAck)
	require.True(t, ok)
	assert.False(t, ack.Success)
	assert.Equal(t, apperrors.KindValidation, ack.Code)

	s.onDisconnect(alice, "client namespace disconnect")
	assert.False(t, b.Presence().IsOnline("alice"))
	assert.True(t, b.Presence().IsOnline("bob"))
}
