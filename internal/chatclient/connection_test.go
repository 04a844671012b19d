package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	event   string
	payload json.RawMessage
}

// responder answers Request calls; a nil reply means an empty ack.
type responder func(event string, payload json.RawMessage) (interface{}, error)

type fakeConn struct {
	userID  string
	respond responder
	events  chan Event
	done    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	sent []sent
}

func newFakeConn(userID string, respond responder) *fakeConn {
	return &fakeConn{userID: userID, respond: respond, events: make(chan Event, 16), done: make(chan struct{})}
}

func (c *fakeConn) UserID() string        { return c.userID }
func (c *fakeConn) Events() <-chan Event  { return c.events }
func (c *fakeConn) Done() <-chan struct{} { return c.done }
func (c *fakeConn) Close() error          { c.drop(); return nil }

func (c *fakeConn) drop() { c.once.Do(func() { close(c.done) }) }

func (c *fakeConn) record(event string, payload interface{}) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrDisconnected
	default:
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sent = append(c.sent, sent{event: event, payload: raw})
	c.mu.Unlock()
	return raw, nil
}

func (c *fakeConn) Emit(_ context.Context, event string, payload interface{}) error {
	_, err := c.record(event, payload)
	return err
}

func (c *fakeConn) Request(_ context.Context, event string, payload, ack interface{}) error {
	raw, err := c.record(event, payload)
	if err != nil {
		return err
	}
	var reply interface{}
	if c.respond != nil {
		if reply, err = c.respond(event, raw); err != nil {
			return err
		}
	}
	if reply == nil || ack == nil {
		return nil
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, ack)
}

func (c *fakeConn) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	c.events <- Event{Name: event, Data: data}
}

func (c *fakeConn) sentNamed(event string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, s := range c.sent {
		if s.event == event {
			out = append(out, s.payload)
		}
	}
	return out
}

type fakeTransport struct {
	respond responder

	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
}

func (f *fakeTransport) Dial(ctx context.Context, token string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.fail {
		return nil, apperrors.Transport("dial refused", errors.New("connection refused"))
	}
	c := newFakeConn("alice", f.respond)
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func joinOK(event string, payload json.RawMessage) (interface{}, error) {
	if event == broker.EventJoinConversation || event == broker.EventLeaveConversation {
		var j broker.JoinConversation
		_ = json.Unmarshal(payload, &j)
		return broker.JoinAck{Success: true, ConversationID: j.ConversationID}, nil
	}
	return nil, nil
}

func fastBackoff(maxRetries int) Backoff {
	return Backoff{Base: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond, MaxRetries: maxRetries}
}

func waitState(t *testing.T, c *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, 5*time.Millisecond, "state %s", want)
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 30*time.Second, b.Delay(5))
	assert.Equal(t, 30*time.Second, b.Delay(50))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}

func TestConnection_ReconnectRejoinsRooms(t *testing.T) {
	tr := &fakeTransport{respond: joinOK}
	var mu sync.Mutex
	var states []State
	c := NewConnection(tr, "token", ConnectionOptions{
		Backoff: fastBackoff(5),
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Retain()
	waitState(t, c, StateConnected)
	assert.Equal(t, "alice", c.UserID())

	require.NoError(t, c.Join(context.Background(), "conv-1"))
	assert.True(t, c.Joined("conv-1"))
	first := tr.last()
	assert.Len(t, first.sentNamed(broker.EventJoinConversation), 1)

	first.drop()
	require.Eventually(t, func() bool { return tr.dialCount() == 2 && c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	second := tr.last()
	require.NotSame(t, first, second)
	require.Eventually(t, func() bool { return len(second.sentNamed(broker.EventJoinConversation)) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"conversationId":"conv-1"}`, string(second.sentNamed(broker.EventJoinConversation)[0]))
	require.Eventually(t, func() bool { return c.Joined("conv-1") }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}, states)
}

func TestConnection_BoundedRetries(t *testing.T) {
	tr := &fakeTransport{fail: true}
	c := NewConnection(tr, "token", ConnectionOptions{Backoff: fastBackoff(3)})
	t.Cleanup(func() { _ = c.Close() })

	c.Retain()
	require.Eventually(t, func() bool { return tr.dialCount() == 4 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, tr.dialCount(), "initial attempt plus MaxRetries")
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, apperrors.Is(c.LastError(), apperrors.KindTransientTransport))

	tr.setFail(false)
	c.Reconnect()
	waitState(t, c, StateConnected)
	assert.NoError(t, c.LastError())
}

func TestConnection_ReleaseStopsScheduledReconnect(t *testing.T) {
	tr := &fakeTransport{fail: true}
	c := NewConnection(tr, "token", ConnectionOptions{
		Backoff: Backoff{Base: 200 * time.Millisecond, Factor: 2, Max: time.Second, MaxRetries: 5},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Retain()
	require.Eventually(t, func() bool { return tr.dialCount() == 1 && c.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	c.Release()

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
}

func TestConnection_ReleaseKeepsSharedConnection(t *testing.T) {
	tr := &fakeTransport{respond: joinOK}
	c := NewConnection(tr, "token", ConnectionOptions{Backoff: fastBackoff(5)})
	t.Cleanup(func() { _ = c.Close() })

	c.Retain()
	c.Retain()
	waitState(t, c, StateConnected)

	c.Release()
	c.Release()
	assert.Equal(t, StateConnected, c.State())
	select {
	case <-tr.last().Done():
		t.Fatal("connection closed on release")
	default:
	}

	require.NoError(t, c.Close())
	assert.Equal(t, StateDisconnected, c.State())
	<-tr.last().Done()
}

func TestConnection_FailsFastWhileDisconnected(t *testing.T) {
	c := NewConnection(&fakeTransport{fail: true}, "token", ConnectionOptions{})

	err := c.Emit(context.Background(), broker.EventTyping, broker.Typing{ConversationID: "c"})
	assert.ErrorIs(t, err, ErrDisconnected)

	err = c.Request(context.Background(), broker.EventSendMessage, broker.SendMessage{ReceiverID: "bob", Content: "hi"}, nil)
	assert.ErrorIs(t, err, ErrDisconnected)

	// rooms requested offline are remembered, not rejected
	assert.NoError(t, c.Join(context.Background(), "conv-1"))
}

func TestConnection_JoinRejected(t *testing.T) {
	tr := &fakeTransport{respond: func(event string, _ json.RawMessage) (interface{}, error) {
		return broker.JoinAck{Success: false, Error: "Not a participant", Code: apperrors.KindPermissionDenied}, nil
	}}
	c := NewConnection(tr, "token", ConnectionOptions{})
	t.Cleanup(func() { _ = c.Close() })

	c.Retain()
	waitState(t, c, StateConnected)

	err := c.Join(context.Background(), "conv-x")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPermissionDenied, apperrors.KindOf(err))
	assert.Equal(t, "Not a participant", err.Error())
}

func TestConnection_DispatchesEvents(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConnection(tr, "token", ConnectionOptions{})
	t.Cleanup(func() { _ = c.Close() })

	got := make(chan Event, 4)
	unsubscribe := c.Subscribe(func(ev Event) { got <- ev })

	c.Retain()
	waitState(t, c, StateConnected)

	tr.last().push(t, broker.EventPresenceChanged, broker.PresenceChange{UserID: "bob", IsOnline: true})
	select {
	case ev := <-got:
		assert.Equal(t, broker.EventPresenceChanged, ev.Name)
		var change broker.PresenceChange
		require.NoError(t, ev.Decode(&change))
		assert.True(t, change.IsOnline)
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}

	unsubscribe()
	tr.last().push(t, broker.EventPresenceChanged, broker.PresenceChange{UserID: "bob"})
	select {
	case <-got:
		t.Fatal("event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

type rejectingTransport struct{}

func (rejectingTransport) Dial(context.Context, string) (Conn, error) {
	return nil, apperrors.Unauthorized("Invalid or expired token")
}

func TestConnection_RejectedCredentialIsTerminal(t *testing.T) {
	c := NewConnection(rejectingTransport{}, "stale", ConnectionOptions{Backoff: fastBackoff(5)})
	t.Cleanup(func() { _ = c.Close() })

	c.Retain()
	require.Eventually(t, func() bool { return c.LastError() != nil }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(c.LastError()))
	assert.Equal(t, StateDisconnected, c.State())
}
