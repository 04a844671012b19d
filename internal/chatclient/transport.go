package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/gorilla/websocket"
)

// ErrDisconnected is returned for sends and requests issued without a live connection.
var ErrDisconnected = apperrors.NewAppError(http.StatusServiceUnavailable, apperrors.KindTransientTransport, "Not connected to chat")

const (
	clientWriteWait = 10 * time.Second
	eventBuffer     = 128
)

// Event is one server → client frame.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return apperrors.Validation("Empty payload for " + e.Name)
	}
	return json.Unmarshal(e.Data, v)
}

// Conn is a live, authenticated connection to the broker.
type Conn interface {
	// UserID is the identity the server accepted at connect time.
	UserID() string
	Emit(ctx context.Context, event string, payload interface{}) error
	// Request emits and waits for the server acknowledgment, decoding it into ack.
	Request(ctx context.Context, event string, payload, ack interface{}) error
	Events() <-chan Event
	// Done is closed once the connection is gone for any reason.
	Done() <-chan struct{}
	Close() error
}

// Transport opens broker connections. Dial returns once the server has acknowledged the session.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// WSTransport speaks the envelope protocol of the native websocket endpoint.
type WSTransport struct {
	URL    string
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWSTransport(rawURL string) *WSTransport {
	return &WSTransport{URL: rawURL, Dialer: websocket.DefaultDialer}
}

func (t *WSTransport) Dial(ctx context.Context, token string) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), t.Header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperrors.Unauthorized("Chat connection rejected").Wrap(err)
		}
		return nil, apperrors.Transport("Chat connection failed", err)
	}

	// The first frame is the server's session acknowledgment
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	var hello broker.Envelope
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return nil, apperrors.Transport("No session acknowledgment", err)
	}
	var connected broker.Connected
	if hello.Event != broker.EventConnected || json.Unmarshal(hello.Data, &connected) != nil {
		ws.Close()
		return nil, apperrors.Transport("Unexpected first frame "+hello.Event, nil)
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &wsConn{
		ws:      ws,
		userID:  connected.UserID,
		events:  make(chan Event, eventBuffer),
		pending: make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	userID string
	writeM sync.Mutex

	events chan Event
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan json.RawMessage

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) UserID() string        { return c.userID }
func (c *wsConn) Events() <-chan Event  { return c.events }
func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Emit(ctx context.Context, event string, payload interface{}) error {
	return c.write(ctx, event, "", payload)
}

func (c *wsConn) Request(ctx context.Context, event string, payload, ack interface{}) error {
	ackID := strconv.FormatUint(c.nextID.Add(1), 10)
	reply := make(chan json.RawMessage, 1)

	c.mu.Lock()
	c.pending[ackID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, event, ackID, payload); err != nil {
		return err
	}

	select {
	case data := <-reply:
		if ack == nil {
			return nil
		}
		if err := json.Unmarshal(data, ack); err != nil {
			return fmt.Errorf("decode %s ack: %w", event, err)
		}
		return nil
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return apperrors.Transport("No acknowledgment for "+event, ctx.Err())
	}
}

func (c *wsConn) write(ctx context.Context, event, ackID string, payload interface{}) error {
	frame, err := broker.EncodeEnvelope(event, ackID, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrDisconnected
	default:
	}

	deadline := time.Now().Add(clientWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeM.Lock()
	defer c.writeM.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.shutdown()
		return apperrors.Transport("Chat write failed", err)
	}
	return nil
}

func (c *wsConn) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env broker.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		if env.Event == broker.EventAck && env.AckID != "" {
			c.mu.Lock()
			reply, ok := c.pending[env.AckID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- env.Data:
				default:
				}
			}
			continue
		}

		select {
		case c.events <- Event{Name: env.Event, Data: env.Data}:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *wsConn) Close() error {
	c.writeM.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeM.Unlock()
	c.shutdown()
	return nil
}
