package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/campusbridge/alumni-connect/internal/broker"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/campusbridge/alumni-connect/pkg/logger"
	"github.com/rs/zerolog"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Backoff is a bounded exponential retry schedule.
type Backoff struct {
	Base       time.Duration
	Factor     float64
	Max        time.Duration
	MaxRetries int
}

var DefaultBackoff = Backoff{Base: time.Second, Factor: 2, Max: 30 * time.Second, MaxRetries: 5}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

type ConnectionOptions struct {
	Backoff        Backoff
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	// OnStateChange is called outside the connection lock on every transition.
	OnStateChange func(State)
}

func (o *ConnectionOptions) withDefaults() {
	if o.Backoff.Base <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 10 * time.Second
	}
}

// Connection owns the single broker connection shared by every chat view.
// Views Retain it while mounted; the reconnect loop runs only while at least
// one view holds a reference.
type Connection struct {
	transport Transport
	token     string
	opts      ConnectionOptions
	log       zerolog.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	refs     int
	attempts int
	timer    *time.Timer
	lastErr  error
	closed   bool
	rooms    map[string]struct{}
	// rooms the server has confirmed on the current connection
	joined map[string]struct{}

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

func NewConnection(transport Transport, token string, opts ConnectionOptions) *Connection {
	opts.withDefaults()
	return &Connection{
		transport: transport,
		token:     token,
		opts:      opts,
		log:       logger.Component("chatclient"),
		rooms:     make(map[string]struct{}),
		joined:    make(map[string]struct{}),
		subs:      make(map[int]func(Event)),
	}
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the most recent connect failure, cleared on success.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// UserID is the identity of the live connection, empty while disconnected.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.UserID()
}

// Retain registers a view. The first reference starts connecting in the
// background; reads over REST never wait on the broker.
func (c *Connection) Retain() {
	c.mu.Lock()
	c.refs++
	start := c.refs == 1 && c.state == StateDisconnected && c.timer == nil && !c.closed
	if start {
		c.attempts = 0
	}
	c.mu.Unlock()

	if start {
		go c.connect()
	}
}

// Release drops a view. When the last view goes away any scheduled reconnect
// is cancelled; an open connection stays up for the next view.
func (c *Connection) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs > 0 {
		c.refs--
	}
	if c.refs == 0 && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Reconnect starts a fresh attempt cycle, e.g. after retries were exhausted.
func (c *Connection) Reconnect() {
	c.mu.Lock()
	start := c.state == StateDisconnected && !c.closed
	if start {
		c.attempts = 0
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
	}
	c.mu.Unlock()

	if start {
		go c.connect()
	}
}

// Close tears the shared connection down for good.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	changed := c.setState(StateDisconnected)
	c.mu.Unlock()

	c.notify(changed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe registers fn for every pushed event; the returned func unsubscribes.
func (c *Connection) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Joined reports whether the server confirmed the room on the live connection.
func (c *Connection) Joined(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[conversationID]
	return ok
}

// Join adds a conversation room. While disconnected the room is remembered and
// joined on the next connect.
func (c *Connection) Join(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := c.join(ctx, conn, conversationID); err != nil {
		if !apperrors.Is(err, apperrors.KindTransientTransport) {
			c.mu.Lock()
			delete(c.rooms, conversationID)
			c.mu.Unlock()
		}
		return err
	}
	return nil
}

func (c *Connection) Leave(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	delete(c.joined, conversationID)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()
	var ack broker.JoinAck
	return conn.Request(ctx, broker.EventLeaveConversation, broker.LeaveConversation{ConversationID: conversationID}, &ack)
}

// Emit sends a fire-and-forget event, failing fast when disconnected.
func (c *Connection) Emit(ctx context.Context, event string, payload interface{}) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	return conn.Emit(ctx, event, payload)
}

// Request sends an event and waits at most AckTimeout for its acknowledgment.
func (c *Connection) Request(ctx context.Context, event string, payload, ack interface{}) error {
	conn, err := c.live()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()
	return conn.Request(ctx, event, payload, ack)
}

func (c *Connection) live() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return nil, ErrDisconnected
	}
	return c.conn, nil
}

func (c *Connection) join(ctx context.Context, conn Conn, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()

	var ack broker.JoinAck
	if err := conn.Request(ctx, broker.EventJoinConversation, broker.JoinConversation{ConversationID: conversationID}, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return apperrors.FromKind(ack.Code, ack.Error)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.joined[conversationID] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// connect runs one attempt. Only the caller that moved the state out of
// disconnected dials, so attempts never overlap.
func (c *Connection) connect() {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	changed := c.setState(StateConnecting)
	c.mu.Unlock()
	c.notify(changed)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	conn, err := c.transport.Dial(ctx, c.token)
	cancel()

	c.mu.Lock()
	if err != nil {
		c.lastErr = err
		changed = c.setState(StateDisconnected)
		// a rejected credential is terminal
		if !apperrors.Is(err, apperrors.KindUnauthorized) {
			c.scheduleLocked()
		}
		attempts := c.attempts
		c.mu.Unlock()

		c.log.Warn().Err(err).Int("attempt", attempts).Msg("Chat connect failed")
		c.notify(changed)
		return
	}
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.joined = make(map[string]struct{})
	c.lastErr = nil
	c.attempts = 0
	changed = c.setState(StateConnected)
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	c.log.Info().Str("user_id", conn.UserID()).Int("rooms", len(rooms)).Msg("Chat connected")
	c.notify(changed)
	go c.pump(conn)

	for _, id := range rooms {
		if err := c.join(context.Background(), conn, id); err != nil {
			c.log.Warn().Err(err).Str("conversation_id", id).Msg("Rejoin failed")
		}
	}
}

func (c *Connection) pump(conn Conn) {
	for {
		select {
		case ev := <-conn.Events():
			c.dispatch(ev)
		case <-conn.Done():
			// drain frames that arrived before the drop
			for {
				select {
				case ev := <-conn.Events():
					c.dispatch(ev)
				default:
					c.dropped(conn)
					return
				}
			}
		}
	}
}

func (c *Connection) dispatch(ev Event) {
	c.subMu.RLock()
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (c *Connection) dropped(conn Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.joined = make(map[string]struct{})
	changed := c.setState(StateDisconnected)
	c.scheduleLocked()
	c.mu.Unlock()

	c.log.Warn().Msg("Chat connection lost")
	c.notify(changed)
}

// scheduleLocked arms the single reconnect timer. Caller holds c.mu.
func (c *Connection) scheduleLocked() {
	if c.closed || c.refs == 0 || c.timer != nil {
		return
	}
	if c.attempts >= c.opts.Backoff.MaxRetries {
		c.lastErr = apperrors.Transport("Gave up reconnecting", c.lastErr)
		return
	}
	delay := c.opts.Backoff.Delay(c.attempts)
	c.attempts++
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.timer != t {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()
		c.connect()
	})
	c.timer = t
}

// setState reports the new state when it differs. Caller holds c.mu.
func (c *Connection) setState(s State) *State {
	if c.state == s {
		return nil
	}
	c.state = s
	return &s
}

func (c *Connection) notify(changed *State) {
	if changed != nil && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(*changed)
	}
}
