package chatclient

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultTypingIdle    = 2 * time.Second
	DefaultRemoteTimeout = 4 * time.Second
	// DefaultTypingRefresh keeps refreshes landing inside the peer's remote
	// timeout even when the server's 3s throttle drops every other one.
	DefaultTypingRefresh = 1500 * time.Millisecond
)

// TypingEmitter debounces local keystrokes: typing(true) at the start of a
// burst and at most once per refresh window while it lasts, typing(false)
// after idle of inactivity.
type TypingEmitter struct {
	emit    func(isTyping bool)
	idle    time.Duration
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	active   bool
	lastEmit time.Time
	timer    *time.Timer
	gen      uint64
}

func NewTypingEmitter(idle time.Duration, emit func(isTyping bool)) *TypingEmitter {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	refresh := DefaultTypingRefresh
	if idle < refresh {
		refresh = idle
	}
	return &TypingEmitter{emit: emit, idle: idle, refresh: refresh, now: time.Now}
}

// Input records a keystroke.
func (t *TypingEmitter) Input() {
	t.mu.Lock()
	now := t.now()
	send := !t.active || now.Sub(t.lastEmit) >= t.refresh
	if send {
		t.lastEmit = now
	}
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.idle, func() { t.expire(gen) })
	t.mu.Unlock()

	if send {
		t.emit(true)
	}
}

// Stop ends a burst immediately, e.g. after the message is sent.
func (t *TypingEmitter) Stop() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if wasActive {
		t.emit(false)
	}
}

func (t *TypingEmitter) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *TypingEmitter) expire(gen uint64) {
	t.mu.Lock()
	if t.gen != gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	t.emit(false)
}

// RemoteTyping tracks which peers are typing. A flag clears itself when no
// refreshing event arrives within the timeout.
type RemoteTyping struct {
	timeout  time.Duration
	onChange func(userID string, isTyping bool)

	mu     sync.Mutex
	timers map[string]*remoteFlag
	gen    uint64
}

type remoteFlag struct {
	timer *time.Timer
	gen   uint64
}

func NewRemoteTyping(timeout time.Duration, onChange func(userID string, isTyping bool)) *RemoteTyping {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteTyping{timeout: timeout, onChange: onChange, timers: make(map[string]*remoteFlag)}
}

func (r *RemoteTyping) Set(userID string, isTyping bool) {
	r.mu.Lock()
	prev, was := r.timers[userID]
	if was {
		prev.timer.Stop()
		delete(r.timers, userID)
	}
	if isTyping {
		r.gen++
		gen := r.gen
		r.timers[userID] = &remoteFlag{
			timer: time.AfterFunc(r.timeout, func() { r.expire(userID, gen) }),
			gen:   gen,
		}
	}
	r.mu.Unlock()

	if was != isTyping && r.onChange != nil {
		r.onChange(userID, isTyping)
	}
}

func (r *RemoteTyping) IsTyping(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[userID]
	return ok
}

// Typing lists the users currently flagged, sorted.
func (r *RemoteTyping) Typing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.timers))
	for id := range r.timers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *RemoteTyping) Clear() {
	r.mu.Lock()
	for id, flag := range r.timers {
		flag.timer.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
}

func (r *RemoteTyping) expire(userID string, gen uint64) {
	r.mu.Lock()
	if flag, ok := r.timers[userID]; !ok || flag.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.timers, userID)
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(userID, false)
	}
}
