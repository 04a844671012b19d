package chatclient

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type boolLog struct {
	mu  sync.Mutex
	got []bool
}

func (l *boolLog) add(v bool) {
	l.mu.Lock()
	l.got = append(l.got, v)
	l.mu.Unlock()
}

func (l *boolLog) values() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.got...)
}

func TestTypingEmitter_Debounce(t *testing.T) {
	var log boolLog
	te := NewTypingEmitter(100*time.Millisecond, log.add)

	for i := 0; i < 5; i++ {
		te.Input()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, log.values())
	assert.True(t, te.Active())

	require.Eventually(t, func() bool { return len(log.values()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, log.values())
	assert.False(t, te.Active())

	// a new burst starts a new window
	te.Input()
	te.Stop()
	te.Stop()
	assert.Equal(t, []bool{true, false, true, false}, log.values())

	time.Sleep(150 * time.Millisecond)
	assert.Len(t, log.values(), 4, "stopped burst does not expire again")
}

func TestRemoteTyping_AutoClears(t *testing.T) {
	var mu sync.Mutex
	changes := map[string][]bool{}
	rt := NewRemoteTyping(100*time.Millisecond, func(userID string, isTyping bool) {
		mu.Lock()
		changes[userID] = append(changes[userID], isTyping)
		mu.Unlock()
	})

	rt.Set("bob", true)
	rt.Set("carol", true)
	assert.True(t, rt.IsTyping("bob"))
	assert.Equal(t, []string{"bob", "carol"}, rt.Typing())

	rt.Set("carol", false)
	assert.False(t, rt.IsTyping("carol"))

	// refreshing keeps the flag alive past the first deadline
	time.Sleep(60 * time.Millisecond)
	rt.Set("bob", true)
	time.Sleep(60 * time.Millisecond)
	assert.True(t, rt.IsTyping("bob"))

	require.Eventually(t, func() bool { return !rt.IsTyping("bob") }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, changes["bob"])
	assert.Equal(t, []bool{true, false}, changes["carol"])
}

func TestRemoteTyping_Clear(t *testing.T) {
	rt := NewRemoteTyping(time.Hour, nil)
	rt.Set("bob", true)
	rt.Clear()
	assert.Empty(t, rt.Typing())
}

func TestTypingEmitter_RefreshesLongBurst(t *testing.T) {
	rt := NewRemoteTyping(200*time.Millisecond, nil)
	var log boolLog
	te := NewTypingEmitter(100*time.Millisecond, func(isTyping bool) {
		log.add(isTyping)
		rt.Set("alice", isTyping)
	})

	// keep typing for three remote timeouts
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		te.Input()
		assert.True(t, rt.IsTyping("alice"), "peer lost the typing flag mid-burst")
		time.Sleep(30 * time.Millisecond)
	}

	emits := log.values()
	assert.GreaterOrEqual(t, len(emits), 4)
	assert.LessOrEqual(t, len(emits), 8, "refreshes are bounded by the window")
	for _, v := range emits {
		assert.True(t, v)
	}

	te.Stop()
	assert.False(t, rt.IsTyping("alice"))
}
