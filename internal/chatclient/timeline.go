package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/campusbridge/alumni-connect/internal/models"
	"github.com/campusbridge/alumni-connect/pkg/utils"
	"github.com/google/uuid"
)

type TimelineState int

const (
	TimelineIdle TimelineState = iota
	TimelineLoadingHistory
	TimelineReady
)

func (s TimelineState) String() string {
	switch s {
	case TimelineLoadingHistory:
		return "loading-history"
	case TimelineReady:
		return "ready"
	}
	return "idle"
}

type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSent    EntryStatus = "sent"
	StatusFailed  EntryStatus = "failed"
)

// DefaultMatchWindow bounds how far an authoritative timestamp may drift from
// an optimistic one and still be treated as the same send.
const DefaultMatchWindow = 5 * time.Second

// Entry is one visible message. Optimistic entries carry a temp- id until the
// server's copy replaces them.
type Entry struct {
	ID              string             `json:"id"`
	ClientMessageID string             `json:"clientMessageId,omitempty"`
	ConversationID  string             `json:"conversationId"`
	SenderID        string             `json:"senderId"`
	ReceiverID      string             `json:"receiverId"`
	Content         string             `json:"content"`
	Kind            models.MessageKind `json:"messageType"`
	CreatedAt       time.Time          `json:"createdAt"`
	IsRead          bool               `json:"isRead"`
	Status          EntryStatus        `json:"status"`
	Err             error              `json:"-"`
}

func (e Entry) Optimistic() bool { return e.Status != StatusSent }

func entryFromMessage(m models.Message) Entry {
	e := Entry{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Kind:           m.Kind,
		CreatedAt:      m.CreatedAt,
		IsRead:         m.IsRead,
		Status:         StatusSent,
	}
	if m.ClientMessageID != nil {
		e.ClientMessageID = *m.ClientMessageID
	}
	return e
}

// Timeline is the merged message list of one conversation.
type Timeline struct {
	conversationID string
	window         time.Duration
	now            func() time.Time

	mu         sync.Mutex
	state      TimelineState
	entries    []Entry
	historyErr error
}

func NewTimeline(conversationID string, window time.Duration) *Timeline {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Timeline{conversationID: conversationID, window: window, now: time.Now}
}

func (t *Timeline) ConversationID() string { return t.conversationID }

func (t *Timeline) State() TimelineState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HistoryError is the last history fetch failure, nil once a fetch succeeds.
func (t *Timeline) HistoryError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.historyErr
}

func (t *Timeline) BeginHistory() {
	t.mu.Lock()
	t.state = TimelineLoadingHistory
	t.mu.Unlock()
}

// ApplyHistory merges a fetched page. A failed fetch keeps every entry already
// merged and leaves the timeline retryable.
func (t *Timeline) ApplyHistory(msgs []models.Message, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.historyErr = err
		if t.state == TimelineLoadingHistory {
			t.state = TimelineIdle
		}
		return
	}
	for _, m := range msgs {
		t.mergeLocked(m)
	}
	t.sortLocked()
	t.historyErr = nil
	t.state = TimelineReady
}

// AddOptimistic inserts a pending local send and returns it.
func (t *Timeline) AddOptimistic(senderID, receiverID, content string, kind models.MessageKind) Entry {
	if kind == "" {
		kind = models.MessageKindText
	}
	now := t.now()
	e := Entry{
		ID:              utils.TempID(now),
		ClientMessageID: uuid.NewString(),
		ConversationID:  t.conversationID,
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         content,
		Kind:            kind,
		CreatedAt:       now,
		Status:          StatusPending,
	}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.sortLocked()
	t.mu.Unlock()
	return e
}

// Apply merges an authoritative message from an ack or a push. It reports
// false for messages of other conversations.
func (t *Timeline) Apply(m models.Message) bool {
	if m.ConversationID != t.conversationID || m.ID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mergeLocked(m)
	t.sortLocked()
	return true
}

func (t *Timeline) mergeLocked(m models.Message) {
	incoming := entryFromMessage(m)

	if i := t.indexLocked(m.ID); i >= 0 {
		t.entries[i] = incoming
		return
	}
	if i := t.matchOptimisticLocked(incoming); i >= 0 {
		t.entries[i] = incoming
		return
	}
	t.entries = append(t.entries, incoming)
}

// matchOptimisticLocked finds the pending entry an authoritative message
// confirms: by client message id when the message carries one, otherwise the
// oldest pending entry from the same sender with equal content inside the
// match window. A message keyed to another send never claims an entry.
func (t *Timeline) matchOptimisticLocked(in Entry) int {
	if in.ClientMessageID != "" {
		for i, e := range t.entries {
			if e.Optimistic() && e.ClientMessageID == in.ClientMessageID {
				return i
			}
		}
		return -1
	}

	best := -1
	for i, e := range t.entries {
		if e.Status != StatusPending || e.SenderID != in.SenderID || e.Content != in.Content {
			continue
		}
		if absDuration(e.CreatedAt.Sub(in.CreatedAt)) > t.window {
			continue
		}
		if best < 0 || e.CreatedAt.Before(t.entries[best].CreatedAt) {
			best = i
		}
	}
	return best
}

// Fail marks a pending entry failed, keeping it visible for a manual retry.
func (t *Timeline) Fail(id string, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(id)
	if i < 0 || !t.entries[i].Optimistic() {
		return false
	}
	t.entries[i].Status = StatusFailed
	t.entries[i].Err = err
	return true
}

// FailByClientID is Fail keyed by the idempotency key the server echoes back.
func (t *Timeline) FailByClientID(clientMessageID string, err error) bool {
	t.mu.Lock()
	id := ""
	for _, e := range t.entries {
		if e.Optimistic() && e.ClientMessageID == clientMessageID {
			id = e.ID
			break
		}
	}
	t.mu.Unlock()
	if id == "" {
		return false
	}
	return t.Fail(id, err)
}

// Resend moves a failed entry back to pending and returns it.
func (t *Timeline) Resend(id string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(id)
	if i < 0 || t.entries[i].Status != StatusFailed {
		return Entry{}, false
	}
	t.entries[i].Status = StatusPending
	t.entries[i].Err = nil
	return t.entries[i], true
}

// Discard removes an optimistic entry.
func (t *Timeline) Discard(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(id)
	if i < 0 || !t.entries[i].Optimistic() {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// MarkRead flags a message read after a read receipt.
func (t *Timeline) MarkRead(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(messageID)
	if i < 0 || t.entries[i].IsRead {
		return false
	}
	t.entries[i].IsRead = true
	return true
}

// Compact collapses duplicate authoritative ids and drops optimistic entries
// whose client id is already confirmed. It returns the number removed.
func (t *Timeline) Compact() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(t.entries))
	confirmed := make(map[string]struct{})
	for _, e := range t.entries {
		if !e.Optimistic() && e.ClientMessageID != "" {
			confirmed[e.ClientMessageID] = struct{}{}
		}
	}

	kept := t.entries[:0]
	removed := 0
	for _, e := range t.entries {
		if _, dup := seen[e.ID]; dup {
			removed++
			continue
		}
		if e.Optimistic() && e.ClientMessageID != "" {
			if _, ok := confirmed[e.ClientMessageID]; ok {
				removed++
				continue
			}
		}
		seen[e.ID] = struct{}{}
		kept = append(kept, e)
	}
	t.entries = kept
	return removed
}

// Messages returns a snapshot ordered by creation time.
func (t *Timeline) Messages() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Timeline) indexLocked(id string) int {
	for i, e := range t.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
