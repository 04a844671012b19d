package broker

import (
	"sort"
	"sync"
)

// Presence counts live connections per user. It is process-local and
// rebuilt from connect/disconnect events only.
type Presence struct {
	mu    sync.RWMutex
	conns map[string]int
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[string]int)}
}

// Add records a connection and reports whether the user just came online.
func (p *Presence) Add(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID]++
	return p.conns[userID] == 1
}

// Remove drops a connection and reports whether the user just went offline.
func (p *Presence) Remove(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.conns[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.conns, userID)
		return true
	}
	p.conns[userID] = n - 1
	return false
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[userID] > 0
}

// Online returns the online user ids, sorted.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.conns))
	for id := range p.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
