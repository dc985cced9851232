package agent

import (
	"context"
	"sync"
)

// Manager tracks the stream in flight per key so a newer request can abort an
// older one.
type Manager struct {
	mu      sync.Mutex
	next    uint64
	running map[string]inflight
}

type inflight struct {
	id     uint64
	cancel context.CancelFunc
}

func NewManager() *Manager {
	return &Manager{running: make(map[string]inflight)}
}

// Begin registers a stream for key, cancelling any previous one, and returns its
// context along with the func that must be called when the stream ends.
func (m *Manager) Begin(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if prev, ok := m.running[key]; ok {
		prev.cancel()
	}
	m.next++
	id := m.next
	m.running[key] = inflight{id: id, cancel: cancel}
	m.mu.Unlock()

	return ctx, func() {
		m.mu.Lock()
		if cur, ok := m.running[key]; ok && cur.id == id {
			delete(m.running, key)
		}
		m.mu.Unlock()
		cancel()
	}
}

// Cancel aborts the stream registered for key.
func (m *Manager) Cancel(key string) bool {
	m.mu.Lock()
	cur, ok := m.running[key]
	if ok {
		delete(m.running, key)
	}
	m.mu.Unlock()

	if ok {
		cur.cancel()
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}
