package signup

import "sync"

// MessageSource delivers window message events to subscribers.
type MessageSource interface {
	Subscribe(fn func(Message)) Subscription
}

// Subscription is owned by whoever subscribed; Dispose stops delivery and is idempotent.
type Subscription interface {
	Dispose()
}

// Relay is a process-wide MessageSource. Every live subscriber sees every dispatched
// message, so concurrent handshakes all receive each other's traffic.
type Relay struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(Message)
}

func NewRelay() *Relay {
	return &Relay{subs: make(map[uint64]func(Message))}
}

func (r *Relay) Subscribe(fn func(Message)) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	return &relaySubscription{relay: r, id: id}
}

// Dispatch delivers msg to all current subscribers and returns how many received it.
func (r *Relay) Dispatch(msg Message) int {
	r.mu.RLock()
	fns := make([]func(Message), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
	return len(fns)
}

// Len returns the number of live subscriptions.
func (r *Relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

type relaySubscription struct {
	relay *Relay
	id    uint64
	once  sync.Once
}

func (s *relaySubscription) Dispose() {
	s.once.Do(func() {
		s.relay.mu.Lock()
		delete(s.relay.subs, s.id)
		s.relay.mu.Unlock()
	})
}
