package stream

import (
	"strings"
	"sync"
)

// Accumulator folds a stream into loading/error/content state that callers can poll,
// for consumers that render progress rather than react to each callback.
type Accumulator struct {
	mu       sync.RWMutex
	loading  bool
	err      error
	content  strings.Builder
	statuses []StatusEvent
	messages []MessageEvent
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Run resets the state, invokes fn with handlers that record into the accumulator and
// then forward to next, and clears the loading flag when fn returns.
func (a *Accumulator) Run(next Handlers, fn func(Handlers) error) error {
	a.mu.Lock()
	a.loading = true
	a.err = nil
	a.content.Reset()
	a.statuses = nil
	a.messages = nil
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.loading = false
		a.mu.Unlock()
	}()

	return fn(a.wrap(next))
}

func (a *Accumulator) wrap(next Handlers) Handlers {
	return Handlers{
		OnStatus: func(ev StatusEvent) {
			a.mu.Lock()
			a.statuses = append(a.statuses, ev)
			a.mu.Unlock()
			if next.OnStatus != nil {
				next.OnStatus(ev)
			}
		},
		OnMessage: func(ev MessageEvent) {
			a.mu.Lock()
			a.messages = append(a.messages, ev)
			a.mu.Unlock()
			if next.OnMessage != nil {
				next.OnMessage(ev)
			}
		},
		OnChunk: func(ev ChunkEvent) {
			a.mu.Lock()
			a.content.WriteString(ev.Content)
			a.mu.Unlock()
			if next.OnChunk != nil {
				next.OnChunk(ev)
			}
		},
		OnComplete: func(full string) {
			a.mu.Lock()
			a.content.Reset()
			a.content.WriteString(full)
			a.mu.Unlock()
			next.complete(full)
		},
		OnError: func(err error) {
			a.mu.Lock()
			a.err = err
			a.mu.Unlock()
			next.fail(err)
		},
	}
}

func (a *Accumulator) Loading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loading
}

func (a *Accumulator) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

func (a *Accumulator) Content() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.content.String()
}

func (a *Accumulator) Statuses() []StatusEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]StatusEvent(nil), a.statuses...)
}

func (a *Accumulator) Messages() []MessageEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]MessageEvent(nil), a.messages...)
}
