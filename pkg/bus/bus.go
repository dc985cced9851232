package bus

import (
	"context"
	"sync"
	"time"
)

// BusEvent represents an observed event for dashboard streaming.
type BusEvent struct {
	Type         string          `json:"type"`
	Inbound      *InboundMessage `json:"inbound,omitempty"`
	Stream       *StreamUpdate   `json:"stream,omitempty"`
	SignupLaunch *SignupLaunch   `json:"signup_launch,omitempty"`
	SignupState  *SignupState    `json:"signup_state,omitempty"`
	Time         time.Time       `json:"time"`
}

type MessageBus struct {
	inbound   chan InboundMessage
	observers []chan BusEvent
	obsMu     sync.RWMutex
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:   make(chan InboundMessage, 100),
		observers: make([]chan BusEvent, 0),
	}
}

// Subscribe returns a channel that receives copies of all bus events.
func (mb *MessageBus) Subscribe() chan BusEvent {
	ch := make(chan BusEvent, 50)
	mb.obsMu.Lock()
	mb.observers = append(mb.observers, ch)
	mb.obsMu.Unlock()
	return ch
}

// Unsubscribe removes an observer channel.
func (mb *MessageBus) Unsubscribe(ch chan BusEvent) {
	mb.obsMu.Lock()
	defer mb.obsMu.Unlock()
	for i, obs := range mb.observers {
		if obs == ch {
			mb.observers = append(mb.observers[:i], mb.observers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Observers returns the number of subscribed observers.
func (mb *MessageBus) Observers() int {
	mb.obsMu.RLock()
	defer mb.obsMu.RUnlock()
	return len(mb.observers)
}

func (mb *MessageBus) notifyObservers(event BusEvent) {
	mb.obsMu.RLock()
	defer mb.obsMu.RUnlock()
	for _, obs := range mb.observers {
		select {
		case obs <- event:
		default:
			// Non-blocking: skip slow observers
		}
	}
}

// PublishInbound queues work for the agent loop. It returns false when ctx ends
// before the queue has room.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	select {
	case mb.inbound <- msg:
	case <-ctx.Done():
		return false
	}
	mb.notifyObservers(BusEvent{
		Type:    TypeInbound,
		Inbound: &msg,
		Time:    time.Now(),
	})
	return true
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishStream fans a stream update out under the given event type.
func (mb *MessageBus) PublishStream(eventType string, update StreamUpdate) {
	mb.notifyObservers(BusEvent{
		Type:   eventType,
		Stream: &update,
		Time:   time.Now(),
	})
}

func (mb *MessageBus) PublishSignupLaunch(launch SignupLaunch) {
	mb.notifyObservers(BusEvent{
		Type:         TypeSignupLaunch,
		SignupLaunch: &launch,
		Time:         time.Now(),
	})
}

func (mb *MessageBus) PublishSignupState(state SignupState) {
	mb.notifyObservers(BusEvent{
		Type:        TypeSignupState,
		SignupState: &state,
		Time:        time.Now(),
	})
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.inbound)
	})
}
