package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caam1406/clawdesk/pkg/bus"
	"github.com/caam1406/clawdesk/pkg/logger"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
	"github.com/caam1406/clawdesk/pkg/stream"
)

const persistTimeout = 5 * time.Second

// Streamer opens event streams against the agent API.
type Streamer interface {
	EditAgent(ctx context.Context, agentID, instruction string, h stream.Handlers) error
	SendMessage(ctx context.Context, conversationID, content string, h stream.Handlers) error
}

// Loop runs inbound work against the agent API, persisting and publishing every
// stream callback along the way.
type Loop struct {
	streamer     Streamer
	events       repository.ConversationRepository
	bus          *bus.MessageBus
	defaultAgent string
	inflight     *Manager
}

// NewLoop builds a loop. events and msgBus may be nil.
func NewLoop(streamer Streamer, events repository.ConversationRepository, msgBus *bus.MessageBus, defaultAgent string) *Loop {
	if defaultAgent == "" {
		defaultAgent = "default"
	}
	return &Loop{
		streamer:     streamer,
		events:       events,
		bus:          msgBus,
		defaultAgent: defaultAgent,
		inflight:     NewManager(),
	}
}

// Run consumes inbound messages from the bus until ctx is done. Each message is
// streamed in its own goroutine; Run waits for them before returning.
func (l *Loop) Run(ctx context.Context) error {
	if l.bus == nil {
		return errors.New("agent loop needs a message bus")
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer wg.Done()
			if err := l.Process(ctx, msg, stream.Handlers{}); err != nil && !errors.Is(err, context.Canceled) {
				logger.WarnCF("agent", "Inbound message failed", map[string]interface{}{
					"kind":            msg.Kind,
					"conversation_id": msg.ConversationID,
					"agent_id":        msg.AgentID,
					"error":           err.Error(),
				})
			}
		}(msg)
	}
}

// Process streams one message. A newer message for the same conversation or agent
// aborts the one in flight.
func (l *Loop) Process(ctx context.Context, msg bus.InboundMessage, h stream.Handlers) error {
	if msg.Kind == bus.KindEdit && msg.AgentID == "" {
		msg.AgentID = l.defaultAgent
	}

	key, err := streamKey(msg)
	if err != nil {
		return err
	}

	ctx, done := l.inflight.Begin(ctx, key)
	defer done()

	logger.DebugCF("agent", "Opening stream", map[string]interface{}{
		"key":    key,
		"source": msg.Source,
	})

	wrapped := l.observe(msg, h)
	if msg.Kind == bus.KindEdit {
		return l.streamer.EditAgent(ctx, msg.AgentID, msg.Content, wrapped)
	}
	return l.streamer.SendMessage(ctx, msg.ConversationID, msg.Content, wrapped)
}

// Cancel aborts the stream in flight for key, as returned by ConversationKey or AgentKey.
func (l *Loop) Cancel(key string) bool {
	return l.inflight.Cancel(key)
}

// InFlight reports the number of open streams.
func (l *Loop) InFlight() int {
	return l.inflight.Len()
}

func ConversationKey(id string) string { return "conversation:" + id }
func AgentKey(id string) string        { return "agent:" + id }

func streamKey(msg bus.InboundMessage) (string, error) {
	switch msg.Kind {
	case bus.KindEdit:
		return AgentKey(msg.AgentID), nil
	case bus.KindMessage, "":
		if msg.ConversationID == "" {
			return "", fmt.Errorf("conversation id is required")
		}
		return ConversationKey(msg.ConversationID), nil
	default:
		return "", fmt.Errorf("unknown inbound kind %q", msg.Kind)
	}
}

// observe wraps h so every callback is persisted and published before being forwarded.
func (l *Loop) observe(msg bus.InboundMessage, h stream.Handlers) stream.Handlers {
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = AgentKey(msg.AgentID)
	}
	base := bus.StreamUpdate{ConversationID: msg.ConversationID, AgentID: msg.AgentID}

	return stream.Handlers{
		OnStatus: func(ev stream.StatusEvent) {
			id := ev.ConversationID
			if id == "" {
				id = conversationID
			}
			l.persist(repository.ConversationEvent{ConversationID: id, AgentID: msg.AgentID, Kind: repository.EventStatus, Status: string(ev.Status)})
			u := base
			u.ConversationID, u.Status = id, string(ev.Status)
			l.publish(bus.TypeStreamStatus, u)
			if h.OnStatus != nil {
				h.OnStatus(ev)
			}
		},
		OnMessage: func(ev stream.MessageEvent) {
			id := ev.ConversationID
			if id == "" {
				id = conversationID
			}
			l.persist(repository.ConversationEvent{ConversationID: id, AgentID: msg.AgentID, Kind: repository.EventMessage, Role: string(ev.Role), Content: ev.Content})
			u := base
			u.ConversationID, u.Role, u.Content = id, string(ev.Role), ev.Content
			l.publish(bus.TypeStreamMessage, u)
			if h.OnMessage != nil {
				h.OnMessage(ev)
			}
		},
		OnChunk: func(ev stream.ChunkEvent) {
			u := base
			u.Content = ev.Content
			l.publish(bus.TypeStreamChunk, u)
			if h.OnChunk != nil {
				h.OnChunk(ev)
			}
		},
		OnComplete: func(full string) {
			l.persist(repository.ConversationEvent{ConversationID: conversationID, AgentID: msg.AgentID, Kind: repository.EventComplete, Content: full})
			u := base
			u.Content = full
			l.publish(bus.TypeStreamComplete, u)
			if h.OnComplete != nil {
				h.OnComplete(full)
			}
		},
		OnError: func(err error) {
			l.persist(repository.ConversationEvent{ConversationID: conversationID, AgentID: msg.AgentID, Kind: repository.EventError, Content: err.Error()})
			u := base
			u.Error = err.Error()
			l.publish(bus.TypeStreamError, u)
			if h.OnError != nil {
				h.OnError(err)
			}
		},
	}
}

func (l *Loop) persist(ev repository.ConversationEvent) {
	if l.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := l.events.AppendEvent(ctx, &ev); err != nil {
		logger.ErrorCF("agent", "Failed to persist stream event", map[string]interface{}{
			"conversation_id": ev.ConversationID,
			"kind":            ev.Kind,
			"error":           err.Error(),
		})
	}
}

func (l *Loop) publish(eventType string, u bus.StreamUpdate) {
	if l.bus != nil {
		l.bus.PublishStream(eventType, u)
	}
}
