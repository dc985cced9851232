package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/caam1406/clawdesk/pkg/bus"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
	"github.com/caam1406/clawdesk/pkg/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memEvents struct {
	repository.ConversationRepository
	mu     sync.Mutex
	events []repository.ConversationEvent
}

func (m *memEvents) AppendEvent(ctx context.Context, ev *repository.ConversationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memEvents) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		out = append(out, ev.Kind)
	}
	return out
}

// scriptedStreamer replays a fixed conversation, or blocks until aborted when block is set.
type scriptedStreamer struct {
	mu      sync.Mutex
	block   bool
	started chan string
	edits   []string
}

func (s *scriptedStreamer) EditAgent(ctx context.Context, agentID, instruction string, h stream.Handlers) error {
	s.mu.Lock()
	s.edits = append(s.edits, agentID+":"+instruction)
	s.mu.Unlock()
	h.OnChunk(stream.ChunkEvent{Content: "ok"})
	h.OnComplete("ok")
	return nil
}

func (s *scriptedStreamer) SendMessage(ctx context.Context, conversationID, content string, h stream.Handlers) error {
	if s.block {
		if s.started != nil {
			s.started <- content
		}
		<-ctx.Done()
		return ctx.Err()
	}
	h.OnStatus(stream.StatusEvent{ConversationID: conversationID, Status: stream.StatusProcessing})
	h.OnMessage(stream.MessageEvent{ConversationID: conversationID, Role: stream.RoleAgent, Content: "reply to " + content})
	h.OnComplete("")
	return nil
}

func TestProcessPersistsPublishesAndForwards(t *testing.T) {
	events := &memEvents{}
	mb := bus.NewMessageBus()
	obs := mb.Subscribe()
	defer mb.Unsubscribe(obs)

	loop := NewLoop(&scriptedStreamer{}, events, mb, "")

	var forwarded []string
	err := loop.Process(context.Background(), bus.InboundMessage{Kind: bus.KindMessage, ConversationID: "c1", Content: "hi"}, stream.Handlers{
		OnMessage:  func(ev stream.MessageEvent) { forwarded = append(forwarded, ev.Content) },
		OnComplete: func(string) { forwarded = append(forwarded, "complete") },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"reply to hi", "complete"}, forwarded)
	assert.Equal(t, []string{repository.EventStatus, repository.EventMessage, repository.EventComplete}, events.kinds())

	var types []string
	for len(obs) > 0 {
		types = append(types, (<-obs).Type)
	}
	assert.Equal(t, []string{bus.TypeStreamStatus, bus.TypeStreamMessage, bus.TypeStreamComplete}, types)
	assert.Equal(t, 0, loop.InFlight())
}

func TestProcessEditUsesDefaultAgent(t *testing.T) {
	st := &scriptedStreamer{}
	events := &memEvents{}
	loop := NewLoop(st, events, nil, "support")

	require.NoError(t, loop.Process(context.Background(), bus.InboundMessage{Kind: bus.KindEdit, Content: "be brief"}, stream.Handlers{}))
	assert.Equal(t, []string{"support:be brief"}, st.edits)

	require.Len(t, events.events, 1)
	assert.Equal(t, AgentKey("support"), events.events[0].ConversationID)
}

func TestProcessRejectsBadMessages(t *testing.T) {
	loop := NewLoop(&scriptedStreamer{}, nil, nil, "")
	assert.Error(t, loop.Process(context.Background(), bus.InboundMessage{Kind: bus.KindMessage}, stream.Handlers{}))
	assert.Error(t, loop.Process(context.Background(), bus.InboundMessage{Kind: "poke", ConversationID: "c"}, stream.Handlers{}))
}

func TestNewerMessageAbortsOlder(t *testing.T) {
	st := &scriptedStreamer{block: true, started: make(chan string, 2)}
	loop := NewLoop(st, nil, nil, "")

	first := make(chan error, 1)
	go func() {
		first <- loop.Process(context.Background(), bus.InboundMessage{ConversationID: "c1", Content: "one"}, stream.Handlers{})
	}()
	<-st.started

	second := make(chan error, 1)
	go func() {
		second <- loop.Process(context.Background(), bus.InboundMessage{ConversationID: "c1", Content: "two"}, stream.Handlers{})
	}()

	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("first stream was not aborted")
	}

	<-st.started
	assert.True(t, loop.Cancel(ConversationKey("c1")))
	assert.ErrorIs(t, <-second, context.Canceled)
	assert.False(t, loop.Cancel(ConversationKey("c1")))
}

func TestRunConsumesInbound(t *testing.T) {
	events := &memEvents{}
	mb := bus.NewMessageBus()
	loop := NewLoop(&scriptedStreamer{}, events, mb, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.True(t, mb.PublishInbound(ctx, bus.InboundMessage{Kind: bus.KindMessage, ConversationID: "c9", Content: "ping", Source: "ws"}))
	require.Eventually(t, func() bool { return len(events.kinds()) == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestManagerBeginReplacesAndCleansUp(t *testing.T) {
	m := NewManager()
	ctx1, done1 := m.Begin(context.Background(), "k")
	ctx2, done2 := m.Begin(context.Background(), "k")

	assert.Error(t, ctx1.Err(), "older stream cancelled")
	assert.NoError(t, ctx2.Err())

	done1()
	assert.Equal(t, 1, m.Len(), "a stale done leaves the newer stream registered")

	done2()
	assert.Equal(t, 0, m.Len())
	assert.Error(t, ctx2.Err())
}
