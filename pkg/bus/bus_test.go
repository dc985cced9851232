package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestObserversReceiveEvents(t *testing.T) {
	mb := NewMessageBus()
	a := mb.Subscribe()
	b := mb.Subscribe()
	assert.Equal(t, 2, mb.Observers())

	mb.PublishStream(TypeStreamStatus, StreamUpdate{ConversationID: "c1", Status: "active"})
	mb.PublishSignupState(SignupState{SessionID: "s1", Phase: "awaiting"})

	for _, ch := range []chan BusEvent{a, b} {
		ev := <-ch
		assert.Equal(t, TypeStreamStatus, ev.Type)
		require.NotNil(t, ev.Stream)
		assert.Equal(t, "active", ev.Stream.Status)

		ev = <-ch
		assert.Equal(t, TypeSignupState, ev.Type)
		require.NotNil(t, ev.SignupState)
		assert.Equal(t, "s1", ev.SignupState.SessionID)
	}

	mb.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open, "unsubscribe closes the channel")
	assert.Equal(t, 1, mb.Observers())
}

func TestSlowObserverDoesNotBlock(t *testing.T) {
	mb := NewMessageBus()
	ch := mb.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			mb.PublishSignupLaunch(SignupLaunch{SessionID: "s"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full observer")
	}
	assert.Len(t, ch, cap(ch))
	mb.Unsubscribe(ch)
}

func TestInboundQueue(t *testing.T) {
	mb := NewMessageBus()
	obs := mb.Subscribe()
	defer mb.Unsubscribe(obs)

	ctx := context.Background()
	require.True(t, mb.PublishInbound(ctx, InboundMessage{Kind: KindMessage, ConversationID: "c1", Content: "hi"}))

	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "c1", msg.ConversationID)

	ev := <-obs
	assert.Equal(t, TypeInbound, ev.Type)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, ok = mb.ConsumeInbound(cctx)
	assert.False(t, ok)

	mb.Close()
	mb.Close()
	_, ok = mb.ConsumeInbound(ctx)
	assert.False(t, ok, "closed queue reports no message")
}

func TestPublishInboundRespectsContext(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()
	for i := 0; i < cap(mb.inbound); i++ {
		require.True(t, mb.PublishInbound(ctx, InboundMessage{Kind: KindEdit}))
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.False(t, mb.PublishInbound(cctx, InboundMessage{Kind: KindEdit}))
}
